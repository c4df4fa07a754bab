package model

import "time"

// StoredItem is one unit held by the market reeve for its owner.
type StoredItem struct {
	ID           int64     `json:"id"`
	ContainerID  int64     `json:"container_id"`
	OwnerPersona string    `json:"owner_persona"`
	AreaResRef   string    `json:"area_resref"`
	ItemData     []byte    `json:"-"`
	ItemName     string    `json:"item_name,omitempty"`
	ResRef       string    `json:"resref,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// ItemSummary is the listing view of a stored item.
type ItemSummary struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	ResRef   string    `json:"resref,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

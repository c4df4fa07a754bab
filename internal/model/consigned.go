package model

import "time"

// ConsignedItem is an opaque serialized item supplied by a player, held in a
// shop vault until it is sold or returned.
type ConsignedItem struct {
	ID           int64     `json:"id"`
	ShopID       int64     `json:"shop_id"`
	ProductID    int64     `json:"product_id"`
	OwnerPersona string    `json:"owner_persona,omitempty"`
	ItemData     []byte    `json:"-"`
	Quantity     int       `json:"quantity"`
	ItemName     string    `json:"item_name,omitempty"`
	ResRef       string    `json:"resref,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// ShopKind distinguishes definition-driven NPC shops from player-run shops.
type ShopKind string

// Shop kinds.
const (
	ShopKindNpc    ShopKind = "npc"
	ShopKindPlayer ShopKind = "player"
)

// Valid reports whether k is a known shop kind.
func (k ShopKind) Valid() bool {
	return k == ShopKindNpc || k == ShopKindPlayer
}

// ShopRecord is the persisted form of one shop and its products.
type ShopRecord struct {
	ID                 int64         `json:"id"`
	Tag                string        `json:"tag"`
	DisplayName        string        `json:"display_name,omitempty"`
	ShopkeeperTag      string        `json:"shopkeeper_tag"`
	Kind               ShopKind      `json:"kind"`
	RestockMinMinutes  int           `json:"restock_min_minutes"`
	RestockMaxMinutes  int           `json:"restock_max_minutes"`
	ManualRestock      bool          `json:"manual_restock"`
	MarkupPercent      int           `json:"markup_percent"`
	AcceptedCategories []int         `json:"accepted_categories,omitempty"`
	DefinitionHash     string        `json:"definition_hash,omitempty"`
	NextRestockAt      *time.Time    `json:"next_restock_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Products           []ShopProduct `json:"products"`
}

// ShopProduct is one sellable line in a shop.
//
// CurrentStock stays within [0, MaxStock] unless MaxStock is zero, which marks
// an unbounded or consignment slot.
type ShopProduct struct {
	ID               int64           `json:"id"`
	ShopID           int64           `json:"shop_id"`
	ResRef           string          `json:"resref"`
	DisplayName      string          `json:"display_name,omitempty"`
	Price            int64           `json:"price"`
	CurrentStock     int             `json:"current_stock"`
	MaxStock         int             `json:"max_stock"`
	RestockAmount    int             `json:"restock_amount"`
	IsPlayerManaged  bool            `json:"is_player_managed"`
	SortOrder        int             `json:"sort_order"`
	BaseItemType     *int            `json:"base_item_type,omitempty"`
	LocalVariables   []LocalVariable `json:"local_variables,omitempty"`
	Appearance       *Appearance     `json:"appearance,omitempty"`
	ConsignorPersona string          `json:"consignor_persona,omitempty"`
}

// Bounded reports whether the product has a stock ceiling.
func (p ShopProduct) Bounded() bool {
	return p.MaxStock > 0
}

// LocalVariable is a key/value annotation copied onto materialized items.
type LocalVariable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Local variable types.
const (
	LocalVarInt    = "int"
	LocalVarFloat  = "float"
	LocalVarString = "string"
)

// Appearance is a simple-model appearance override.
type Appearance struct {
	ModelType         int `json:"model_type"`
	SimpleModelNumber int `json:"simple_model_number"`
}

// NewSimpleAppearance returns an appearance override. Negative arguments are a
// caller bug.
func NewSimpleAppearance(modelType, simpleModelNumber int) *Appearance {
	if modelType < 0 {
		panic(fmt.Sprintf("model: negative model type %d", modelType))
	}
	if simpleModelNumber < 0 {
		panic(fmt.Sprintf("model: negative simple model number %d", simpleModelNumber))
	}
	return &Appearance{ModelType: modelType, SimpleModelNumber: simpleModelNumber}
}

// ShopDefinition is the static, file-backed description of a shop.
type ShopDefinition struct {
	Tag                string              `json:"tag"`
	DisplayName        string              `json:"display_name"`
	ShopkeeperTag      string              `json:"shopkeeper_tag"`
	Kind               ShopKind            `json:"kind"`
	Restock            RestockDefinition   `json:"restock"`
	MarkupPercent      int                 `json:"markup_percent"`
	AcceptedCategories []int               `json:"accepted_categories,omitempty"`
	Products           []ProductDefinition `json:"products"`
}

// RestockDefinition is a shop's restock window in minutes.
type RestockDefinition struct {
	MinMinutes int  `json:"min_minutes"`
	MaxMinutes int  `json:"max_minutes"`
	Manual     bool `json:"manual"`
}

// ProductDefinition describes one product line in a ShopDefinition.
type ProductDefinition struct {
	ResRef         string          `json:"resref"`
	DisplayName    string          `json:"display_name,omitempty"`
	Price          int64           `json:"price"`
	MaxStock       int             `json:"max_stock"`
	InitialStock   *int            `json:"initial_stock,omitempty"`
	RestockAmount  int             `json:"restock_amount"`
	SortOrder      int             `json:"sort_order"`
	BaseItemType   *int            `json:"base_item_type,omitempty"`
	LocalVariables []LocalVariable `json:"local_variables,omitempty"`
	Appearance     *Appearance     `json:"appearance,omitempty"`
}

// Validate checks a definition before it is persisted.
func (d *ShopDefinition) Validate() error {
	if strings.TrimSpace(d.Tag) == "" {
		return fmt.Errorf("shop tag is required")
	}
	if strings.TrimSpace(d.ShopkeeperTag) == "" {
		return fmt.Errorf("shop %s: shopkeeper tag is required", d.Tag)
	}
	if d.Kind == "" {
		d.Kind = ShopKindNpc
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("shop %s: unknown kind %q", d.Tag, d.Kind)
	}
	if d.Restock.MinMinutes < 0 || d.Restock.MaxMinutes < d.Restock.MinMinutes {
		return fmt.Errorf("shop %s: invalid restock window [%d, %d]", d.Tag, d.Restock.MinMinutes, d.Restock.MaxMinutes)
	}
	if d.MarkupPercent < -100 {
		return fmt.Errorf("shop %s: markup %d%% would produce negative prices", d.Tag, d.MarkupPercent)
	}

	for i, p := range d.Products {
		if strings.TrimSpace(p.ResRef) == "" {
			return fmt.Errorf("shop %s: product %d: resref is required", d.Tag, i)
		}
		if p.Price < 0 {
			return fmt.Errorf("shop %s: product %s: negative price", d.Tag, p.ResRef)
		}
		if p.MaxStock < 0 || p.RestockAmount < 0 {
			return fmt.Errorf("shop %s: product %s: negative stock settings", d.Tag, p.ResRef)
		}
		if p.InitialStock != nil {
			if *p.InitialStock < 0 || (p.MaxStock > 0 && *p.InitialStock > p.MaxStock) {
				return fmt.Errorf("shop %s: product %s: initial stock %d outside [0, %d]", d.Tag, p.ResRef, *p.InitialStock, p.MaxStock)
			}
		}
	}
	return nil
}

// StartingStock is the stock a freshly defined product begins with.
func (p ProductDefinition) StartingStock() int {
	if p.InitialStock != nil {
		return *p.InitialStock
	}
	return p.MaxStock
}

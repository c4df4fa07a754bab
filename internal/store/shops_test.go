package store

import (
	"context"
	"testing"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/model"
)

func smithyDefinition() model.ShopDefinition {
	return model.ShopDefinition{
		Tag:           "smithy",
		DisplayName:   "The Anvil",
		ShopkeeperTag: "smith_npc",
		Kind:          model.ShopKindNpc,
		Restock:       model.RestockDefinition{MinMinutes: 30, MaxMinutes: 60},
		MarkupPercent: 10,
		Products: []model.ProductDefinition{
			{ResRef: "iron_sword", Price: 100, MaxStock: 5, RestockAmount: 2, SortOrder: 1,
				LocalVariables: []model.LocalVariable{{Name: "quality", Type: model.LocalVarInt, Value: "2"}}},
			{ResRef: "iron_shield", Price: 80, MaxStock: 3, RestockAmount: 1, SortOrder: 2},
		},
	}
}

func TestUpsertShopDefinitionCreates(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	shop, err := UpsertShopDefinition(ctx, database, smithyDefinition(), "hash-1")
	if err != nil {
		t.Fatalf("UpsertShopDefinition: %v", err)
	}
	if shop.Tag != "smithy" || shop.ShopkeeperTag != "smith_npc" || shop.DefinitionHash != "hash-1" {
		t.Errorf("unexpected shop %+v", shop)
	}
	if len(shop.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(shop.Products))
	}
	sword := shop.Products[0]
	if sword.ResRef != "iron_sword" || sword.CurrentStock != 5 {
		t.Errorf("expected full sword stock, got %+v", sword)
	}
	if len(sword.LocalVariables) != 1 || sword.LocalVariables[0].Name != "quality" {
		t.Errorf("expected local variables to round trip, got %v", sword.LocalVariables)
	}
}

func TestUpsertShopDefinitionKeepsStockAndClamps(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	shop, _ := UpsertShopDefinition(ctx, database, smithyDefinition(), "hash-1")
	swordID := shop.Products[0].ID
	TryConsumeStock(ctx, database, swordID, 1)

	def := smithyDefinition()
	def.Products[0].Price = 120
	def.Products[1].MaxStock = 2
	def.Products = append(def.Products, model.ProductDefinition{ResRef: "iron_helm", Price: 50, MaxStock: 1})

	shop, err := UpsertShopDefinition(ctx, database, def, "hash-2")
	if err != nil {
		t.Fatalf("UpsertShopDefinition: %v", err)
	}
	if len(shop.Products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(shop.Products))
	}

	for _, p := range shop.Products {
		switch p.ResRef {
		case "iron_sword":
			if p.ID != swordID || p.CurrentStock != 4 || p.Price != 120 {
				t.Errorf("expected sword to keep id and stock 4 at price 120, got %+v", p)
			}
		case "iron_shield":
			if p.CurrentStock != 2 {
				t.Errorf("expected shield stock clamped to 2, got %d", p.CurrentStock)
			}
		}
	}
}

func TestUpsertShopDefinitionRemovesDroppedProducts(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	UpsertShopDefinition(ctx, database, smithyDefinition(), "hash-1")

	def := smithyDefinition()
	def.Products = def.Products[:1]
	shop, err := UpsertShopDefinition(ctx, database, def, "hash-2")
	if err != nil {
		t.Fatalf("UpsertShopDefinition: %v", err)
	}
	if len(shop.Products) != 1 || shop.Products[0].ResRef != "iron_sword" {
		t.Errorf("expected only the sword to remain, got %+v", shop.Products)
	}
}

func TestUpsertShopDefinitionLeavesPlayerProducts(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	shop, _ := UpsertShopDefinition(ctx, database, smithyDefinition(), "hash-1")
	_, err := UpsertPlayerProduct(ctx, database, shop.ID,
		model.ShopProduct{ResRef: "iron_sword", Price: 90, ConsignorPersona: "character:c1"},
		model.ConsignedItem{ItemData: []byte("sword-bytes"), OwnerPersona: "character:c1"},
	)
	if err != nil {
		t.Fatalf("UpsertPlayerProduct: %v", err)
	}

	def := smithyDefinition()
	def.Products = nil
	shop, err = UpsertShopDefinition(ctx, database, def, "hash-2")
	if err != nil {
		t.Fatalf("UpsertShopDefinition: %v", err)
	}
	if len(shop.Products) != 1 || !shop.Products[0].IsPlayerManaged {
		t.Errorf("expected the player product to survive, got %+v", shop.Products)
	}
}

func TestGetShopByTagMissing(t *testing.T) {
	database := db.NewTestDB(t)

	shop, err := GetShopByTag(context.Background(), database, "nowhere")
	if err != nil {
		t.Fatal(err)
	}
	if shop != nil {
		t.Errorf("expected nil shop, got %+v", shop)
	}
}

func TestListShopsToleratesMalformedJSON(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	shop, _ := UpsertShopDefinition(ctx, database, smithyDefinition(), "hash-1")
	database.ExecContext(ctx, `UPDATE shops SET accepted_categories = '{broken' WHERE id = ?`, shop.ID)
	database.ExecContext(ctx, `UPDATE shop_products SET local_variables = 'nope', appearance = '[' WHERE shop_id = ?`, shop.ID)

	shops, err := ListShops(ctx, database)
	if err != nil {
		t.Fatalf("ListShops: %v", err)
	}
	if len(shops) != 1 || len(shops[0].Products) != 2 {
		t.Fatalf("expected one shop with two products, got %+v", shops)
	}
	if shops[0].AcceptedCategories != nil || shops[0].Products[0].LocalVariables != nil {
		t.Errorf("expected malformed JSON to decode empty, got %+v", shops[0])
	}
}

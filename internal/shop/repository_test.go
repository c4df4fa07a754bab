package shop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/store"
)

func intPtr(v int) *int { return &v }

func smithy() model.ShopDefinition {
	return model.ShopDefinition{
		Tag:           "smithy",
		DisplayName:   "Smithy",
		ShopkeeperTag: "smith",
		Restock:       model.RestockDefinition{MinMinutes: 30, MaxMinutes: 60},
		MarkupPercent: 10,
		Products: []model.ProductDefinition{
			{ResRef: "sword", Price: 100, MaxStock: 5, RestockAmount: 2, SortOrder: 1, BaseItemType: intPtr(1)},
			{ResRef: "potion", Price: 10, MaxStock: 10, InitialStock: intPtr(3), RestockAmount: 4, SortOrder: 2},
		},
	}
}

func consignment() model.ShopDefinition {
	return model.ShopDefinition{
		Tag:                "consignment",
		ShopkeeperTag:      "broker",
		Kind:               model.ShopKindPlayer,
		Restock:            model.RestockDefinition{Manual: true},
		AcceptedCategories: []int{7},
	}
}

func newTestRepository(t *testing.T, defs ...model.ShopDefinition) (*Repository, store.Shops) {
	t.Helper()
	shops := store.Shops{DB: db.NewTestDB(t)}
	repo := NewRepository(shops, nil)
	for _, d := range defs {
		if _, err := repo.Upsert(context.Background(), d); err != nil {
			t.Fatalf("Upsert %s: %v", d.Tag, err)
		}
	}
	return repo, shops
}

func productByResRef(t *testing.T, c *Catalog, resref string) model.ShopProduct {
	t.Helper()
	ps := c.ProductsByResRef(resref)
	if len(ps) != 1 {
		t.Fatalf("expected one %s product, got %d", resref, len(ps))
	}
	return ps[0]
}

func consignRing(t *testing.T, repo *Repository, productID int64) *model.ShopProduct {
	t.Helper()
	p, err := repo.TryStorePlayerProduct(context.Background(), "consignment",
		model.ShopProduct{ID: productID, ResRef: "ring", Price: 50, BaseItemType: intPtr(7), ConsignorPersona: "character:c1"},
		model.ConsignedItem{ItemData: []byte("ring-data"), OwnerPersona: "character:c1", ItemName: "Ring"},
	)
	if err != nil {
		t.Fatalf("TryStorePlayerProduct: %v", err)
	}
	return p
}

func TestUpsertAndLookup(t *testing.T) {
	repo, _ := newTestRepository(t, smithy(), consignment())

	c, ok := repo.TryGet("smithy")
	if !ok {
		t.Fatal("expected smithy to be cached")
	}
	byKeeper, ok := repo.TryGetByShopkeeper("smith")
	if !ok || byKeeper != c {
		t.Error("expected shopkeeper lookup to return the same catalog")
	}
	if _, ok := repo.TryGet("missing"); ok {
		t.Error("expected missing shop lookup to fail")
	}

	sword := productByResRef(t, c, "sword")
	if sword.CurrentStock != 5 {
		t.Errorf("expected sword stock 5, got %d", sword.CurrentStock)
	}
	if got := c.ProductsByBaseItemType(1); len(got) != 1 || got[0].ID != sword.ID {
		t.Errorf("expected sword under base item type 1, got %+v", got)
	}

	all := repo.All()
	if len(all) != 2 || all[0].Tag != "consignment" || all[1].Tag != "smithy" {
		t.Fatalf("unexpected All() result: %+v", all)
	}
	all[1].Products[0].CurrentStock = 99
	if productByResRef(t, c, "sword").CurrentStock != 5 {
		t.Error("expected All() to return copies")
	}
}

func TestUpsertRejectsInvalidDefinition(t *testing.T) {
	repo, _ := newTestRepository(t)

	def := smithy()
	def.ShopkeeperTag = ""
	if _, err := repo.Upsert(context.Background(), def); err == nil {
		t.Error("expected validation error")
	}
	if len(repo.All()) != 0 {
		t.Error("expected nothing cached")
	}
}

func TestUpsertRejectsShopkeeperConflict(t *testing.T) {
	repo, _ := newTestRepository(t, smithy())

	def := consignment()
	def.ShopkeeperTag = "smith"
	if _, err := repo.Upsert(context.Background(), def); !errors.Is(err, ErrShopkeeperTaken) {
		t.Errorf("expected ErrShopkeeperTaken, got %v", err)
	}
}

func TestUpsertChangeNotifications(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	var kinds []ChangeKind
	repo.Subscribe(func(_ context.Context, ev ShopChanged) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})

	def := smithy()
	first, _ := repo.Upsert(ctx, def)
	repo.Upsert(ctx, def)

	def.DisplayName = "The Smithy"
	second, _ := repo.Upsert(ctx, def)

	def.Products[0].Price = 120
	repo.Upsert(ctx, def)

	want := []ChangeKind{ProductsChanged, MetadataChanged, ProductsChanged}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
	if first != second {
		t.Error("expected the catalog instance to survive an upsert")
	}
	if second.Snapshot().DisplayName != "The Smithy" {
		t.Error("expected cache to reflect the persisted definition")
	}
}

func TestObserverFailuresAreContained(t *testing.T) {
	repo, _ := newTestRepository(t, smithy())
	ctx := context.Background()

	var calls atomic.Int32
	repo.Subscribe(func(context.Context, ShopChanged) error { panic("boom") })
	repo.Subscribe(func(context.Context, ShopChanged) error { return errors.New("broken") })
	unsubscribe := repo.Subscribe(func(context.Context, ShopChanged) error {
		calls.Add(1)
		return nil
	})

	c, _ := repo.TryGet("smithy")
	sword := productByResRef(t, c, "sword")
	if _, ok := repo.TryConsumeProduct(ctx, "smithy", sword.ID, 1); !ok {
		t.Fatal("expected consume to succeed despite failing observers")
	}
	if calls.Load() != 1 {
		t.Errorf("expected healthy observer to be called once, got %d", calls.Load())
	}

	unsubscribe()
	repo.TryConsumeProduct(ctx, "smithy", sword.ID, 1)
	if calls.Load() != 1 {
		t.Error("expected no calls after unsubscribe")
	}
}

func TestTryConsumeProduct(t *testing.T) {
	repo, shops := newTestRepository(t, smithy())
	ctx := context.Background()

	c, _ := repo.TryGet("smithy")
	potion := productByResRef(t, c, "potion")

	if _, ok := repo.TryConsumeProduct(ctx, "smithy", potion.ID, 4); ok {
		t.Error("expected consume beyond stock to fail")
	}
	item, ok := repo.TryConsumeProduct(ctx, "smithy", potion.ID, 2)
	if !ok || item != nil {
		t.Fatalf("expected consume of NPC stock to succeed without a consigned item, got %v, %v", item, ok)
	}

	if got, _ := c.Product(potion.ID); got.CurrentStock != 1 {
		t.Errorf("expected cached stock 1, got %d", got.CurrentStock)
	}
	persisted, _ := store.GetProduct(ctx, shops.DB, potion.ID)
	if persisted.CurrentStock != 1 {
		t.Errorf("expected persisted stock 1, got %d", persisted.CurrentStock)
	}

	if _, ok := repo.TryConsumeProduct(ctx, "smithy", 9999, 1); ok {
		t.Error("expected unknown product to fail")
	}
	if _, ok := repo.TryConsumeProduct(ctx, "nowhere", potion.ID, 1); ok {
		t.Error("expected unknown shop to fail")
	}
}

func TestConcurrentConsumeNeverOversells(t *testing.T) {
	repo, shops := newTestRepository(t, smithy())
	ctx := context.Background()

	c, _ := repo.TryGet("smithy")
	sword := productByResRef(t, c, "sword")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := repo.TryConsumeProduct(ctx, "smithy", sword.ID, 1); ok {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 5 {
		t.Errorf("expected exactly 5 successful consumes, got %d", succeeded.Load())
	}
	persisted, _ := store.GetProduct(ctx, shops.DB, sword.ID)
	if persisted.CurrentStock != 0 {
		t.Errorf("expected persisted stock 0, got %d", persisted.CurrentStock)
	}
}

func TestStockConservation(t *testing.T) {
	repo, shops := newTestRepository(t, smithy())
	ctx := context.Background()

	c, _ := repo.TryGet("smithy")
	sword := productByResRef(t, c, "sword")

	outstanding := 0
	steps := []int{2, 1, -2, 3, 2, -1, -3, 1, 4, -2}
	for i, step := range steps {
		if step > 0 {
			if _, ok := repo.TryConsumeProduct(ctx, "smithy", sword.ID, step); ok {
				outstanding += step
			}
		} else if -step <= outstanding {
			repo.ReturnProduct(ctx, "smithy", sword.ID, -step, nil)
			outstanding += step
		}

		cached, _ := c.Product(sword.ID)
		persisted, _ := store.GetProduct(ctx, shops.DB, sword.ID)
		if cached.CurrentStock < 0 || cached.CurrentStock+outstanding != sword.MaxStock {
			t.Fatalf("step %d: stock %d with %d outstanding breaks conservation", i, cached.CurrentStock, outstanding)
		}
		if persisted.CurrentStock != cached.CurrentStock {
			t.Fatalf("step %d: cache %d diverged from store %d", i, cached.CurrentStock, persisted.CurrentStock)
		}
	}
}

func TestPlayerProductConsumeReturnRoundTrip(t *testing.T) {
	repo, shops := newTestRepository(t, consignment())
	ctx := context.Background()

	ring := consignRing(t, repo, 0)
	ring = consignRing(t, repo, ring.ID)
	if ring.CurrentStock != 2 || !ring.IsPlayerManaged {
		t.Fatalf("unexpected player product %+v", ring)
	}

	item, ok := repo.TryConsumeProduct(ctx, "consignment", ring.ID, 1)
	if !ok || item == nil || string(item.ItemData) != "ring-data" {
		t.Fatalf("expected consigned item, got %+v, %v", item, ok)
	}
	if n, _ := store.CountVaultItems(ctx, shops.DB, ring.ID); n != 1 {
		t.Errorf("expected 1 vault item after consume, got %d", n)
	}

	repo.ReturnProduct(ctx, "consignment", ring.ID, 1, item)

	c, _ := repo.TryGet("consignment")
	if got, _ := c.Product(ring.ID); got.CurrentStock != 2 {
		t.Errorf("expected stock 2 after return, got %d", got.CurrentStock)
	}
	if n, _ := store.CountVaultItems(ctx, shops.DB, ring.ID); n != 2 {
		t.Errorf("expected 2 vault items after return, got %d", n)
	}
}

func TestPlayerProductConsumesOneUnitAtATime(t *testing.T) {
	repo, _ := newTestRepository(t, consignment())

	ring := consignRing(t, repo, 0)
	ring = consignRing(t, repo, ring.ID)
	if _, ok := repo.TryConsumeProduct(context.Background(), "consignment", ring.ID, 2); ok {
		t.Error("expected multi-unit consume of a player product to fail")
	}
}

type emptyVault struct {
	store.Shops
}

func (emptyVault) TakeVaultItem(context.Context, int64) (*model.ConsignedItem, error) {
	return nil, nil
}

func TestConsumeRollsBackWhenVaultIsEmpty(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	seed := NewRepository(store.Shops{DB: database}, nil)
	seed.Upsert(ctx, consignment())
	ring := consignRing(t, seed, 0)

	repo := NewRepository(emptyVault{store.Shops{DB: database}}, nil)
	if err := repo.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if _, ok := repo.TryConsumeProduct(ctx, "consignment", ring.ID, 1); ok {
		t.Fatal("expected consume to fail when the vault is empty")
	}

	c, _ := repo.TryGet("consignment")
	if got, _ := c.Product(ring.ID); got.CurrentStock != 1 {
		t.Errorf("expected cached stock rolled back to 1, got %d", got.CurrentStock)
	}
	persisted, _ := store.GetProduct(ctx, database, ring.ID)
	if persisted.CurrentStock != 1 {
		t.Errorf("expected persisted stock rolled back to 1, got %d", persisted.CurrentStock)
	}
}

func TestConsumeRefreshesStaleCache(t *testing.T) {
	repo, shops := newTestRepository(t, smithy())
	ctx := context.Background()

	c, _ := repo.TryGet("smithy")
	sword := productByResRef(t, c, "sword")

	// Another writer drains the stock behind the cache's back.
	store.TryConsumeStock(ctx, shops.DB, sword.ID, 5)

	if _, ok := repo.TryConsumeProduct(ctx, "smithy", sword.ID, 1); ok {
		t.Fatal("expected consume to fail against drained store")
	}
	if got, _ := c.Product(sword.ID); got.CurrentStock != 0 {
		t.Errorf("expected cache to self-heal to 0, got %d", got.CurrentStock)
	}
}

func TestTryStorePlayerProductChecksCategory(t *testing.T) {
	repo, _ := newTestRepository(t, consignment(), smithy())
	ctx := context.Background()

	_, err := repo.TryStorePlayerProduct(ctx, "consignment",
		model.ShopProduct{ResRef: "axe", Price: 5, BaseItemType: intPtr(2)},
		model.ConsignedItem{ItemData: []byte("axe")},
	)
	if !errors.Is(err, ErrCategoryNotAccepted) {
		t.Errorf("expected ErrCategoryNotAccepted, got %v", err)
	}

	_, err = repo.TryStorePlayerProduct(ctx, "nowhere", model.ShopProduct{ResRef: "axe"}, model.ConsignedItem{ItemData: []byte("axe")})
	if !errors.Is(err, ErrShopNotFound) {
		t.Errorf("expected ErrShopNotFound, got %v", err)
	}

	c, _ := repo.TryGet("smithy")
	sword := productByResRef(t, c, "sword")
	_, err = repo.TryStorePlayerProduct(ctx, "smithy",
		model.ShopProduct{ID: sword.ID, ResRef: "sword"},
		model.ConsignedItem{ItemData: []byte("sword")},
	)
	if !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound for a definition product, got %v", err)
	}
}

func TestReloadKeepsCatalogIdentity(t *testing.T) {
	repo, shops := newTestRepository(t, smithy())
	ctx := context.Background()

	before, _ := repo.TryGet("smithy")
	sword := productByResRef(t, before, "sword")
	store.TryConsumeStock(ctx, shops.DB, sword.ID, 2)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Reload(ctx); err != nil {
				t.Errorf("Reload: %v", err)
			}
		}()
	}
	wg.Wait()

	after, _ := repo.TryGet("smithy")
	if after != before {
		t.Error("expected reload to keep the catalog instance")
	}
	if got, _ := after.Product(sword.ID); got.CurrentStock != 3 {
		t.Errorf("expected reloaded stock 3, got %d", got.CurrentStock)
	}
}

func TestNewRepositoryPanicsWithoutStore(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewRepository(nil, nil)
}

package shop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/erazemk/bazaar/internal/model"
)

// Store is the persistence facade the repository works through. Ordinary
// business failures (insufficient stock, empty vault) are reported as false or
// nil results rather than errors.
type Store interface {
	GetAll(ctx context.Context) ([]model.ShopRecord, error)
	GetByTag(ctx context.Context, tag string) (*model.ShopRecord, error)
	Upsert(ctx context.Context, def model.ShopDefinition, hash string) (*model.ShopRecord, error)
	TryConsumeStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ReturnStock(ctx context.Context, productID int64, quantity int) (int, error)
	RestockProduct(ctx context.Context, productID int64, amount int) (added, stock int, err error)
	TakeVaultItem(ctx context.Context, productID int64) (*model.ConsignedItem, error)
	StoreVaultItem(ctx context.Context, item model.ConsignedItem) (*model.ConsignedItem, error)
	UpsertPlayerProduct(ctx context.Context, shopID int64, p model.ShopProduct, item model.ConsignedItem) (*model.ShopProduct, error)
	UpdateNextRestock(ctx context.Context, shopID int64, at time.Time) error
}

// index is replaced wholesale, never modified after it is published.
type index struct {
	byTag    map[string]*Catalog
	byKeeper map[string]*Catalog
}

func (ix *index) clone() *index {
	next := &index{
		byTag:    make(map[string]*Catalog, len(ix.byTag)+1),
		byKeeper: make(map[string]*Catalog, len(ix.byKeeper)+1),
	}
	for k, v := range ix.byTag {
		next.byTag[k] = v
	}
	for k, v := range ix.byKeeper {
		next.byKeeper[k] = v
	}
	return next
}

// Repository owns every shop catalog and keeps them consistent with the
// backing store. Each shop has its own lock; the index of shops is
// copy-on-write so readers never see a half-built map.
type Repository struct {
	store  Store
	logger *slog.Logger

	mu        sync.Mutex            // serializes index writers
	idx       atomic.Pointer[index]
	reloads   singleflight.Group
	observers observers
}

// NewRepository returns an empty repository. Call Reload to populate it.
func NewRepository(store Store, logger *slog.Logger) *Repository {
	if store == nil {
		panic("shop: nil store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{store: store, logger: logger}
	r.idx.Store(&index{byTag: map[string]*Catalog{}, byKeeper: map[string]*Catalog{}})
	return r
}

// Subscribe registers an observer for shop changes and returns a function
// that removes it.
func (r *Repository) Subscribe(fn Observer) func() {
	if fn == nil {
		panic("shop: nil observer")
	}
	return r.observers.add(fn)
}

func (r *Repository) notify(ctx context.Context, tag string, kind ChangeKind, productID int64) {
	r.observers.notify(ctx, r.logger, ShopChanged{
		ShopTag:   tag,
		Kind:      kind,
		ProductID: productID,
		At:        time.Now().UTC(),
	})
}

// Reload rebuilds the shop index from the store. Concurrent calls share one
// rebuild. Catalogs for shops that already exist keep their identity.
func (r *Repository) Reload(ctx context.Context) error {
	_, err, _ := r.reloads.Do("reload", func() (any, error) {
		records, err := r.store.GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading shops: %w", err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		old := r.idx.Load()
		next := &index{
			byTag:    make(map[string]*Catalog, len(records)),
			byKeeper: make(map[string]*Catalog, len(records)),
		}
		for _, rec := range records {
			c, ok := old.byTag[rec.Tag]
			if ok {
				c.mu.Lock()
				c.replace(rec)
				c.mu.Unlock()
			} else {
				c = newCatalog(rec)
			}
			next.byTag[rec.Tag] = c
			next.byKeeper[rec.ShopkeeperTag] = c
		}
		r.idx.Store(next)

		r.logger.Info("shops loaded", "count", len(records))
		return nil, nil
	})
	return err
}

// TryGet returns the catalog for a shop tag.
func (r *Repository) TryGet(shopTag string) (*Catalog, bool) {
	c, ok := r.idx.Load().byTag[shopTag]
	return c, ok
}

// TryGetByShopkeeper returns the catalog run by the given shopkeeper.
func (r *Repository) TryGetByShopkeeper(shopkeeperTag string) (*Catalog, bool) {
	c, ok := r.idx.Load().byKeeper[shopkeeperTag]
	return c, ok
}

// All returns snapshots of every shop, ordered by tag.
func (r *Repository) All() []model.ShopRecord {
	ix := r.idx.Load()
	tags := make([]string, 0, len(ix.byTag))
	for tag := range ix.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	out := make([]model.ShopRecord, 0, len(tags))
	for _, tag := range tags {
		out = append(out, ix.byTag[tag].Snapshot())
	}
	return out
}

// Upsert validates and persists a definition, then refreshes the cached
// catalog from the persisted row. A definition whose content hash matches the
// cached one is not written again.
func (r *Repository) Upsert(ctx context.Context, def model.ShopDefinition) (*Catalog, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	hash, err := definitionHash(def)
	if err != nil {
		return nil, err
	}

	c, kind, err := r.upsert(ctx, def, hash)
	if err != nil || kind == "" {
		return c, err
	}
	r.notify(ctx, def.Tag, kind, 0)
	return c, nil
}

func (r *Repository) upsert(ctx context.Context, def model.ShopDefinition, hash string) (*Catalog, ChangeKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.idx.Load()
	c, exists := old.byTag[def.Tag]
	if exists {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.record.DefinitionHash == hash {
			return c, "", nil
		}
	}

	if other, ok := old.byKeeper[def.ShopkeeperTag]; ok && other != c {
		return nil, "", fmt.Errorf("shopkeeper %s: %w", def.ShopkeeperTag, ErrShopkeeperTaken)
	}

	rec, err := r.store.Upsert(ctx, def, hash)
	if err != nil {
		return nil, "", fmt.Errorf("upserting shop %s: %w", def.Tag, err)
	}

	kind := ProductsChanged
	next := old.clone()
	if exists {
		if sameProducts(c.products, rec.Products) {
			kind = MetadataChanged
		}
		delete(next.byKeeper, c.record.ShopkeeperTag)
		c.replace(*rec)
	} else {
		c = newCatalog(*rec)
	}
	next.byTag[rec.Tag] = c
	next.byKeeper[rec.ShopkeeperTag] = c
	r.idx.Store(next)

	r.logger.Info("shop upserted", "shop", rec.Tag, "products", len(rec.Products), "change", kind)
	return c, kind, nil
}

// sameProducts reports whether two product lists differ only in stock.
func sameProducts(a, b []model.ShopProduct) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		x.CurrentStock, y.CurrentStock = 0, 0
		if !reflect.DeepEqual(x, y) {
			return false
		}
	}
	return true
}

func definitionHash(def model.ShopDefinition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("hashing definition %s: %w", def.Tag, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// TryConsumeProduct takes quantity units of a product. For a player-managed
// product it also pops the consigned item backing the unit; if that fails the
// stock decrement is undone in the cache and the store. It reports false with
// no partial effect on any failure.
//
// Player-managed products are consumed one unit at a time since each unit is
// a distinct consigned item.
func (r *Repository) TryConsumeProduct(ctx context.Context, shopTag string, productID int64, quantity int) (*model.ConsignedItem, bool) {
	c, ok := r.TryGet(shopTag)
	if !ok || quantity <= 0 {
		return nil, false
	}

	c.mu.Lock()
	item, ok := r.consumeLocked(context.WithoutCancel(ctx), c, productID, quantity)
	c.mu.Unlock()

	if ok {
		r.notify(ctx, shopTag, StockChanged, productID)
	}
	return item, ok
}

func (r *Repository) consumeLocked(ctx context.Context, c *Catalog, productID int64, quantity int) (*model.ConsignedItem, bool) {
	p := c.productLocked(productID)
	if p == nil || p.CurrentStock < quantity {
		return nil, false
	}
	if p.IsPlayerManaged && quantity != 1 {
		return nil, false
	}
	playerManaged := p.IsPlayerManaged
	log := r.logger.With("shop", c.record.Tag, "product", productID)

	consumed, err := r.store.TryConsumeStock(ctx, productID, quantity)
	if err != nil {
		log.Error("failed to consume stock", "error", err)
		return nil, false
	}
	if !consumed {
		log.Warn("cached stock ahead of store, refreshing")
		r.refreshLocked(ctx, c)
		return nil, false
	}
	c.takeLocked(productID, quantity)

	if !playerManaged {
		return nil, true
	}

	item, err := r.store.TakeVaultItem(ctx, productID)
	if err == nil && item != nil {
		return item, true
	}
	if err != nil {
		log.Error("failed to take vault item", "error", err)
	} else {
		log.Warn("vault empty for player product with stock")
	}

	if _, err := r.store.ReturnStock(ctx, productID, quantity); err != nil {
		log.Error("failed to roll back stock", "quantity", quantity, "error", err)
	}
	c.addLocked(productID, quantity)
	return nil, false
}

func (r *Repository) refreshLocked(ctx context.Context, c *Catalog) {
	rec, err := r.store.GetByTag(ctx, c.record.Tag)
	if err != nil || rec == nil {
		r.logger.Warn("failed to refresh shop", "shop", c.record.Tag, "error", err)
		return
	}
	c.replace(*rec)
}

// ReturnProduct puts quantity units back and re-stores item in the vault when
// one is given. It is best effort: failures are logged and not reported.
func (r *Repository) ReturnProduct(ctx context.Context, shopTag string, productID int64, quantity int, item *model.ConsignedItem) {
	c, ok := r.TryGet(shopTag)
	if !ok || quantity <= 0 {
		r.logger.Warn("cannot return product", "shop", shopTag, "product", productID, "quantity", quantity)
		return
	}

	ctx = context.WithoutCancel(ctx)
	log := r.logger.With("shop", shopTag, "product", productID)

	c.mu.Lock()
	if item != nil {
		stored := *item
		stored.ID = 0
		stored.ShopID = c.record.ID
		stored.ProductID = productID
		if _, err := r.store.StoreVaultItem(ctx, stored); err != nil {
			log.Warn("failed to return consigned item to vault", "error", err)
		}
	}
	stock, err := r.store.ReturnStock(ctx, productID, quantity)
	if err != nil {
		log.Warn("failed to return stock", "quantity", quantity, "error", err)
	} else {
		c.setStockLocked(productID, stock)
	}
	c.mu.Unlock()

	if err == nil {
		r.notify(ctx, shopTag, StockChanged, productID)
	}
}

// TryStorePlayerProduct lists a consigned item in a shop, creating the
// player-managed product or adding a unit to an existing one. The product row
// and vault payload are persisted together.
func (r *Repository) TryStorePlayerProduct(ctx context.Context, shopTag string, product model.ShopProduct, item model.ConsignedItem) (*model.ShopProduct, error) {
	c, ok := r.TryGet(shopTag)
	if !ok {
		return nil, ErrShopNotFound
	}
	if !c.Accepts(product.BaseItemType) {
		return nil, ErrCategoryNotAccepted
	}

	stored, kind, err := r.storePlayerProduct(ctx, c, product, item)
	if err != nil {
		return nil, err
	}
	r.notify(ctx, shopTag, kind, stored.ID)
	return stored, nil
}

func (r *Repository) storePlayerProduct(ctx context.Context, c *Catalog, product model.ShopProduct, item model.ConsignedItem) (*model.ShopProduct, ChangeKind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind := ProductsChanged
	if product.ID != 0 {
		existing := c.productLocked(product.ID)
		if existing == nil || !existing.IsPlayerManaged {
			return nil, "", ErrProductNotFound
		}
		kind = StockChanged
	}
	product.IsPlayerManaged = true

	stored, err := r.store.UpsertPlayerProduct(ctx, c.record.ID, product, item)
	if err != nil {
		return nil, "", fmt.Errorf("storing player product in %s: %w", c.record.Tag, err)
	}
	c.putProductLocked(*stored)
	return stored, kind, nil
}

// ApplyRestock persists each restock delta and reflects the stored stock in
// the catalog. Stock is never decreased. It returns the units the store
// actually added, which is less than requested when a product hits its cap.
func (r *Repository) ApplyRestock(ctx context.Context, c *Catalog, restocked []Restocked) int {
	c.mu.Lock()
	total := 0
	for _, rs := range restocked {
		if rs.Added <= 0 {
			continue
		}
		added, stock, err := r.store.RestockProduct(ctx, rs.ProductID, rs.Added)
		if err != nil {
			r.logger.Error("failed to restock product", "shop", c.record.Tag, "product", rs.ProductID, "error", err)
			continue
		}
		if p := c.productLocked(rs.ProductID); p != nil && stock > p.CurrentStock {
			c.setStockLocked(rs.ProductID, stock)
		}
		total += added
	}
	tag := c.record.Tag
	c.mu.Unlock()

	if total > 0 {
		r.notify(ctx, tag, StockChanged, 0)
	}
	return total
}

// SetNextRestock records when a shop is next due for restocking.
func (r *Repository) SetNextRestock(ctx context.Context, c *Catalog, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := r.store.UpdateNextRestock(ctx, c.record.ID, at); err != nil {
		return fmt.Errorf("updating next restock for %s: %w", c.record.Tag, err)
	}
	c.setNextRestockLocked(at)
	return nil
}

// LoadDefinitions reads every definition in dir and upserts it. Files that
// fail to parse, validate or persist are reported and skipped.
func (r *Repository) LoadDefinitions(ctx context.Context, dir string) []LoadFailure {
	defs, failures := LoadDefinitions(dir)
	for _, d := range defs {
		if _, err := r.Upsert(ctx, d.Definition); err != nil {
			failures = append(failures, LoadFailure{Path: d.Path, Reason: err.Error()})
		}
	}
	for _, f := range failures {
		r.logger.Warn("skipped shop definition", "path", f.Path, "reason", f.Reason)
	}
	return failures
}

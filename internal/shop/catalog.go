package shop

import (
	"slices"
	"sync"
	"time"

	"github.com/erazemk/bazaar/internal/model"
)

// Catalog is the in-memory view of one shop. All stock-affecting work on its
// products happens while holding mu.
type Catalog struct {
	mu sync.Mutex

	record   model.ShopRecord
	products []model.ShopProduct

	// Secondary indexes into products, rebuilt whenever the product set changes.
	byID       map[int64]int
	byResRef   map[string][]int
	byBaseType map[int][]int
}

func newCatalog(rec model.ShopRecord) *Catalog {
	c := &Catalog{}
	c.replace(rec)
	return c
}

// replace swaps the catalog contents for rec. The caller must hold mu or own
// c exclusively.
func (c *Catalog) replace(rec model.ShopRecord) {
	c.products = slices.Clone(rec.Products)
	rec.Products = nil
	c.record = rec
	c.reindex()
}

func (c *Catalog) reindex() {
	c.byID = make(map[int64]int, len(c.products))
	c.byResRef = make(map[string][]int)
	c.byBaseType = make(map[int][]int)
	for i, p := range c.products {
		c.byID[p.ID] = i
		c.byResRef[p.ResRef] = append(c.byResRef[p.ResRef], i)
		if p.BaseItemType != nil {
			c.byBaseType[*p.BaseItemType] = append(c.byBaseType[*p.BaseItemType], i)
		}
	}
}

// Tag returns the shop's unique tag.
func (c *Catalog) Tag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Tag
}

// Snapshot returns a copy of the shop and its products.
func (c *Catalog) Snapshot() model.ShopRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Catalog) snapshotLocked() model.ShopRecord {
	rec := c.record
	rec.Products = slices.Clone(c.products)
	rec.AcceptedCategories = slices.Clone(c.record.AcceptedCategories)
	return rec
}

// Product returns a copy of the product with the given id.
func (c *Catalog) Product(id int64) (model.ShopProduct, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byID[id]
	if !ok {
		return model.ShopProduct{}, false
	}
	return c.products[i], true
}

// ProductsByResRef returns every product backed by the given template.
func (c *Catalog) ProductsByResRef(resref string) []model.ShopProduct {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byResRef[resref])
}

// ProductsByBaseItemType returns every product in the given category.
func (c *Catalog) ProductsByBaseItemType(baseItemType int) []model.ShopProduct {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byBaseType[baseItemType])
}

func (c *Catalog) collect(idx []int) []model.ShopProduct {
	out := make([]model.ShopProduct, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.products[i])
	}
	return out
}

// Accepts reports whether the shop takes consignments of the given category.
// A shop with no accepted categories takes anything.
func (c *Catalog) Accepts(baseItemType *int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.record.AcceptedCategories) == 0 {
		return true
	}
	return baseItemType != nil && slices.Contains(c.record.AcceptedCategories, *baseItemType)
}

// The mutators below keep 0 <= CurrentStock <= MaxStock (MaxStock zero means
// unbounded). Callers hold mu.

func (c *Catalog) productLocked(id int64) *model.ShopProduct {
	i, ok := c.byID[id]
	if !ok {
		return nil
	}
	return &c.products[i]
}

func (c *Catalog) takeLocked(id int64, quantity int) bool {
	p := c.productLocked(id)
	if p == nil || quantity <= 0 || p.CurrentStock < quantity {
		return false
	}
	p.CurrentStock -= quantity
	return true
}

func (c *Catalog) addLocked(id int64, quantity int) {
	p := c.productLocked(id)
	if p == nil || quantity <= 0 {
		return
	}
	p.CurrentStock += quantity
	if p.Bounded() && p.CurrentStock > p.MaxStock {
		p.CurrentStock = p.MaxStock
	}
}

// setStockLocked records a stock level reported by the store.
func (c *Catalog) setStockLocked(id int64, stock int) {
	p := c.productLocked(id)
	if p == nil {
		return
	}
	if stock < 0 {
		stock = 0
	}
	if p.Bounded() && stock > p.MaxStock {
		stock = p.MaxStock
	}
	p.CurrentStock = stock
}

// putProductLocked inserts or replaces a product and rebuilds the indexes.
func (c *Catalog) putProductLocked(p model.ShopProduct) {
	if i, ok := c.byID[p.ID]; ok {
		c.products[i] = p
	} else {
		c.products = append(c.products, p)
		slices.SortStableFunc(c.products, func(a, b model.ShopProduct) int {
			return a.SortOrder - b.SortOrder
		})
	}
	c.reindex()
}

func (c *Catalog) setNextRestockLocked(at time.Time) {
	at = at.UTC()
	c.record.NextRestockAt = &at
}

package shop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChangeKind says what part of a shop changed.
type ChangeKind string

// Change kinds.
const (
	ProductsChanged ChangeKind = "products_changed"
	MetadataChanged ChangeKind = "metadata_changed"
	StockChanged    ChangeKind = "stock_changed"
)

// ShopChanged is raised after a shop mutation has been persisted and
// reflected in the cache.
type ShopChanged struct {
	ShopTag   string     `json:"shop_tag"`
	Kind      ChangeKind `json:"kind"`
	ProductID int64      `json:"product_id,omitempty"`
	At        time.Time  `json:"at"`
}

// Observer receives shop change notifications.
type Observer func(ctx context.Context, ev ShopChanged) error

type observers struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]Observer)
	}
	id := o.nextID
	o.nextID++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
	}
}

// notify calls every observer. Observer errors and panics are logged and
// never reach the mutator that raised the change.
func (o *observers) notify(ctx context.Context, logger *slog.Logger, ev ShopChanged) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		if err := safeCall(ctx, fn, ev); err != nil {
			logger.Warn("shop change observer failed", "shop", ev.ShopTag, "kind", ev.Kind, "error", err)
		}
	}
}

func safeCall(ctx context.Context, fn Observer, ev ShopChanged) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, ev)
}

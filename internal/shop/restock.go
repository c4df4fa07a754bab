package shop

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/erazemk/bazaar/internal/model"
)

// Restocked is the stock added to one product by a restock.
type Restocked struct {
	ProductID int64 `json:"product_id"`
	Added     int   `json:"added"`
}

// RestockStrategy decides when and by how much a shop restocks. It holds no
// per-shop state; the next restock time lives on the shop record.
type RestockStrategy interface {
	ShouldRestock(shop model.ShopRecord, now time.Time) bool
	Restock(shop model.ShopRecord, now time.Time) []Restocked
	NextRestock(shop model.ShopRecord, now time.Time) time.Time
}

// IntervalRestock tops every product up by its restock amount at a random
// interval within the shop's [min, max] minute window.
type IntervalRestock struct {
	// Intn returns a value in [0, n). Defaults to math/rand.
	Intn func(n int) int
}

func (s IntervalRestock) ShouldRestock(shop model.ShopRecord, now time.Time) bool {
	if shop.ManualRestock {
		return false
	}
	return shop.NextRestockAt == nil || !now.Before(*shop.NextRestockAt)
}

func (s IntervalRestock) Restock(shop model.ShopRecord, now time.Time) []Restocked {
	var out []Restocked
	for _, p := range shop.Products {
		if add := restockAmount(p); add > 0 {
			out = append(out, Restocked{ProductID: p.ID, Added: add})
		}
	}
	return out
}

// restockAmount is the top-up for one product. Consignment slots and full
// products get nothing.
func restockAmount(p model.ShopProduct) int {
	if p.IsPlayerManaged || !p.Bounded() || p.RestockAmount <= 0 {
		return 0
	}
	return max(0, min(p.RestockAmount, p.MaxStock-p.CurrentStock))
}

func (s IntervalRestock) NextRestock(shop model.ShopRecord, now time.Time) time.Time {
	minutes := shop.RestockMinMinutes
	if spread := shop.RestockMaxMinutes - shop.RestockMinMinutes; spread > 0 {
		intn := s.Intn
		if intn == nil {
			intn = rand.IntN
		}
		minutes += intn(spread + 1)
	}
	if minutes <= 0 {
		minutes = 1
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}

// RestockerConfig tunes the restock scheduler.
type RestockerConfig struct {
	Interval time.Duration
}

// DefaultRestockerConfig checks shops once a minute.
func DefaultRestockerConfig() RestockerConfig {
	return RestockerConfig{Interval: time.Minute}
}

// Restocker periodically applies a RestockStrategy to every shop.
type Restocker struct {
	repo     *Repository
	strategy RestockStrategy
	cfg      RestockerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRestocker returns a restocker. A nil strategy means IntervalRestock.
func NewRestocker(repo *Repository, strategy RestockStrategy, cfg RestockerConfig, logger *slog.Logger) *Restocker {
	if repo == nil {
		panic("shop: nil repository")
	}
	if strategy == nil {
		strategy = IntervalRestock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRestockerConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Restocker{repo: repo, strategy: strategy, cfg: cfg, logger: logger, now: time.Now}
}

// Run restocks due shops every interval until ctx is done.
func (r *Restocker) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce restocks every shop that is due and returns how many were
// restocked.
func (r *Restocker) RunOnce(ctx context.Context) int {
	now := r.now().UTC()
	restocked := 0
	for _, snap := range r.repo.All() {
		if ctx.Err() != nil {
			break
		}
		if !r.strategy.ShouldRestock(snap, now) {
			continue
		}
		c, ok := r.repo.TryGet(snap.Tag)
		if !ok {
			continue
		}
		r.restock(ctx, c, snap, now)
		restocked++
	}
	return restocked
}

// RestockNow restocks one shop regardless of its schedule, including
// manual-restock shops. It returns the units added.
func (r *Restocker) RestockNow(ctx context.Context, shopTag string) (int, error) {
	c, ok := r.repo.TryGet(shopTag)
	if !ok {
		return 0, ErrShopNotFound
	}
	return r.restock(ctx, c, c.Snapshot(), r.now().UTC()), nil
}

func (r *Restocker) restock(ctx context.Context, c *Catalog, snap model.ShopRecord, now time.Time) int {
	added := r.repo.ApplyRestock(ctx, c, r.strategy.Restock(snap, now))

	next := r.strategy.NextRestock(snap, now)
	if err := r.repo.SetNextRestock(ctx, c, next); err != nil {
		r.logger.Error("failed to schedule next restock", "shop", snap.Tag, "error", err)
	}
	if added > 0 {
		r.logger.Info("shop restocked", "shop", snap.Tag, "added", added, "next", next)
	}
	return added
}

// Package reeve holds a released stall's unsold goods for their owners.
package reeve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/bazaar/internal/model"
)

// Store persists reeve containers and the items in them.
type Store interface {
	FindOrCreateContainer(ctx context.Context, engineID, areaResRef string) (int64, error)
	InsertItem(ctx context.Context, item model.StoredItem) (int64, error)
	ListItems(ctx context.Context, persona, areaResRef string) ([]model.StoredItem, error)
	CountItems(ctx context.Context, persona, areaResRef string) (int, error)
	GetItem(ctx context.Context, id int64, persona, areaResRef string) (*model.StoredItem, error)
	DeleteItem(ctx context.Context, id int64) error
}

// Recipient takes a stored item back into the world. It reports whether the
// item was accepted.
type Recipient interface {
	ReceiveItem(ctx context.Context, itemData []byte, persona string) bool
}

// EngineID is the stable identity of the reeve's container for an area.
func EngineID(areaResRef string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("market-reeve:"+normalizeArea(areaResRef))).String()
}

func normalizeArea(area string) string {
	return strings.ToLower(strings.TrimSpace(area))
}

// LockupService stores items per owning persona and area, one row per unit,
// so each can be reclaimed on its own.
type LockupService struct {
	store  Store
	logger *slog.Logger
}

func NewLockupService(store Store, logger *slog.Logger) *LockupService {
	if store == nil {
		panic("reeve: nil store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LockupService{store: store, logger: logger}
}

// StoreSuspendedInventory stores every unit of products with the reeve under
// the stall's area, one row per unit, and returns how many units were stored.
// Products whose owner cannot be resolved are skipped. Failed inserts do not
// stop the batch; they are returned joined alongside the count.
func (s *LockupService) StoreSuspendedInventory(ctx context.Context, stall model.PlayerStall, products []model.StallProduct) (int, error) {
	var (
		stored int
		errs   []error
	)
	for _, p := range products {
		units, err := s.stage(ctx, stall, p)
		if err != nil {
			return stored, err
		}
		for i, unit := range units {
			if _, err := s.store.InsertItem(ctx, unit); err != nil {
				errs = append(errs, fmt.Errorf("product %d unit %d: %w", p.ID, i+1, err))
				continue
			}
			stored++
		}
	}

	if stored > 0 {
		s.logger.Info("stored items with the market reeve", "stall", stall.ID, "area", normalizeArea(stall.AreaResRef), "count", stored)
	}
	return stored, errors.Join(errs...)
}

// stage builds one reeve row per unit of p. It returns nothing for products
// the reeve cannot hold.
func (s *LockupService) stage(ctx context.Context, stall model.PlayerStall, p model.StallProduct) ([]model.StoredItem, error) {
	if p.Quantity <= 0 {
		return nil, nil
	}
	area := normalizeArea(stall.AreaResRef)
	log := s.logger.With("stall", stall.ID, "area", area, "product", p.ID)

	owner := p.ConsignorPersona
	if owner == "" {
		owner = stall.OwnerPersona()
	}
	persona, err := model.ParsePersonaID(owner)
	if err != nil {
		log.Warn("skipping item with no resolvable owner", "owner", owner, "error", err)
		return nil, nil
	}
	if len(p.ItemData) == 0 {
		log.Warn("skipping item with no payload")
		return nil, nil
	}

	container, err := s.store.FindOrCreateContainer(ctx, EngineID(area), area)
	if err != nil {
		return nil, fmt.Errorf("finding reeve container for %s: %w", area, err)
	}

	units := make([]model.StoredItem, p.Quantity)
	for i := range units {
		units[i] = model.StoredItem{
			ContainerID:  container,
			OwnerPersona: persona.String(),
			AreaResRef:   area,
			ItemData:     p.ItemData,
			ItemName:     p.ItemName,
			ResRef:       p.ResRef,
		}
	}
	return units, nil
}

// ListStoredInventory lists what the reeve holds for a persona in an area.
func (s *LockupService) ListStoredInventory(ctx context.Context, persona, areaResRef string) ([]model.ItemSummary, error) {
	items, err := s.store.ListItems(ctx, persona, normalizeArea(areaResRef))
	if err != nil {
		return nil, err
	}

	out := make([]model.ItemSummary, 0, len(items))
	for _, it := range items {
		name, resref := describe(it.ItemData)
		if name == "" {
			name = it.ItemName
		}
		if resref == "" {
			resref = it.ResRef
		}
		if name == "" {
			name = "Unknown item"
		}
		out = append(out, model.ItemSummary{ID: it.ID, Name: name, ResRef: resref, StoredAt: it.StoredAt})
	}
	return out, nil
}

// describe pulls a display name and template out of a serialized item, if the
// payload is a JSON object that carries them.
func describe(data []byte) (name, resref string) {
	var doc map[string]any
	if json.Unmarshal(data, &doc) != nil {
		return "", ""
	}
	for k, v := range doc {
		switch strings.ToLower(k) {
		case "name", "localizedname", "displayname":
			if name == "" {
				name = textValue(v)
			}
		case "resref", "templateresref":
			if resref == "" {
				resref = textValue(v)
			}
		}
	}
	return name, resref
}

// textValue accepts a plain string or an object wrapping one under "value".
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for k, inner := range t {
			if strings.EqualFold(k, "value") {
				return textValue(inner)
			}
		}
	}
	return ""
}

// CountStoredInventory counts what the reeve holds for a persona in an area.
func (s *LockupService) CountStoredInventory(ctx context.Context, persona, areaResRef string) (int, error) {
	return s.store.CountItems(ctx, persona, normalizeArea(areaResRef))
}

// ReleaseStoredItem hands one item to recipient. The item is removed only if
// the recipient accepts it.
func (s *LockupService) ReleaseStoredItem(ctx context.Context, itemID int64, persona, areaResRef string, recipient Recipient) (bool, error) {
	item, err := s.store.GetItem(ctx, itemID, persona, normalizeArea(areaResRef))
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	return s.release(ctx, *item, recipient), nil
}

// ReleaseInventoryToPlayer offers every item held for a persona in an area to
// recipient and returns how many were handed over.
func (s *LockupService) ReleaseInventoryToPlayer(ctx context.Context, persona, areaResRef string, recipient Recipient) (int, error) {
	items, err := s.store.ListItems(ctx, persona, normalizeArea(areaResRef))
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if s.release(ctx, it, recipient) {
			restored++
		}
	}
	return restored, nil
}

func (s *LockupService) release(ctx context.Context, item model.StoredItem, recipient Recipient) bool {
	if !recipient.ReceiveItem(ctx, item.ItemData, item.OwnerPersona) {
		s.logger.Info("recipient refused stored item", "item", item.ID, "persona", item.OwnerPersona)
		return false
	}
	if err := s.store.DeleteItem(context.WithoutCancel(ctx), item.ID); err != nil {
		// The recipient already has the item; the row is left behind.
		s.logger.Error("failed to remove released item", "item", item.ID, "persona", item.OwnerPersona, "error", err)
	}
	return true
}

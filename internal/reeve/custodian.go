package reeve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/bazaar/internal/model"
)

// StallInventory moves stall goods into the reeve's rows. Taking the units
// off the stall and storing them happen together or not at all.
type StallInventory interface {
	MoveStallProductToReeve(ctx context.Context, stallID, productID int64, quantity int, items []model.StoredItem) error
}

// Custodian moves a stall's inventory into the market reeve's lockup.
type Custodian struct {
	Lockup *LockupService
	Stalls StallInventory
	Logger *slog.Logger
}

// TransferInventoryToMarketReeve moves each product into the reeve. Each move
// is atomic, so a retry after a failure never stores a unit twice. Items with
// no resolvable owner stay on the stall. It returns the number of units moved.
func (c Custodian) TransferInventoryToMarketReeve(ctx context.Context, stall model.PlayerStall) (int, error) {
	moved := 0
	for _, p := range stall.Inventory {
		units, err := c.Lockup.stage(ctx, stall, p)
		if err != nil {
			return moved, fmt.Errorf("staging stall %d product %d: %w", stall.ID, p.ID, err)
		}
		if len(units) == 0 {
			if p.Quantity > 0 && c.Logger != nil {
				c.Logger.Warn("stall items left behind", "stall", stall.ID, "product", p.ID, "count", p.Quantity)
			}
			continue
		}

		if err := c.Stalls.MoveStallProductToReeve(ctx, stall.ID, p.ID, p.Quantity, units); err != nil {
			return moved, fmt.Errorf("moving stall %d product %d to the reeve: %w", stall.ID, p.ID, err)
		}
		moved += len(units)
	}
	return moved, nil
}

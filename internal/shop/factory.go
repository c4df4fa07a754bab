package shop

import (
	"context"

	"github.com/erazemk/bazaar/internal/model"
)

// ItemFactory materializes a product as an item owned by a recipient. item is
// the consigned payload for player-managed products and nil otherwise. The
// returned handle identifies the created item to the host.
type ItemFactory interface {
	CreateForInventory(ctx context.Context, owner string, product model.ShopProduct, item *model.ConsignedItem) (string, error)
}

package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/shop"
)

// The types below implement the market's outbound collaborators by
// publishing events for the game host to act on.

// Notifier sends owner notifications.
type Notifier struct {
	Publisher Publisher
}

func (n Notifier) Notify(ctx context.Context, ownerID, message string, color Color) error {
	return n.Publisher.Publish(ctx, OwnerNotification{OwnerID: ownerID, Message: message, Color: color})
}

// Broadcaster pushes seller refreshes.
type Broadcaster struct {
	Publisher Publisher
}

func (b Broadcaster) BroadcastSellerRefresh(ctx context.Context, stallID int64) error {
	return b.Publisher.Publish(ctx, SellerRefresh{StallID: stallID})
}

// ForwardShopChanges returns a shop observer that publishes every change.
func ForwardShopChanges(p Publisher) shop.Observer {
	return func(ctx context.Context, ev shop.ShopChanged) error {
		return p.Publish(ctx, ShopChange{ShopChanged: ev})
	}
}

// Deliveries materializes purchased items by asking the host to create them.
type Deliveries struct {
	Publisher Publisher
}

func (d Deliveries) CreateForInventory(ctx context.Context, owner string, product model.ShopProduct, item *model.ConsignedItem) (string, error) {
	ev := ItemDelivered{
		Handle:         uuid.NewString(),
		Owner:          owner,
		ShopID:         product.ShopID,
		ProductID:      product.ID,
		ResRef:         product.ResRef,
		LocalVariables: product.LocalVariables,
		Appearance:     product.Appearance,
	}
	if item != nil {
		ev.ItemData = item.ItemData
	}
	if err := d.Publisher.Publish(ctx, ev); err != nil {
		return "", err
	}
	return ev.Handle, nil
}

// Returns hands reeve-held items back through the host. An item counts as
// received once the host has been asked to create it.
type Returns struct {
	Publisher Publisher
	Logger    *slog.Logger
}

func (r Returns) ReceiveItem(ctx context.Context, itemData []byte, persona string) bool {
	ev := ItemReturned{Handle: uuid.NewString(), Persona: persona, ItemData: itemData}
	if err := r.Publisher.Publish(ctx, ev); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("failed to return item", "persona", persona, "error", err)
		}
		return false
	}
	return true
}

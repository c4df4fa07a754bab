package shop

import (
	"context"
	"fmt"
	"log/slog"
)

// Wallet moves gold in and out of a persona's own purse.
type Wallet interface {
	TakeGold(ctx context.Context, persona string, amount int64) (bool, error)
	GiveGold(ctx context.Context, persona string, amount int64) error
}

// Receipt describes a completed purchase.
type Receipt struct {
	ShopTag   string   `json:"shop_tag"`
	ProductID int64    `json:"product_id"`
	Quantity  int      `json:"quantity"`
	UnitPrice int64    `json:"unit_price"`
	Total     int64    `json:"total"`
	Items     []string `json:"items"`
}

// Checkout sells shop products to personas.
type Checkout struct {
	repo   *Repository
	prices *PriceCalculator
	wallet Wallet
	items  ItemFactory
	logger *slog.Logger
}

// NewCheckout wires a checkout. All collaborators except logger are required.
func NewCheckout(repo *Repository, prices *PriceCalculator, wallet Wallet, items ItemFactory, logger *slog.Logger) *Checkout {
	if repo == nil || prices == nil || wallet == nil || items == nil {
		panic("shop: checkout requires repository, prices, wallet and item factory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkout{repo: repo, prices: prices, wallet: wallet, items: items, logger: logger}
}

// Buy charges buyer, takes the stock and hands the items over. If the items
// cannot be handed over the undelivered stock goes back and its price is
// refunded.
func (co *Checkout) Buy(ctx context.Context, shopTag string, productID int64, quantity int, buyer string) (*Receipt, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	c, ok := co.repo.TryGet(shopTag)
	if !ok {
		return nil, ErrShopNotFound
	}
	snap := c.Snapshot()
	product, ok := c.Product(productID)
	if !ok {
		return nil, ErrProductNotFound
	}
	if product.CurrentStock < quantity {
		return nil, ErrSoldOut
	}

	unit := co.prices.Quote(snap, product, buyer)
	total := unit * int64(quantity)
	log := co.logger.With("shop", shopTag, "product", productID, "buyer", buyer)

	if total > 0 {
		paid, err := co.wallet.TakeGold(ctx, buyer, total)
		if err != nil {
			return nil, fmt.Errorf("charging buyer: %w", err)
		}
		if !paid {
			return nil, ErrCannotAfford
		}
	}

	consigned, ok := co.repo.TryConsumeProduct(ctx, shopTag, productID, quantity)
	if !ok {
		co.refund(ctx, log, buyer, total)
		return nil, ErrSoldOut
	}

	receipt := &Receipt{ShopTag: shopTag, ProductID: productID, Quantity: quantity, UnitPrice: unit, Total: total}
	for i := 0; i < quantity; i++ {
		handle, err := co.items.CreateForInventory(ctx, buyer, product, consigned)
		if err != nil {
			log.Warn("failed to deliver item", "delivered", i, "error", err)
			undelivered := quantity - i
			co.repo.ReturnProduct(ctx, shopTag, productID, undelivered, consigned)
			co.refund(ctx, log, buyer, unit*int64(undelivered))
			receipt.Quantity = i
			receipt.Total = unit * int64(i)
			return receipt, ErrDeliveryFailed
		}
		receipt.Items = append(receipt.Items, handle)
	}

	log.Info("purchase completed", "quantity", quantity, "total", total)
	return receipt, nil
}

func (co *Checkout) refund(ctx context.Context, log *slog.Logger, buyer string, amount int64) {
	if amount <= 0 {
		return
	}
	if err := co.wallet.GiveGold(context.WithoutCancel(ctx), buyer, amount); err != nil {
		log.Error("failed to refund buyer", "amount", amount, "error", err)
	}
}

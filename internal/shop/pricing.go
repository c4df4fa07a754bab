package shop

import (
	"github.com/shopspring/decimal"

	"github.com/erazemk/bazaar/internal/model"
)

// PriceContext is what a modifier may look at when adjusting a price.
type PriceContext struct {
	Shop    model.ShopRecord
	Product model.ShopProduct
	Buyer   string
}

// PriceModifier adjusts a price. Implementations must be pure so that a quote
// and the charge that follows it always agree.
type PriceModifier interface {
	Apply(price int64, pc PriceContext) int64
}

// PriceModifierFunc adapts a function to PriceModifier.
type PriceModifierFunc func(price int64, pc PriceContext) int64

func (f PriceModifierFunc) Apply(price int64, pc PriceContext) int64 { return f(price, pc) }

// Markup applies the shop's markup percentage.
type Markup struct{}

func (Markup) Apply(price int64, pc PriceContext) int64 {
	if pc.Shop.MarkupPercent == 0 {
		return price
	}
	factor := decimal.NewFromInt(int64(100 + pc.Shop.MarkupPercent)).Div(decimal.NewFromInt(100))
	return roundPrice(decimal.NewFromInt(price).Mul(factor))
}

// roundPrice rounds half away from zero and clamps at zero.
func roundPrice(d decimal.Decimal) int64 {
	p := d.Round(0).IntPart()
	if p < 0 {
		return 0
	}
	return p
}

// PriceCalculator turns a product's base price into the buyer-facing price.
type PriceCalculator struct {
	modifiers []PriceModifier
}

// NewPriceCalculator returns a calculator applying modifiers in order. With no
// modifiers it applies the shop markup.
func NewPriceCalculator(modifiers ...PriceModifier) *PriceCalculator {
	if len(modifiers) == 0 {
		modifiers = []PriceModifier{Markup{}}
	}
	for _, m := range modifiers {
		if m == nil {
			panic("shop: nil price modifier")
		}
	}
	return &PriceCalculator{modifiers: modifiers}
}

// Quote prices a product of a shop snapshot.
func (pc *PriceCalculator) Quote(shop model.ShopRecord, product model.ShopProduct, buyer string) int64 {
	ctx := PriceContext{Shop: shop, Product: product, Buyer: buyer}
	price := max(product.Price, 0)
	for _, m := range pc.modifiers {
		price = max(m.Apply(price, ctx), 0)
	}
	return price
}

// CalculatePrice prices a product in a catalog. It reports false if the
// product does not exist.
func (pc *PriceCalculator) CalculatePrice(c *Catalog, productID int64, buyer string) (int64, bool) {
	snap := c.Snapshot()
	for _, p := range snap.Products {
		if p.ID == productID {
			return pc.Quote(snap, p, buyer), true
		}
	}
	return 0, false
}

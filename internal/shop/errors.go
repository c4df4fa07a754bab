package shop

import "errors"

// Player-facing failures. Callers compare with errors.Is and may show the
// message as is.
var (
	ErrShopNotFound        = errors.New("that shop is not open")
	ErrProductNotFound     = errors.New("that item is not sold here")
	ErrSoldOut             = errors.New("item already sold out")
	ErrCannotAfford        = errors.New("you can't afford that")
	ErrDeliveryFailed      = errors.New("the item could not be handed over; you have been refunded")
	ErrCategoryNotAccepted = errors.New("this shop does not take that kind of item")
)

var businessErrors = []error{
	ErrShopNotFound,
	ErrProductNotFound,
	ErrSoldOut,
	ErrCannotAfford,
	ErrDeliveryFailed,
	ErrCategoryNotAccepted,
}

// ErrShopkeeperTaken rejects a definition whose shopkeeper already runs a
// different shop.
var ErrShopkeeperTaken = errors.New("shopkeeper already runs another shop")

// IsBusinessError reports whether err is one of the package's player-facing
// failures.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

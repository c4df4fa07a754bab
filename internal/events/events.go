// Package events defines the market's domain events and the transports that
// carry them to the game host.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/shop"
)

// Event is anything published on the market event bus.
type Event interface {
	RoutingKey() string
}

// Publisher delivers events to the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Envelope is the wire form of an event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Event     `json:"payload"`
}

// NewEnvelope wraps ev with a fresh id and timestamp.
func NewEnvelope(ev Event) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       ev.RoutingKey(),
		OccurredAt: time.Now().UTC(),
		Payload:    ev,
	}
}

// Color is the tint of an owner notification.
type Color string

// Notification colors.
const (
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// Rent sources.
const (
	SourceEscrow    = "escrow"
	SourceCoinhouse = "coinhouse"
)

// Release reasons.
const (
	ReasonGraceExpired = "grace_expired"
	ReasonAbandoned    = "abandoned"
)

type StallRentPaid struct {
	StallID       int64     `json:"stall_id"`
	OwnerPersona  string    `json:"owner_persona"`
	Amount        int64     `json:"amount"`
	Source        string    `json:"source"`
	PaidAt        time.Time `json:"paid_at"`
	NextRentDueAt time.Time `json:"next_rent_due_at"`
}

func (StallRentPaid) RoutingKey() string { return "stall.rent_paid" }

type StallSuspended struct {
	StallID      int64     `json:"stall_id"`
	OwnerPersona string    `json:"owner_persona"`
	AmountDue    int64     `json:"amount_due"`
	SuspendedAt  time.Time `json:"suspended_at"`
	GraceEndsAt  time.Time `json:"grace_ends_at"`
}

func (StallSuspended) RoutingKey() string { return "stall.suspended" }

type StallOwnershipReleased struct {
	StallID            int64     `json:"stall_id"`
	FormerOwnerPersona string    `json:"former_owner_persona"`
	Reason             string    `json:"reason"`
	Refund             int64     `json:"refund,omitempty"`
	ReleasedAt         time.Time `json:"released_at"`
}

func (StallOwnershipReleased) RoutingKey() string { return "stall.ownership_released" }

// OwnerNotification is a message for a stall owner's screen.
type OwnerNotification struct {
	OwnerID string `json:"owner_id,omitempty"`
	Message string `json:"message"`
	Color   Color  `json:"color"`
}

func (OwnerNotification) RoutingKey() string { return "owner.notify" }

// SellerRefresh asks open stall management windows to redraw.
type SellerRefresh struct {
	StallID int64 `json:"stall_id"`
}

func (SellerRefresh) RoutingKey() string { return "stall.refresh" }

// ShopChange carries a shop.ShopChanged notification.
type ShopChange struct {
	shop.ShopChanged
}

func (c ShopChange) RoutingKey() string { return "shop." + string(c.Kind) }

// ItemDelivered asks the host to create an item in a recipient's inventory.
type ItemDelivered struct {
	Handle         string                `json:"handle"`
	Owner          string                `json:"owner"`
	ShopID         int64                 `json:"shop_id"`
	ProductID      int64                 `json:"product_id"`
	ResRef         string                `json:"resref"`
	LocalVariables []model.LocalVariable `json:"local_variables,omitempty"`
	Appearance     *model.Appearance     `json:"appearance,omitempty"`
	ItemData       []byte                `json:"item_data,omitempty"`
}

func (ItemDelivered) RoutingKey() string { return "item.delivered" }

// ItemReturned asks the host to give a reeve-held item back to its owner.
type ItemReturned struct {
	Handle   string `json:"handle"`
	Persona  string `json:"persona"`
	ItemData []byte `json:"item_data"`
}

func (ItemReturned) RoutingKey() string { return "item.returned" }

// Package stall runs the rent lifecycle and money handling of player stalls.
package stall

import (
	"context"
	"errors"
	"time"

	"github.com/erazemk/bazaar/internal/coinhouse"
	"github.com/erazemk/bazaar/internal/events"
	"github.com/erazemk/bazaar/internal/model"
)

// Player-facing failures.
var (
	ErrStallNotFound         = errors.New("that stall does not exist")
	ErrUnauthorizedDepositor = errors.New("only the stall's owner can move its gold")
	ErrStallInactive         = errors.New("this stall is not active")
	ErrDepositTooLarge       = errors.New("that deposit is larger than the stall will hold")
	ErrInsufficientEscrow    = errors.New("not enough gold in the stall's escrow")
	ErrInsufficientGold      = errors.New("you don't have enough gold")
	ErrGracePeriod           = errors.New("rent is overdue; escrow is locked during the grace period")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrItemSoldOut           = errors.New("item already sold out")
)

// MaxEscrowDeposit caps a single escrow deposit.
const MaxEscrowDeposit int64 = 1_000_000

// Config holds the rent lifecycle tunables.
type Config struct {
	RentPeriod    time.Duration
	GracePeriod   time.Duration
	AbandonIdle   time.Duration
	CycleInterval time.Duration
}

// DefaultConfig returns daily rent with a half-day grace window.
func DefaultConfig() Config {
	return Config{
		RentPeriod:    24 * time.Hour,
		GracePeriod:   12 * time.Hour,
		AbandonIdle:   2 * time.Hour,
		CycleInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RentPeriod <= 0 {
		c.RentPeriod = d.RentPeriod
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.AbandonIdle <= 0 {
		c.AbandonIdle = d.AbandonIdle
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = d.CycleInterval
	}
	return c
}

// Store is the authoritative stall record. UpdateStall applies mutate
// atomically; if mutate returns an error nothing is written.
type Store interface {
	ListStalls(ctx context.Context) ([]model.PlayerStall, error)
	GetStall(ctx context.Context, id int64) (*model.PlayerStall, error)
	UpdateStall(ctx context.Context, id int64, mutate func(*model.PlayerStall) error) (*model.PlayerStall, error)
}

// CoinHouse moves gold in and out of coinhouse accounts.
type CoinHouse interface {
	WithdrawGold(ctx context.Context, cmd coinhouse.WithdrawGoldCommand) coinhouse.Result
	DepositGold(ctx context.Context, cmd coinhouse.DepositGoldCommand) coinhouse.Result
}

// Wallet moves gold in and out of a persona's own purse.
type Wallet interface {
	TakeGold(ctx context.Context, persona string, amount int64) (bool, error)
	GiveGold(ctx context.Context, persona string, amount int64) error
}

type Notifier interface {
	Notify(ctx context.Context, ownerID, message string, color events.Color) error
}

type Broadcaster interface {
	BroadcastSellerRefresh(ctx context.Context, stallID int64) error
}

// Custodian takes a stall's inventory into the market reeve's keeping.
type Custodian interface {
	TransferInventoryToMarketReeve(ctx context.Context, stall model.PlayerStall) (int, error)
}

// CurrentPeriodGross sums sales since rent was last paid, or since the lease
// began if it never was. Negative sale entries count as zero.
func CurrentPeriodGross(s model.PlayerStall) int64 {
	var start time.Time
	switch {
	case s.LastRentPaidAt != nil:
		start = *s.LastRentPaidAt
	case s.LeaseStartAt != nil:
		start = *s.LeaseStartAt
	}

	var gross int64
	for _, e := range s.LedgerEntries {
		if e.Type != model.LedgerSaleGross || e.OccurredAt.Before(start) {
			continue
		}
		gross += max(e.Amount, 0)
	}
	return gross
}

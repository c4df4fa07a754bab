package stall

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/erazemk/bazaar/internal/coinhouse"
	"github.com/erazemk/bazaar/internal/model"
)

// Ledger moves gold between owners, stall escrow and coinhouse accounts, and
// records every movement on the stall's ledger.
type Ledger struct {
	store     Store
	wallet    Wallet
	coinhouse CoinHouse
	logger    *slog.Logger
}

func NewLedger(store Store, wallet Wallet, coins CoinHouse, logger *slog.Logger) *Ledger {
	if store == nil || wallet == nil || coins == nil {
		panic("stall: ledger requires store, wallet and coinhouse")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, wallet: wallet, coinhouse: coins, logger: logger}
}

func (l *Ledger) load(ctx context.Context, stallID int64) (*model.PlayerStall, error) {
	st, err := l.store.GetStall(ctx, stallID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStallNotFound
	}
	return st, nil
}

func checkOwner(s *model.PlayerStall, persona string) error {
	if !s.IsActive {
		return ErrStallInactive
	}
	if !s.HasOwner() {
		return ErrUnauthorizedDepositor
	}
	if persona != s.OwnerPersona() && (s.OwnerPlayerPersonaID == "" || persona != s.OwnerPlayerPersonaID) {
		return ErrUnauthorizedDepositor
	}
	return nil
}

// Deposit moves gold from the owner's purse into the stall's escrow.
func (l *Ledger) Deposit(ctx context.Context, stallID int64, persona string, amount int64) (*model.PlayerStall, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > MaxEscrowDeposit {
		return nil, ErrDepositTooLarge
	}

	st, err := l.load(ctx, stallID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(st, persona); err != nil {
		return nil, err
	}

	taken, err := l.wallet.TakeGold(ctx, persona, amount)
	if err != nil {
		return nil, fmt.Errorf("taking gold: %w", err)
	}
	if !taken {
		return nil, ErrInsufficientGold
	}

	updated, err := l.store.UpdateStall(ctx, stallID, func(cur *model.PlayerStall) error {
		if err := checkOwner(cur, persona); err != nil {
			return err
		}
		cur.EscrowBalance += amount
		cur.AppendLedger(model.LedgerEntry{
			Type:        model.LedgerDeposit,
			Amount:      amount,
			Description: "Escrow deposit",
			Metadata:    map[string]string{"persona": persona},
		})
		return nil
	})
	if err != nil {
		if gerr := l.wallet.GiveGold(context.WithoutCancel(ctx), persona, amount); gerr != nil {
			l.logger.Error("failed to return deposit", "stall", stallID, "persona", persona, "amount", amount, "error", gerr)
		}
		return nil, err
	}

	l.logger.Info("escrow deposit", "stall", stallID, "persona", persona, "amount", amount)
	return updated, nil
}

// Withdraw moves gold from the stall's escrow to the owner's purse. Escrow is
// locked while the stall is in its grace period.
func (l *Ledger) Withdraw(ctx context.Context, stallID int64, persona string, amount int64) (*model.PlayerStall, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := l.load(ctx, stallID); err != nil {
		return nil, err
	}

	updated, err := l.store.UpdateStall(ctx, stallID, func(cur *model.PlayerStall) error {
		if err := checkOwner(cur, persona); err != nil {
			return err
		}
		if cur.SuspendedAt != nil {
			return ErrGracePeriod
		}
		if cur.EscrowBalance < amount {
			return ErrInsufficientEscrow
		}
		cur.EscrowBalance -= amount
		cur.AppendLedger(model.LedgerEntry{
			Type:        model.LedgerWithdrawal,
			Amount:      -amount,
			Description: "Escrow withdrawal",
			Metadata:    map[string]string{"persona": persona},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := l.wallet.GiveGold(ctx, persona, amount); err != nil {
		l.restoreEscrow(context.WithoutCancel(ctx), stallID, amount, "withdrawal reversal")
		return nil, fmt.Errorf("giving gold: %w", err)
	}

	l.logger.Info("escrow withdrawal", "stall", stallID, "persona", persona, "amount", amount)
	return updated, nil
}

// RecordSale takes one unit of a stall product off the shelf and books the
// sale. Earnings stay in escrow when the owner holds them in the stall or has
// no coinhouse account; otherwise they go to the account, falling back to
// escrow if the deposit fails.
func (l *Ledger) RecordSale(ctx context.Context, stallID, productID int64, price int64) (*model.PlayerStall, error) {
	if price < 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := l.load(ctx, stallID); err != nil {
		return nil, err
	}

	var (
		toEscrow bool
		account  string
		tag      string
	)
	updated, err := l.store.UpdateStall(ctx, stallID, func(cur *model.PlayerStall) error {
		if !cur.IsActive {
			return ErrStallInactive
		}
		idx := -1
		for i, p := range cur.Inventory {
			if p.ID == productID && p.Quantity > 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrItemSoldOut
		}

		product := &cur.Inventory[idx]
		product.Quantity--
		cur.LifetimeNetEarnings += price
		cur.AppendLedger(model.LedgerEntry{
			Type:        model.LedgerSaleGross,
			Amount:      price,
			Description: "Sold " + itemLabel(*product),
			Metadata:    map[string]string{"product_id": strconv.FormatInt(productID, 10)},
		})

		toEscrow = cur.HoldEarningsInStall || cur.CoinHouseAccountID == ""
		if toEscrow {
			cur.EscrowBalance += price
		}
		account, tag = cur.CoinHouseAccountID, cur.Tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	if toEscrow || price == 0 {
		return updated, nil
	}

	r := l.coinhouse.DepositGold(ctx, coinhouse.DepositGoldCommand{
		AccountID: account,
		Amount:    price,
		Reason:    fmt.Sprintf("sale at stall %s", tag),
	})
	if r.Success {
		return updated, nil
	}

	l.logger.Warn("coinhouse deposit of sale proceeds failed, holding in escrow", "stall", stallID, "amount", price, "error", r.Err)
	held, err := l.restoreEscrow(context.WithoutCancel(ctx), stallID, price, "sale proceeds held in escrow")
	if err != nil {
		return nil, err
	}
	return held, nil
}

func (l *Ledger) restoreEscrow(ctx context.Context, stallID int64, amount int64, reason string) (*model.PlayerStall, error) {
	updated, err := l.store.UpdateStall(ctx, stallID, func(cur *model.PlayerStall) error {
		cur.EscrowBalance += amount
		cur.AppendLedger(model.LedgerEntry{
			Type:        model.LedgerDeposit,
			Amount:      amount,
			Description: reason,
		})
		return nil
	})
	if err != nil {
		l.logger.Error("failed to credit escrow", "stall", stallID, "amount", amount, "reason", reason, "error", err)
		return nil, fmt.Errorf("crediting escrow: %w", err)
	}
	return updated, nil
}

func itemLabel(p model.StallProduct) string {
	switch {
	case p.ItemName != "":
		return p.ItemName
	case p.ResRef != "":
		return p.ResRef
	default:
		return "item " + strconv.FormatInt(p.ID, 10)
	}
}

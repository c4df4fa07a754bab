package stall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/erazemk/bazaar/internal/coinhouse"
	"github.com/erazemk/bazaar/internal/events"
	"github.com/erazemk/bazaar/internal/model"
)

// errStale aborts an update whose stall no longer matches what the cycle read.
var errStale = errors.New("stall changed since it was read")

// Where an abandonment refund was paid.
const (
	refundCoinhouse = events.SourceCoinhouse
	refundPurse     = "purse"
)

var sourceLabels = map[string]string{
	events.SourceEscrow:    "stall escrow",
	events.SourceCoinhouse: "coinhouse account",
	refundPurse:            "purse",
}

// Services are the collaborators of the rent renewal service. All are
// required.
type Services struct {
	Store       Store
	CoinHouse   CoinHouse
	Wallet      Wallet
	Notifier    Notifier
	Broadcaster Broadcaster
	Custodian   Custodian
	Publisher   events.Publisher
}

// RentRenewalService charges rent on owned stalls and drives them through
// active, grace and released.
//
// Each stall is evaluated on its own. A transition is written through a single
// Store.UpdateStall call; if that fails the stall is left for the next cycle.
type RentRenewalService struct {
	Services
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewRentRenewalService(svc Services, cfg Config, logger *slog.Logger) *RentRenewalService {
	if svc.Store == nil || svc.CoinHouse == nil || svc.Wallet == nil || svc.Notifier == nil ||
		svc.Broadcaster == nil || svc.Custodian == nil || svc.Publisher == nil {
		panic("stall: rent renewal service is missing a collaborator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RentRenewalService{Services: svc, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// Run evaluates every stall once per cycle interval until ctx is done.
func (s *RentRenewalService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if err := s.RunSingleCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("rent cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunSingleCycle evaluates every stall once. Cancelling ctx stops the sweep
// between stalls; a stall already being evaluated is finished first.
func (s *RentRenewalService) RunSingleCycle(ctx context.Context) error {
	stalls, err := s.Store.ListStalls(ctx)
	if err != nil {
		return fmt.Errorf("listing stalls: %w", err)
	}

	now := s.now().UTC()
	for _, st := range stalls {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.evaluate(context.WithoutCancel(ctx), st, now)
	}
	return nil
}

func (s *RentRenewalService) evaluate(ctx context.Context, st model.PlayerStall, now time.Time) {
	if !st.IsActive || !st.HasOwner() {
		return
	}
	log := s.logger.With("stall", st.ID, "owner", st.OwnerPersona())

	switch {
	case s.abandoned(st, now):
		s.releaseAbandoned(ctx, log, st, now)
	case !st.NextRentDueAt.After(now):
		s.collectRent(ctx, log, st, now)
	}
}

// abandoned reports whether an active stall has sat empty and untouched while
// its next rent charge is still more than a grace window away.
func (s *RentRenewalService) abandoned(st model.PlayerStall, now time.Time) bool {
	return st.SuspendedAt == nil &&
		st.InventoryUnits() == 0 &&
		now.Sub(st.UpdatedAt) >= s.cfg.AbandonIdle &&
		st.NextRentDueAt.Sub(now) > s.cfg.GracePeriod
}

// sameLease reports whether cur is still the lease that st was read from.
func sameLease(cur, st *model.PlayerStall) bool {
	return cur.IsActive && cur.DeactivatedAt == nil && cur.HasOwner() && cur.OwnerPersona() == st.OwnerPersona()
}

func (s *RentRenewalService) collectRent(ctx context.Context, log *slog.Logger, st model.PlayerStall, now time.Time) {
	source, funded := s.fund(ctx, log, st)
	switch {
	case funded:
		s.recordPayment(ctx, log, st, now, source)
	case st.SuspendedAt == nil:
		s.suspend(ctx, log, st, now)
	case now.Sub(*st.SuspendedAt) >= s.cfg.GracePeriod:
		s.releaseUnpaid(ctx, log, st, now)
	}
}

// fund finds the rent: escrow first, then the linked coinhouse account. A
// coinhouse withdrawal has already happened when it returns.
func (s *RentRenewalService) fund(ctx context.Context, log *slog.Logger, st model.PlayerStall) (string, bool) {
	if st.EscrowBalance >= st.DailyRent {
		return events.SourceEscrow, true
	}
	if st.CoinHouseAccountID == "" {
		return "", false
	}

	r := s.CoinHouse.WithdrawGold(ctx, coinhouse.WithdrawGoldCommand{
		AccountID: st.CoinHouseAccountID,
		Amount:    st.DailyRent,
		Reason:    fmt.Sprintf("rent for stall %s", st.Tag),
	})
	if !r.Success {
		log.Info("coinhouse could not cover rent", "account", st.CoinHouseAccountID, "error", r.Err)
		return "", false
	}
	return events.SourceCoinhouse, true
}

func (s *RentRenewalService) recordPayment(ctx context.Context, log *slog.Logger, st model.PlayerStall, now time.Time, source string) {
	rent := st.DailyRent
	updated, err := s.Store.UpdateStall(ctx, st.ID, func(cur *model.PlayerStall) error {
		if !sameLease(cur, &st) || cur.NextRentDueAt.After(now) {
			return errStale
		}
		if source == events.SourceEscrow {
			if cur.EscrowBalance < rent {
				return errStale
			}
			cur.EscrowBalance -= rent
		}

		paid := now
		cur.SuspendedAt = nil
		cur.DeactivatedAt = nil
		cur.IsActive = true
		cur.LastRentPaidAt = &paid
		cur.NextRentDueAt = now.Add(s.cfg.RentPeriod)
		cur.LifetimeNetEarnings -= rent
		if rent > 0 {
			cur.AppendLedger(model.LedgerEntry{
				Type:        model.LedgerRentPayment,
				Amount:      -rent,
				Description: fmt.Sprintf("Rent paid from %s", sourceLabels[source]),
				OccurredAt:  now,
				Metadata:    map[string]string{"source": source},
			})
		}
		return nil
	})
	if err != nil {
		if source == events.SourceCoinhouse {
			s.returnToCoinhouse(ctx, log, st.CoinHouseAccountID, rent)
		}
		s.updateFailed(log, "rent payment", err)
		return
	}

	log.Info("rent paid", "amount", rent, "source", source, "next_due", updated.NextRentDueAt)
	s.tell(ctx, log, st.OwnerPersona(), fmt.Sprintf("Rent of %s gold for stall %s was paid from your %s.",
		humanize.Comma(rent), st.Tag, sourceLabels[source]), events.ColorOrange)
	s.refresh(ctx, log, st.ID)
	s.publish(ctx, log, events.StallRentPaid{
		StallID:       st.ID,
		OwnerPersona:  st.OwnerPersona(),
		Amount:        rent,
		Source:        source,
		PaidAt:        now,
		NextRentDueAt: updated.NextRentDueAt,
	})
}

func (s *RentRenewalService) returnToCoinhouse(ctx context.Context, log *slog.Logger, accountID string, amount int64) {
	r := s.CoinHouse.DepositGold(ctx, coinhouse.DepositGoldCommand{AccountID: accountID, Amount: amount, Reason: "rent reversal"})
	if !r.Success {
		log.Error("failed to return rent to coinhouse", "account", accountID, "amount", amount, "error", r.Err)
	}
}

func (s *RentRenewalService) suspend(ctx context.Context, log *slog.Logger, st model.PlayerStall, now time.Time) {
	graceEnds := now.Add(s.cfg.GracePeriod)
	_, err := s.Store.UpdateStall(ctx, st.ID, func(cur *model.PlayerStall) error {
		if !sameLease(cur, &st) || cur.SuspendedAt != nil || cur.NextRentDueAt.After(now) {
			return errStale
		}
		suspended := now
		cur.SuspendedAt = &suspended
		cur.NextRentDueAt = graceEnds
		return nil
	})
	if err != nil {
		s.updateFailed(log, "suspension", err)
		return
	}

	log.Warn("stall entered grace period", "amount_due", st.DailyRent, "grace_ends", graceEnds)
	s.tell(ctx, log, st.OwnerPersona(), fmt.Sprintf(
		"Rent of %s gold for stall %s is overdue. Your grace period ends %s; after that the stall is released.",
		humanize.Comma(st.DailyRent), st.Tag, humanize.RelTime(graceEnds, now, "ago", "from now")), events.ColorYellow)
	s.refresh(ctx, log, st.ID)
	s.publish(ctx, log, events.StallSuspended{
		StallID:      st.ID,
		OwnerPersona: st.OwnerPersona(),
		AmountDue:    st.DailyRent,
		SuspendedAt:  now,
		GraceEndsAt:  graceEnds,
	})
}

func (s *RentRenewalService) releaseUnpaid(ctx context.Context, log *slog.Logger, st model.PlayerStall, now time.Time) {
	moved, err := s.Custodian.TransferInventoryToMarketReeve(ctx, st)
	if err != nil {
		log.Error("failed to move stall inventory to the market reeve", "moved", moved, "error", err)
		return
	}

	owner := st.OwnerPersona()
	residual := st.EscrowBalance
	dest, err := s.payRefund(ctx, log, st, residual)
	if err != nil {
		log.Error("failed to return escrow", "amount", residual, "error", err)
		return
	}

	_, err = s.Store.UpdateStall(ctx, st.ID, func(cur *model.PlayerStall) error {
		if !sameLease(cur, &st) || cur.SuspendedAt == nil || cur.EscrowBalance != residual {
			return errStale
		}
		appendRefund(cur, "Escrow returned", residual, dest, now)
		cur.EscrowBalance = 0
		cur.Release(now, now.Add(s.cfg.RentPeriod))
		return nil
	})
	if err != nil {
		s.reclaimRefund(ctx, log, st, dest, residual)
		s.updateFailed(log, "release", err)
		return
	}

	log.Warn("stall released for unpaid rent", "items_to_reeve", moved, "escrow_returned", residual, "destination", dest)
	msg := fmt.Sprintf("Your lease on stall %s has ended for unpaid rent. The market reeve now holds your items.", st.Tag)
	if residual > 0 {
		msg += fmt.Sprintf(" The %s gold left in escrow was sent to your %s.", humanize.Comma(residual), sourceLabels[dest])
	}
	s.tell(ctx, log, owner, msg, events.ColorRed)
	s.refresh(ctx, log, st.ID)
	s.publish(ctx, log, events.StallOwnershipReleased{
		StallID:            st.ID,
		FormerOwnerPersona: owner,
		Reason:             events.ReasonGraceExpired,
		Refund:             residual,
		ReleasedAt:         now,
	})
}

// appendRefund books gold paid back to the owner on release.
func appendRefund(cur *model.PlayerStall, what string, amount int64, dest string, now time.Time) {
	if amount <= 0 {
		return
	}
	cur.AppendLedger(model.LedgerEntry{
		Type:        model.LedgerRefund,
		Amount:      -amount,
		Description: fmt.Sprintf("%s to %s", what, sourceLabels[dest]),
		OccurredAt:  now,
		Metadata: map[string]string{
			"destination": dest,
			"escrow":      fmt.Sprint(cur.EscrowBalance),
			"unused_rent": fmt.Sprint(amount - cur.EscrowBalance),
		},
	})
}

// refundFor is the escrow plus the unused share of rent already paid for the
// current period.
func (s *RentRenewalService) refundFor(st model.PlayerStall, now time.Time) int64 {
	refund := st.EscrowBalance
	if st.LastRentPaidAt == nil || st.DailyRent <= 0 {
		return refund
	}
	remaining := min(st.NextRentDueAt.Sub(now), s.cfg.RentPeriod)
	if remaining <= 0 {
		return refund
	}
	unused := decimal.NewFromInt(st.DailyRent).
		Mul(decimal.NewFromInt(int64(remaining))).
		Div(decimal.NewFromInt(int64(s.cfg.RentPeriod))).
		Floor().
		IntPart()
	return refund + unused
}

func (s *RentRenewalService) releaseAbandoned(ctx context.Context, log *slog.Logger, st model.PlayerStall, now time.Time) {
	owner := st.OwnerPersona()
	refund := s.refundFor(st, now)

	dest, err := s.payRefund(ctx, log, st, refund)
	if err != nil {
		log.Error("failed to pay abandonment refund", "amount", refund, "error", err)
		return
	}

	_, err = s.Store.UpdateStall(ctx, st.ID, func(cur *model.PlayerStall) error {
		if !sameLease(cur, &st) || cur.SuspendedAt != nil || cur.InventoryUnits() > 0 || cur.EscrowBalance != st.EscrowBalance {
			return errStale
		}
		appendRefund(cur, "Prorated refund", refund, dest, now)
		cur.EscrowBalance = 0
		cur.Release(now, now.Add(s.cfg.RentPeriod))
		return nil
	})
	if err != nil {
		s.reclaimRefund(ctx, log, st, dest, refund)
		s.updateFailed(log, "abandonment release", err)
		return
	}

	log.Info("abandoned stall released", "refund", refund, "destination", dest)
	msg := fmt.Sprintf("Stall %s sat empty and has been released. No prorated refund was due.", st.Tag)
	if refund > 0 {
		msg = fmt.Sprintf("Stall %s sat empty and has been released. A prorated refund of %s gold was sent to your %s.",
			st.Tag, humanize.Comma(refund), sourceLabels[dest])
	}
	s.tell(ctx, log, owner, msg, events.ColorOrange)
	s.refresh(ctx, log, st.ID)
	s.publish(ctx, log, events.StallOwnershipReleased{
		StallID:            st.ID,
		FormerOwnerPersona: owner,
		Reason:             events.ReasonAbandoned,
		Refund:             refund,
		ReleasedAt:         now,
	})
}

// payRefund deposits to the linked coinhouse account, falling back to the
// owner's purse. It returns where the gold went.
func (s *RentRenewalService) payRefund(ctx context.Context, log *slog.Logger, st model.PlayerStall, amount int64) (string, error) {
	if amount <= 0 {
		return "", nil
	}
	if st.CoinHouseAccountID != "" {
		r := s.CoinHouse.DepositGold(ctx, coinhouse.DepositGoldCommand{
			AccountID: st.CoinHouseAccountID,
			Amount:    amount,
			Reason:    fmt.Sprintf("refund for stall %s", st.Tag),
		})
		if r.Success {
			return refundCoinhouse, nil
		}
		log.Warn("coinhouse refund failed, paying to purse", "account", st.CoinHouseAccountID, "error", r.Err)
	}
	if err := s.Wallet.GiveGold(ctx, st.OwnerPersona(), amount); err != nil {
		return "", fmt.Errorf("giving %d gold: %w", amount, err)
	}
	return refundPurse, nil
}

func (s *RentRenewalService) reclaimRefund(ctx context.Context, log *slog.Logger, st model.PlayerStall, dest string, amount int64) {
	switch dest {
	case refundCoinhouse:
		r := s.CoinHouse.WithdrawGold(ctx, coinhouse.WithdrawGoldCommand{AccountID: st.CoinHouseAccountID, Amount: amount, Reason: "refund reversal"})
		if !r.Success {
			log.Error("failed to reclaim refund from coinhouse", "amount", amount, "error", r.Err)
		}
	case refundPurse:
		taken, err := s.Wallet.TakeGold(ctx, st.OwnerPersona(), amount)
		if err != nil || !taken {
			log.Error("failed to reclaim refund from purse", "amount", amount, "error", err)
		}
	}
}

func (s *RentRenewalService) updateFailed(log *slog.Logger, what string, err error) {
	if errors.Is(err, errStale) {
		log.Info("stall changed during "+what+", retrying next cycle")
		return
	}
	log.Error("failed to persist "+what+", retrying next cycle", "error", err)
}

func (s *RentRenewalService) tell(ctx context.Context, log *slog.Logger, owner, message string, color events.Color) {
	if err := s.Notifier.Notify(ctx, owner, message, color); err != nil {
		log.Warn("failed to notify owner", "error", err)
	}
}

func (s *RentRenewalService) refresh(ctx context.Context, log *slog.Logger, stallID int64) {
	if err := s.Broadcaster.BroadcastSellerRefresh(ctx, stallID); err != nil {
		log.Warn("failed to broadcast seller refresh", "error", err)
	}
}

func (s *RentRenewalService) publish(ctx context.Context, log *slog.Logger, ev events.Event) {
	if err := s.Publisher.Publish(ctx, ev); err != nil {
		log.Warn("failed to publish event", "type", ev.RoutingKey(), "error", err)
	}
}

package stall

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/erazemk/bazaar/internal/events"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/store"
)

func TestRentPaidFromEscrow(t *testing.T) {
	h := newHarness(t)
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance: 500,
		NextRentDueAt: h.now.Add(-time.Minute),
	})
	h.addProduct(t, s.ID, 1)

	h.cycle(t)

	got := h.stall(t, s.ID)
	if got.EscrowBalance != 400 {
		t.Errorf("expected escrow 400, got %d", got.EscrowBalance)
	}
	if len(got.LedgerEntries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(got.LedgerEntries))
	}
	e := got.LedgerEntries[0]
	if e.Type != model.LedgerRentPayment || e.Amount != -100 || e.Metadata["source"] != events.SourceEscrow {
		t.Errorf("unexpected ledger entry %+v", e)
	}
	if got.LastRentPaidAt == nil || !got.NextRentDueAt.Equal(h.now.Add(24*time.Hour)) {
		t.Errorf("expected next due %v, got %v (paid %v)", h.now.Add(24*time.Hour), got.NextRentDueAt, got.LastRentPaidAt)
	}
	if got.SuspendedAt != nil || !got.IsActive {
		t.Errorf("expected active stall, got %+v", got)
	}

	if len(h.notifier.notes) != 1 || h.notifier.notes[0].color != events.ColorOrange {
		t.Fatalf("expected one orange notice, got %+v", h.notifier.notes)
	}
	if !strings.Contains(h.notifier.notes[0].message, "stall escrow") {
		t.Errorf("expected notice to name the escrow, got %q", h.notifier.notes[0].message)
	}
	if len(h.publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(h.publisher.events))
	}
	paid, ok := h.publisher.events[0].(events.StallRentPaid)
	if !ok || paid.Amount != 100 || paid.Source != events.SourceEscrow {
		t.Errorf("unexpected event %+v", h.publisher.events[0])
	}
	if len(h.refreshes.stalls) != 1 || h.refreshes.stalls[0] != s.ID {
		t.Errorf("expected one refresh for stall %d, got %v", s.ID, h.refreshes.stalls)
	}
}

func TestRentPaidFromCoinhouse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account, err := store.CreateCoinhouseAccount(ctx, h.db, ownerPersona, 300)
	if err != nil {
		t.Fatal(err)
	}
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance:      40,
		CoinHouseAccountID: account,
		NextRentDueAt:      h.now.Add(-time.Minute),
	})
	h.addProduct(t, s.ID, 1)

	h.cycle(t)

	if got := h.balance(t, account); got != 200 {
		t.Errorf("expected account balance 200, got %d", got)
	}
	got := h.stall(t, s.ID)
	if got.EscrowBalance != 40 {
		t.Errorf("expected escrow untouched at 40, got %d", got.EscrowBalance)
	}
	if len(got.LedgerEntries) != 1 || got.LedgerEntries[0].Metadata["source"] != events.SourceCoinhouse {
		t.Errorf("expected one coinhouse rent entry, got %+v", got.LedgerEntries)
	}
	if len(h.notifier.notes) != 1 || !strings.Contains(h.notifier.notes[0].message, "coinhouse account") {
		t.Errorf("unexpected notices %+v", h.notifier.notes)
	}
}

func TestRentNotDueLeavesStallAlone(t *testing.T) {
	h := newHarness(t)
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance: 500,
		NextRentDueAt: h.now.Add(time.Hour),
	})
	h.addProduct(t, s.ID, 2)

	h.cycle(t)

	got := h.stall(t, s.ID)
	if !got.UpdatedAt.Equal(s.UpdatedAt) || got.EscrowBalance != 500 || len(got.LedgerEntries) != 0 {
		t.Errorf("expected stall untouched, got %+v", got)
	}
	if len(h.notifier.notes) != 0 || len(h.publisher.events) != 0 || len(h.refreshes.stalls) != 0 {
		t.Errorf("expected no side effects, got %d notices, %d events, %d refreshes",
			len(h.notifier.notes), len(h.publisher.events), len(h.refreshes.stalls))
	}
}

func TestUnownedStallsAreSkipped(t *testing.T) {
	h := newHarness(t)
	s, err := store.CreateStall(context.Background(), h.db, model.PlayerStall{
		Tag:           "stall_vacant",
		AreaResRef:    "market_north",
		DailyRent:     100,
		NextRentDueAt: h.now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	h.cycle(t)

	if got := h.stall(t, s.ID); !got.UpdatedAt.Equal(s.UpdatedAt) {
		t.Errorf("expected vacant stall untouched, got %+v", got)
	}
	if len(h.publisher.events) != 0 {
		t.Errorf("expected no events, got %d", len(h.publisher.events))
	}
}

func TestGraceThenRelease(t *testing.T) {
	h := newHarness(t)
	s := h.createStall(t, model.PlayerStall{
		OwnerCharacterID:     "c1",
		OwnerPersonaID:       ownerPersona,
		OwnerPlayerPersonaID: "player:p1",
		OwnerDisplayName:     "Aribeth",
		EscrowBalance:        50,
		HoldEarningsInStall:  true,
		NextRentDueAt:        h.now.Add(-time.Minute),
	})
	h.addProduct(t, s.ID, 3)

	h.cycle(t)

	suspended := h.stall(t, s.ID)
	if suspended.State() != model.StallGrace {
		t.Fatalf("expected grace, got %s", suspended.State())
	}
	if !suspended.NextRentDueAt.Equal(h.now.Add(12 * time.Hour)) {
		t.Errorf("expected next due pushed by the grace window, got %v", suspended.NextRentDueAt)
	}
	if suspended.EscrowBalance != 50 || len(suspended.LedgerEntries) != 0 {
		t.Errorf("expected no charge during suspension, got %+v", suspended)
	}
	if len(h.notifier.notes) != 1 || h.notifier.notes[0].color != events.ColorYellow {
		t.Fatalf("expected one yellow notice, got %+v", h.notifier.notes)
	}
	if _, ok := h.publisher.events[0].(events.StallSuspended); !ok {
		t.Errorf("expected StallSuspended, got %T", h.publisher.events[0])
	}

	// Still inside the window.
	h.now = h.now.Add(6 * time.Hour)
	h.cycle(t)
	if got := h.stall(t, s.ID); got.State() != model.StallGrace || len(h.notifier.notes) != 1 {
		t.Fatalf("expected stall to stay in grace, got %s with %d notices", got.State(), len(h.notifier.notes))
	}

	h.now = h.now.Add(7 * time.Hour)
	h.cycle(t)

	released := h.stall(t, s.ID)
	if released.State() != model.StallReleased {
		t.Fatalf("expected released, got %s", released.State())
	}
	if !released.NextRentDueAt.After(h.now) {
		t.Errorf("expected next due after %v, got %v", h.now, released.NextRentDueAt)
	}
	if released.HasOwner() || released.OwnerDisplayName != "" || released.CoinHouseAccountID != "" || released.HoldEarningsInStall {
		t.Errorf("expected every ownership field cleared, got %+v", released)
	}

	if released.EscrowBalance != 0 {
		t.Errorf("expected escrow emptied on release, got %d", released.EscrowBalance)
	}
	if gold := h.gold(t, ownerPersona); gold != 50 {
		t.Errorf("expected leftover escrow of 50 in the purse, got %d", gold)
	}
	if len(released.LedgerEntries) != 1 || released.LedgerEntries[0].Type != model.LedgerRefund || released.LedgerEntries[0].Amount != -50 {
		t.Errorf("expected one refund entry of -50, got %+v", released.LedgerEntries)
	}

	if len(h.custodian.handed) != 1 || h.custodian.handed[0].OwnerPersona() != ownerPersona {
		t.Fatalf("expected inventory handed over under the original owner, got %+v", h.custodian.handed)
	}
	last := h.notifier.notes[len(h.notifier.notes)-1]
	if last.owner != ownerPersona || last.color != events.ColorRed || !strings.Contains(last.message, "market reeve") {
		t.Errorf("unexpected release notice %+v", last)
	}
	ev, ok := h.publisher.events[len(h.publisher.events)-1].(events.StallOwnershipReleased)
	if !ok || ev.Reason != events.ReasonGraceExpired || ev.FormerOwnerPersona != ownerPersona || ev.Refund != 50 {
		t.Errorf("unexpected release event %+v", h.publisher.events[len(h.publisher.events)-1])
	}

	// A released stall is never charged again.
	h.now = h.now.Add(48 * time.Hour)
	published := len(h.publisher.events)
	h.cycle(t)
	if len(h.publisher.events) != published {
		t.Errorf("expected released stall to be skipped")
	}
}

func TestGraceReleaseReturnsEscrowToCoinhouse(t *testing.T) {
	h := newHarness(t)
	account, err := store.CreateCoinhouseAccount(context.Background(), h.db, ownerPersona, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance:      60,
		CoinHouseAccountID: account,
		NextRentDueAt:      h.now.Add(-time.Minute),
	})
	h.addProduct(t, s.ID, 1)

	h.cycle(t)
	if got := h.stall(t, s.ID); got.State() != model.StallGrace {
		t.Fatalf("expected grace, got %s", got.State())
	}

	h.now = h.now.Add(13 * time.Hour)
	h.cycle(t)

	got := h.stall(t, s.ID)
	if got.State() != model.StallReleased || got.EscrowBalance != 0 {
		t.Fatalf("expected released stall with empty escrow, got %s with %d", got.State(), got.EscrowBalance)
	}
	if balance := h.balance(t, account); balance != 60 {
		t.Errorf("expected 60 returned to the account, got %d", balance)
	}
	if gold := h.gold(t, ownerPersona); gold != 0 {
		t.Errorf("expected nothing in the purse, got %d", gold)
	}
	e := got.LedgerEntries[len(got.LedgerEntries)-1]
	if e.Type != model.LedgerRefund || e.Amount != -60 || e.Metadata["destination"] != events.SourceCoinhouse {
		t.Errorf("unexpected refund entry %+v", e)
	}
	last := h.notifier.notes[len(h.notifier.notes)-1]
	if !strings.Contains(last.message, "market reeve") || !strings.Contains(last.message, "coinhouse account") {
		t.Errorf("unexpected release notice %q", last.message)
	}
}

func TestGraceRecoveredByDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance: 20,
		NextRentDueAt: h.now.Add(-time.Minute),
	})
	h.addProduct(t, s.ID, 1)

	h.cycle(t)
	if got := h.stall(t, s.ID); got.State() != model.StallGrace {
		t.Fatalf("expected grace, got %s", got.State())
	}

	if err := store.CreditGold(ctx, h.db, ownerPersona, 500); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.Deposit(ctx, s.ID, ownerPersona, 200); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	h.now = h.now.Add(12 * time.Hour)
	h.cycle(t)

	got := h.stall(t, s.ID)
	if got.State() != model.StallActive {
		t.Fatalf("expected active after paying, got %s", got.State())
	}
	if got.EscrowBalance != 120 {
		t.Errorf("expected escrow 120, got %d", got.EscrowBalance)
	}
	if len(h.custodian.handed) != 0 {
		t.Errorf("expected no inventory moved, got %d", len(h.custodian.handed))
	}
}

func TestAbandonedStallRefunded(t *testing.T) {
	h := newHarness(t)
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance:  500,
		LastRentPaidAt: ptr(h.now.Add(-4 * time.Hour)),
		NextRentDueAt:  h.now.Add(20 * time.Hour),
	})

	h.cycle(t)

	got := h.stall(t, s.ID)
	if got.State() != model.StallReleased || got.EscrowBalance != 0 {
		t.Fatalf("expected released stall with empty escrow, got %+v", got)
	}
	// 500 escrow plus 20 of 24 hours of rent, rounded down.
	const refund = 500 + 83
	if gold := h.gold(t, ownerPersona); gold != refund {
		t.Errorf("expected %d gold refunded, got %d", refund, gold)
	}
	if len(got.LedgerEntries) != 1 || got.LedgerEntries[0].Type != model.LedgerRefund || got.LedgerEntries[0].Amount != -refund {
		t.Errorf("unexpected ledger %+v", got.LedgerEntries)
	}

	if len(h.notifier.notes) != 1 {
		t.Fatalf("expected exactly one notice, got %d", len(h.notifier.notes))
	}
	if n := h.notifier.notes[0]; n.owner != ownerPersona || !strings.Contains(n.message, "prorated refund") {
		t.Errorf("unexpected notice %+v", n)
	}
	ev, ok := h.publisher.events[0].(events.StallOwnershipReleased)
	if !ok || ev.Reason != events.ReasonAbandoned || ev.Refund != refund {
		t.Errorf("unexpected event %+v", h.publisher.events[0])
	}
	if len(h.custodian.handed) != 0 {
		t.Errorf("empty stall should not involve the reeve")
	}
}

func TestAbandonedRefundGoesToCoinhouse(t *testing.T) {
	h := newHarness(t)
	account, err := store.CreateCoinhouseAccount(context.Background(), h.db, ownerPersona, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := h.createStall(t, model.PlayerStall{
		EscrowBalance:      75,
		CoinHouseAccountID: account,
		NextRentDueAt:      h.now.Add(20 * time.Hour),
	})

	h.cycle(t)

	// Rent was never paid, so only escrow comes back.
	if got := h.balance(t, account); got != 75 {
		t.Errorf("expected 75 refunded to the account, got %d", got)
	}
	if got := h.stall(t, s.ID); got.State() != model.StallReleased {
		t.Errorf("expected released, got %s", got.State())
	}
	if !strings.Contains(h.notifier.notes[0].message, "coinhouse account") {
		t.Errorf("unexpected notice %q", h.notifier.notes[0].message)
	}
}

func TestAbandonmentNeedsIdleEmptyStall(t *testing.T) {
	tests := []struct {
		name    string
		units   int
		nextDue time.Duration
		idle    time.Duration
	}{
		{"has inventory", 1, 20 * time.Hour, 2 * time.Hour},
		{"rent due inside grace window", 0, 10 * time.Hour, 2 * time.Hour},
		{"recently touched", 0, 20 * time.Hour, 4 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.svc.cfg.AbandonIdle = tt.idle
			s := h.createStall(t, model.PlayerStall{
				EscrowBalance: 500,
				NextRentDueAt: h.now.Add(tt.nextDue),
			})
			if tt.units > 0 {
				h.addProduct(t, s.ID, tt.units)
			}

			h.cycle(t)

			if got := h.stall(t, s.ID); got.State() != model.StallActive || got.EscrowBalance != 500 {
				t.Errorf("expected stall kept, got %s with escrow %d", got.State(), got.EscrowBalance)
			}
		})
	}
}

func TestRefundFor(t *testing.T) {
	svc := &RentRenewalService{cfg: DefaultConfig()}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		s    model.PlayerStall
		want int64
	}{
		{"escrow only when never paid", model.PlayerStall{EscrowBalance: 10, DailyRent: 100, NextRentDueAt: now.Add(12 * time.Hour)}, 10},
		{"half a period", model.PlayerStall{DailyRent: 100, LastRentPaidAt: &now, NextRentDueAt: now.Add(12 * time.Hour)}, 50},
		{"rounded down", model.PlayerStall{DailyRent: 7, LastRentPaidAt: &now, NextRentDueAt: now.Add(12 * time.Hour)}, 3},
		{"capped at one period", model.PlayerStall{DailyRent: 100, LastRentPaidAt: &now, NextRentDueAt: now.Add(72 * time.Hour)}, 100},
		{"nothing left", model.PlayerStall{EscrowBalance: 5, DailyRent: 100, LastRentPaidAt: &now, NextRentDueAt: now.Add(-time.Hour)}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.refundFor(tt.s, now); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCurrentPeriodGross(t *testing.T) {
	paid := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := model.PlayerStall{
		LastRentPaidAt: &paid,
		LedgerEntries: []model.LedgerEntry{
			{Type: model.LedgerSaleGross, Amount: 1000, OccurredAt: paid.Add(-time.Hour)},
			{Type: model.LedgerSaleGross, Amount: 1500, OccurredAt: paid.Add(time.Hour)},
			{Type: model.LedgerRentPayment, Amount: -100, OccurredAt: paid.Add(2 * time.Hour)},
			{Type: model.LedgerSaleGross, Amount: -30, OccurredAt: paid.Add(3 * time.Hour)},
			{Type: model.LedgerSaleGross, Amount: 2500, OccurredAt: paid.Add(4 * time.Hour)},
		},
	}
	if got := CurrentPeriodGross(s); got != 4000 {
		t.Errorf("expected 4000, got %d", got)
	}

	s.LastRentPaidAt = nil
	if got := CurrentPeriodGross(s); got != 5000 {
		t.Errorf("expected all sales without a period start, got %d", got)
	}
}

func TestRunSingleCycleStopsWhenCancelled(t *testing.T) {
	h := newHarness(t)
	h.createStall(t, model.PlayerStall{EscrowBalance: 500, NextRentDueAt: h.now.Add(-time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.svc.RunSingleCycle(ctx); err == nil {
		t.Fatal("expected an error from a cancelled cycle")
	}
	if len(h.publisher.events) != 0 {
		t.Errorf("expected nothing evaluated, got %d events", len(h.publisher.events))
	}
}

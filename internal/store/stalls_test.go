package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/model"
)

func TestCreateAndGetStall(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	stall, err := CreateStall(ctx, database, model.PlayerStall{
		Tag:              "stall_north_1",
		AreaResRef:       "market_north",
		OwnerCharacterID: "c1",
		OwnerPersonaID:   "character:c1",
		DailyRent:        100,
		EscrowBalance:    500,
		NextRentDueAt:    due,
		IsActive:         true,
	})
	if err != nil {
		t.Fatalf("CreateStall: %v", err)
	}
	if stall.OwnerPersonaID != "character:c1" || stall.EscrowBalance != 500 || !stall.IsActive {
		t.Errorf("unexpected stall %+v", stall)
	}
	if !stall.NextRentDueAt.Equal(due) {
		t.Errorf("expected due %v, got %v", due, stall.NextRentDueAt)
	}
	if stall.CoinHouseAccountID != "" || stall.SuspendedAt != nil {
		t.Errorf("expected null optional fields, got %+v", stall)
	}

	missing, err := GetStall(ctx, database, stall.ID+1)
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing stall, got %v, %v", missing, err)
	}
}

func TestUpdateStallAppendsLedger(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	stall, _ := CreateStall(ctx, database, model.PlayerStall{Tag: "s", AreaResRef: "a", IsActive: true,
		OwnerPersonaID: "character:c1", EscrowBalance: 500})

	updated, err := UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		s.EscrowBalance -= 100
		s.AppendLedger(model.LedgerEntry{Type: model.LedgerRentPayment, Amount: -100,
			Metadata: map[string]string{"source": "escrow"}})
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateStall: %v", err)
	}
	if updated.EscrowBalance != 400 {
		t.Errorf("expected escrow 400, got %d", updated.EscrowBalance)
	}
	if len(updated.LedgerEntries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(updated.LedgerEntries))
	}
	e := updated.LedgerEntries[0]
	if e.ID == 0 || e.Reference == "" || e.Currency != model.CurrencyGold || e.Metadata["source"] != "escrow" {
		t.Errorf("unexpected ledger entry %+v", e)
	}
}

func TestUpdateStallRejectsLedgerRewrite(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	stall, _ := CreateStall(ctx, database, model.PlayerStall{Tag: "s", AreaResRef: "a"})
	UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		s.AppendLedger(model.LedgerEntry{Type: model.LedgerDeposit, Amount: 10})
		return nil
	})

	_, err := UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		s.LedgerEntries = nil
		return nil
	})
	if err == nil {
		t.Error("expected error when removing ledger entries")
	}

	_, err = UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		s.LedgerEntries = append(s.LedgerEntries, s.LedgerEntries[0])
		return nil
	})
	if err == nil {
		t.Error("expected error when re-appending a persisted entry")
	}
}

func TestUpdateStallMutatorErrorWritesNothing(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	stall, _ := CreateStall(ctx, database, model.PlayerStall{Tag: "s", AreaResRef: "a", EscrowBalance: 50})
	errNope := errors.New("nope")

	_, err := UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		s.EscrowBalance = 0
		return errNope
	})
	if !errors.Is(err, errNope) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	after, _ := GetStall(ctx, database, stall.ID)
	if after.EscrowBalance != 50 {
		t.Errorf("expected escrow unchanged, got %d", after.EscrowBalance)
	}
}

func TestUpdateStallEnforcesInvariants(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	stall, _ := CreateStall(ctx, database, model.PlayerStall{Tag: "s", AreaResRef: "a", OwnerPersonaID: "character:c1"})

	_, err := UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		s.EscrowBalance = -1
		return nil
	})
	if err == nil {
		t.Error("expected error for negative escrow")
	}

	_, err = UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		now := time.Now().UTC()
		s.DeactivatedAt = &now
		return nil
	})
	if err == nil {
		t.Error("expected error for deactivated stall that still has an owner")
	}
}

func TestUpdateStallSyncsInventory(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	stall, _ := CreateStall(ctx, database, model.PlayerStall{Tag: "s", AreaResRef: "a"})
	AddStallProduct(ctx, database, model.StallProduct{StallID: stall.ID, ResRef: "ring", ItemData: []byte("r"), Quantity: 2, Price: 10})
	AddStallProduct(ctx, database, model.StallProduct{StallID: stall.ID, ResRef: "cloak", ItemData: []byte("c"), Quantity: 1, Price: 20})

	updated, err := UpdateStall(ctx, database, stall.ID, func(s *model.PlayerStall) error {
		for i := range s.Inventory {
			s.Inventory[i].Quantity--
		}
		s.Inventory = append(s.Inventory, model.StallProduct{ResRef: "boots", ItemData: []byte("b"), Quantity: 3})
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateStall: %v", err)
	}

	if len(updated.Inventory) != 2 {
		t.Fatalf("expected ring and boots, got %+v", updated.Inventory)
	}
	if updated.InventoryUnits() != 4 {
		t.Errorf("expected 4 units, got %d", updated.InventoryUnits())
	}
}

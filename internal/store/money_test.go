package store

import (
	"context"
	"testing"

	"github.com/erazemk/bazaar/internal/db"
)

func TestCoinhouseWithdrawAndDeposit(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id, err := CreateCoinhouseAccount(ctx, database, "character:c1", 300)
	if err != nil {
		t.Fatalf("CreateCoinhouseAccount: %v", err)
	}

	ok, err := WithdrawFromAccount(ctx, database, id, 200)
	if err != nil || !ok {
		t.Fatalf("expected withdrawal to succeed, got %v, %v", ok, err)
	}

	ok, _ = WithdrawFromAccount(ctx, database, id, 200)
	if ok {
		t.Error("expected overdraft to fail")
	}

	ok, _ = DepositToAccount(ctx, database, id, 50)
	if !ok {
		t.Error("expected deposit to succeed")
	}

	balance, found, _ := GetCoinhouseBalance(ctx, database, id)
	if !found || balance != 150 {
		t.Errorf("expected balance 150, got %d (found=%v)", balance, found)
	}

	ok, _ = DepositToAccount(ctx, database, "missing", 50)
	if ok {
		t.Error("expected deposit into a missing account to fail")
	}
}

func TestWallets(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreditGold(ctx, database, "character:c1", 100)
	CreditGold(ctx, database, "character:c1", 20)

	ok, _ := DebitGold(ctx, database, "character:c1", 150)
	if ok {
		t.Error("expected debit beyond balance to fail")
	}
	ok, _ = DebitGold(ctx, database, "character:c1", 120)
	if !ok {
		t.Error("expected debit to succeed")
	}

	gold, _ := GetGold(ctx, database, "character:c1")
	if gold != 0 {
		t.Errorf("expected 0 gold, got %d", gold)
	}
}

func TestNonPositiveAmountsRejected(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, err := DebitGold(ctx, database, "character:c1", 0); err == nil {
		t.Error("expected error for zero debit")
	}
	if _, err := WithdrawFromAccount(ctx, database, "x", -5); err == nil {
		t.Error("expected error for negative withdrawal")
	}
}

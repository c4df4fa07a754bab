package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateCoinhouseAccount opens an account for a persona and returns its ID.
func CreateCoinhouseAccount(ctx context.Context, db *sql.DB, persona string, balance int64) (string, error) {
	if balance < 0 {
		return "", fmt.Errorf("opening balance must not be negative")
	}

	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO coinhouse_accounts (id, owner_persona, balance) VALUES (?, ?, ?)`,
		id, persona, balance,
	)
	if err != nil {
		return "", fmt.Errorf("creating coinhouse account: %w", err)
	}
	return id, nil
}

// GetCoinhouseBalance returns an account's balance. ok is false if the
// account does not exist.
func GetCoinhouseBalance(ctx context.Context, db *sql.DB, accountID string) (balance int64, ok bool, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT balance FROM coinhouse_accounts WHERE id = ?`, accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting coinhouse balance: %w", err)
	}
	return balance, true, nil
}

// WithdrawFromAccount debits an account if it holds at least amount. It
// reports false, without error, when funds are insufficient or the account
// does not exist.
func WithdrawFromAccount(ctx context.Context, db *sql.DB, accountID string, amount int64) (bool, error) {
	return conditionalUpdate(ctx, db,
		`UPDATE coinhouse_accounts SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		amount, accountID, amount,
	)
}

// DepositToAccount credits an account. It reports false if the account does
// not exist.
func DepositToAccount(ctx context.Context, db *sql.DB, accountID string, amount int64) (bool, error) {
	return conditionalUpdate(ctx, db,
		`UPDATE coinhouse_accounts SET balance = balance + ? WHERE id = ?`,
		amount, accountID,
	)
}

// GetGold returns the gold a persona carries.
func GetGold(ctx context.Context, db *sql.DB, persona string) (int64, error) {
	var gold int64
	err := db.QueryRowContext(ctx,
		`SELECT gold FROM wallets WHERE persona = ?`, persona,
	).Scan(&gold)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting gold: %w", err)
	}
	return gold, nil
}

// CreditGold gives gold to a persona.
func CreditGold(ctx context.Context, db *sql.DB, persona string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO wallets (persona, gold) VALUES (?, ?)
		 ON CONFLICT (persona) DO UPDATE SET gold = gold + ?`,
		persona, amount, amount,
	)
	if err != nil {
		return fmt.Errorf("crediting gold: %w", err)
	}
	return nil
}

// DebitGold takes gold from a persona if they carry enough.
func DebitGold(ctx context.Context, db *sql.DB, persona string, amount int64) (bool, error) {
	return conditionalUpdate(ctx, db,
		`UPDATE wallets SET gold = gold - ? WHERE persona = ? AND gold >= ?`,
		amount, persona, amount,
	)
}

func conditionalUpdate(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	if amount, ok := args[0].(int64); !ok || amount <= 0 {
		return false, fmt.Errorf("amount must be positive")
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating balance: %w", err)
	}
	return n == 1, nil
}

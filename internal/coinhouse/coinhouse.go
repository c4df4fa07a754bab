// Package coinhouse is the command-style gold facade over coinhouse accounts.
package coinhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("not enough gold in your coinhouse account")
	ErrAccountNotFound   = errors.New("no such coinhouse account")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Accounts is the storage behind the facade. Withdraw reports false when the
// account is missing or short; Deposit reports false when it is missing.
type Accounts interface {
	Withdraw(ctx context.Context, accountID string, amount int64) (bool, error)
	Deposit(ctx context.Context, accountID string, amount int64) (bool, error)
}

// WithdrawGoldCommand takes gold out of an account.
type WithdrawGoldCommand struct {
	AccountID string
	Amount    int64
	Reason    string
}

// DepositGoldCommand puts gold into an account.
type DepositGoldCommand struct {
	AccountID string
	Amount    int64
	Reason    string
}

// Result is the outcome of a command. Reference identifies a successful
// transaction; Err holds the failure otherwise.
type Result struct {
	Success   bool
	Reference string
	Err       error
}

func ok() Result { return Result{Success: true, Reference: uuid.NewString()} }

func failed(err error) Result { return Result{Err: err} }

// Message is a player-facing description of a failed result.
func (r Result) Message() string {
	if r.Success || r.Err == nil {
		return ""
	}
	for _, target := range []error{ErrInsufficientFunds, ErrAccountNotFound, ErrInvalidAmount} {
		if errors.Is(r.Err, target) {
			return target.Error()
		}
	}
	return "the coinhouse could not complete the transaction"
}

// Service executes gold commands against coinhouse accounts.
type Service struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewService(accounts Accounts, logger *slog.Logger) *Service {
	if accounts == nil {
		panic("coinhouse: nil accounts")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, logger: logger}
}

// WithdrawGold debits the account if it holds enough gold.
func (s *Service) WithdrawGold(ctx context.Context, cmd WithdrawGoldCommand) Result {
	if cmd.Amount <= 0 {
		return failed(ErrInvalidAmount)
	}
	done, err := s.accounts.Withdraw(ctx, cmd.AccountID, cmd.Amount)
	if err != nil {
		s.logger.Error("coinhouse withdrawal failed", "account", cmd.AccountID, "amount", cmd.Amount, "error", err)
		return failed(fmt.Errorf("withdrawing gold: %w", err))
	}
	if !done {
		return failed(ErrInsufficientFunds)
	}
	r := ok()
	s.logger.Info("coinhouse withdrawal", "account", cmd.AccountID, "amount", cmd.Amount, "reason", cmd.Reason, "reference", r.Reference)
	return r
}

// DepositGold credits the account.
func (s *Service) DepositGold(ctx context.Context, cmd DepositGoldCommand) Result {
	if cmd.Amount <= 0 {
		return failed(ErrInvalidAmount)
	}
	done, err := s.accounts.Deposit(ctx, cmd.AccountID, cmd.Amount)
	if err != nil {
		s.logger.Error("coinhouse deposit failed", "account", cmd.AccountID, "amount", cmd.Amount, "error", err)
		return failed(fmt.Errorf("depositing gold: %w", err))
	}
	if !done {
		return failed(ErrAccountNotFound)
	}
	r := ok()
	s.logger.Info("coinhouse deposit", "account", cmd.AccountID, "amount", cmd.Amount, "reason", cmd.Reason, "reference", r.Reference)
	return r
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/bazaar/internal/model"
)

const stallColumns = `id, tag, area_resref, settlement_tag, owner_character_id, owner_persona_id,
	owner_player_persona_id, owner_display_name, daily_rent, escrow_balance, lifetime_net_earnings,
	lease_start_at, last_rent_paid_at, next_rent_due_at, suspended_at, deactivated_at, is_active,
	coinhouse_account_id, hold_earnings_in_stall, updated_at`

// CreateStall inserts a new stall. Ledger entries and inventory on the
// argument are ignored.
func CreateStall(ctx context.Context, db *sql.DB, s model.PlayerStall) (*model.PlayerStall, error) {
	if s.NextRentDueAt.IsZero() {
		s.NextRentDueAt = time.Now().UTC().Add(24 * time.Hour)
	}

	var id int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO stalls (tag, area_resref, settlement_tag, owner_character_id, owner_persona_id,
		                     owner_player_persona_id, owner_display_name, daily_rent, escrow_balance,
		                     lifetime_net_earnings, lease_start_at, last_rent_paid_at, next_rent_due_at,
		                     suspended_at, deactivated_at, is_active, coinhouse_account_id,
		                     hold_earnings_in_stall, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		s.Tag, s.AreaResRef, s.SettlementTag, nullString(s.OwnerCharacterID), nullString(s.OwnerPersonaID),
		nullString(s.OwnerPlayerPersonaID), nullString(s.OwnerDisplayName), s.DailyRent, s.EscrowBalance,
		s.LifetimeNetEarnings, s.LeaseStartAt, s.LastRentPaidAt, s.NextRentDueAt.UTC(),
		s.SuspendedAt, s.DeactivatedAt, s.IsActive, nullString(s.CoinHouseAccountID),
		s.HoldEarningsInStall, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating stall: %w", err)
	}

	return GetStall(ctx, db, id)
}

// GetStall returns a stall with its ledger and inventory, or nil if it does
// not exist.
func GetStall(ctx context.Context, db *sql.DB, id int64) (*model.PlayerStall, error) {
	return loadStall(ctx, db, id)
}

// ListStalls returns every stall with its ledger and inventory.
func ListStalls(ctx context.Context, db *sql.DB) ([]model.PlayerStall, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+stallColumns+` FROM stalls ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing stalls: %w", err)
	}

	var stalls []model.PlayerStall
	for rows.Next() {
		s, err := scanStall(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stalls = append(stalls, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("listing stalls: %w", err)
	}
	rows.Close()

	for i := range stalls {
		if err := loadStallChildren(ctx, db, &stalls[i]); err != nil {
			return nil, err
		}
	}
	return stalls, nil
}

func loadStall(ctx context.Context, q querier, id int64) (*model.PlayerStall, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+stallColumns+` FROM stalls WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting stall: %w", err)
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("getting stall: %w", err)
		}
		return nil, nil
	}
	s, err := scanStall(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := loadStallChildren(ctx, q, s); err != nil {
		return nil, err
	}
	return s, nil
}

func scanStall(rows *sql.Rows) (*model.PlayerStall, error) {
	s := &model.PlayerStall{}
	var character, persona, playerPersona, displayName, account sql.NullString
	if err := rows.Scan(&s.ID, &s.Tag, &s.AreaResRef, &s.SettlementTag, &character, &persona,
		&playerPersona, &displayName, &s.DailyRent, &s.EscrowBalance, &s.LifetimeNetEarnings,
		&s.LeaseStartAt, &s.LastRentPaidAt, &s.NextRentDueAt, &s.SuspendedAt, &s.DeactivatedAt, &s.IsActive,
		&account, &s.HoldEarningsInStall, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning stall: %w", err)
	}
	s.OwnerCharacterID = character.String
	s.OwnerPersonaID = persona.String
	s.OwnerPlayerPersonaID = playerPersona.String
	s.OwnerDisplayName = displayName.String
	s.CoinHouseAccountID = account.String
	return s, nil
}

func loadStallChildren(ctx context.Context, q querier, s *model.PlayerStall) error {
	entries, err := listLedger(ctx, q, s.ID)
	if err != nil {
		return err
	}
	s.LedgerEntries = entries

	products, err := listStallProducts(ctx, q, s.ID)
	if err != nil {
		return err
	}
	s.Inventory = products
	return nil
}

func listLedger(ctx context.Context, q querier, stallID int64) ([]model.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, stall_id, reference, entry_type, amount, currency, description, occurred_at, metadata
		 FROM stall_ledger WHERE stall_id = ? ORDER BY id`, stallID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var entryType string
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.StallID, &e.Reference, &entryType, &e.Amount, &e.Currency,
			&e.Description, &e.OccurredAt, &metadata); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		e.Type = model.LedgerEntryType(entryType)
		if metadata.String != "" {
			// Metadata is informational; a malformed blob is dropped.
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func listStallProducts(ctx context.Context, q querier, stallID int64) ([]model.StallProduct, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, stall_id, resref, item_name, item_data, quantity, price, consignor_persona, sort_order, listed_at
		 FROM stall_products WHERE stall_id = ? ORDER BY sort_order, id`, stallID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stall products: %w", err)
	}
	defer rows.Close()

	var products []model.StallProduct
	for rows.Next() {
		var p model.StallProduct
		var consignor sql.NullString
		if err := rows.Scan(&p.ID, &p.StallID, &p.ResRef, &p.ItemName, &p.ItemData, &p.Quantity, &p.Price,
			&consignor, &p.SortOrder, &p.ListedAt); err != nil {
			return nil, fmt.Errorf("scanning stall product: %w", err)
		}
		p.ConsignorPersona = consignor.String
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateStall loads a stall inside a transaction, applies mutate to it and
// writes the result back. New ledger entries (ID zero) are appended; existing
// entries are never rewritten. Inventory rows are synchronized with the
// mutated stall. If mutate returns an error nothing is written and the error
// is returned unchanged.
func UpdateStall(ctx context.Context, db *sql.DB, id int64, mutate func(s *model.PlayerStall) error) (*model.PlayerStall, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	s, err := loadStall(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("stall %d not found", id)
	}

	before := make(map[int64]model.StallProduct, len(s.Inventory))
	for _, p := range s.Inventory {
		before[p.ID] = p
	}
	persistedEntries := len(s.LedgerEntries)

	if err := mutate(s); err != nil {
		return nil, err
	}

	if err := checkStallInvariants(s); err != nil {
		return nil, fmt.Errorf("stall %d: %w", id, err)
	}

	s.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE stalls SET owner_character_id = ?, owner_persona_id = ?, owner_player_persona_id = ?,
		        owner_display_name = ?, daily_rent = ?, escrow_balance = ?, lifetime_net_earnings = ?,
		        lease_start_at = ?, last_rent_paid_at = ?, next_rent_due_at = ?, suspended_at = ?,
		        deactivated_at = ?, is_active = ?, coinhouse_account_id = ?, hold_earnings_in_stall = ?,
		        updated_at = ?
		 WHERE id = ?`,
		nullString(s.OwnerCharacterID), nullString(s.OwnerPersonaID), nullString(s.OwnerPlayerPersonaID),
		nullString(s.OwnerDisplayName), s.DailyRent, s.EscrowBalance, s.LifetimeNetEarnings,
		s.LeaseStartAt, s.LastRentPaidAt, s.NextRentDueAt.UTC(), s.SuspendedAt,
		s.DeactivatedAt, s.IsActive, nullString(s.CoinHouseAccountID), s.HoldEarningsInStall,
		s.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating stall: %w", err)
	}

	if len(s.LedgerEntries) < persistedEntries {
		return nil, fmt.Errorf("stall %d: ledger entries cannot be removed", id)
	}
	for i := persistedEntries; i < len(s.LedgerEntries); i++ {
		e := &s.LedgerEntries[i]
		if e.ID != 0 {
			return nil, fmt.Errorf("stall %d: ledger entry %d cannot be rewritten", id, e.ID)
		}
		if err := insertLedgerEntry(ctx, tx, id, e); err != nil {
			return nil, err
		}
	}

	if err := syncStallProducts(ctx, tx, id, before, s.Inventory); err != nil {
		return nil, err
	}

	updated, err := loadStall(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing stall update: %w", err)
	}
	return updated, nil
}

func checkStallInvariants(s *model.PlayerStall) error {
	if s.EscrowBalance < 0 {
		return fmt.Errorf("escrow balance would be negative (%d)", s.EscrowBalance)
	}
	if s.DeactivatedAt != nil && (s.IsActive || s.HasOwner()) {
		return fmt.Errorf("deactivated stall must be inactive and unowned")
	}
	return nil
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, stallID int64, e *model.LedgerEntry) error {
	if e.Reference == "" {
		e.Reference = uuid.NewString()
	}
	if e.Currency == "" {
		e.Currency = model.CurrencyGold
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO stall_ledger (stall_id, reference, entry_type, amount, currency, description, occurred_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stallID, e.Reference, string(e.Type), e.Amount, e.Currency, e.Description, e.OccurredAt.UTC(),
		nullString(model.EncodeJSON(e.Metadata)),
	)
	if err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

func syncStallProducts(ctx context.Context, tx *sql.Tx, stallID int64, before map[int64]model.StallProduct, after []model.StallProduct) error {
	kept := make(map[int64]bool, len(after))
	for _, p := range after {
		if p.ID == 0 {
			if _, err := insertStallProduct(ctx, tx, stallID, p); err != nil {
				return err
			}
			continue
		}
		kept[p.ID] = true
		old, ok := before[p.ID]
		if !ok {
			return fmt.Errorf("stall product %d does not belong to stall %d", p.ID, stallID)
		}
		if old.Quantity == p.Quantity && old.Price == p.Price && old.SortOrder == p.SortOrder {
			continue
		}
		if p.Quantity <= 0 {
			kept[p.ID] = false
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE stall_products SET quantity = ?, price = ?, sort_order = ? WHERE id = ?`,
			p.Quantity, p.Price, p.SortOrder, p.ID,
		)
		if err != nil {
			return fmt.Errorf("updating stall product: %w", err)
		}
	}

	for id := range before {
		if kept[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stall_products WHERE id = ?`, id); err != nil {
			return fmt.Errorf("removing stall product: %w", err)
		}
	}
	return nil
}

func insertStallProduct(ctx context.Context, q querier, stallID int64, p model.StallProduct) (int64, error) {
	if len(p.ItemData) == 0 {
		return 0, fmt.Errorf("stall product has no payload")
	}
	if p.Quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive")
	}

	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO stall_products (stall_id, resref, item_name, item_data, quantity, price, consignor_persona, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		stallID, p.ResRef, p.ItemName, p.ItemData, p.Quantity, p.Price, nullString(p.ConsignorPersona), p.SortOrder,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting stall product: %w", err)
	}
	return id, nil
}

// AddStallProduct lists a consigned product in a stall.
func AddStallProduct(ctx context.Context, db *sql.DB, p model.StallProduct) (*model.StallProduct, error) {
	id, err := insertStallProduct(ctx, db, p.StallID, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

package model

import "time"

// PlayerStall is a player-leased shop with rent, escrow and ownership state.
//
// A released stall (DeactivatedAt set) is inactive and has no owner fields.
type PlayerStall struct {
	ID                   int64          `json:"id"`
	Tag                  string         `json:"tag"`
	AreaResRef           string         `json:"area_resref"`
	SettlementTag        string         `json:"settlement_tag,omitempty"`
	OwnerCharacterID     string         `json:"owner_character_id,omitempty"`
	OwnerPersonaID       string         `json:"owner_persona_id,omitempty"`
	OwnerPlayerPersonaID string         `json:"owner_player_persona_id,omitempty"`
	OwnerDisplayName     string         `json:"owner_display_name,omitempty"`
	DailyRent            int64          `json:"daily_rent"`
	EscrowBalance        int64          `json:"escrow_balance"`
	LifetimeNetEarnings  int64          `json:"lifetime_net_earnings"`
	LeaseStartAt         *time.Time     `json:"lease_start_at,omitempty"`
	LastRentPaidAt       *time.Time     `json:"last_rent_paid_at,omitempty"`
	NextRentDueAt        time.Time      `json:"next_rent_due_at"`
	SuspendedAt          *time.Time     `json:"suspended_at,omitempty"`
	DeactivatedAt        *time.Time     `json:"deactivated_at,omitempty"`
	IsActive             bool           `json:"is_active"`
	CoinHouseAccountID   string         `json:"coinhouse_account_id,omitempty"`
	HoldEarningsInStall  bool           `json:"hold_earnings_in_stall"`
	UpdatedAt            time.Time      `json:"updated_at"`
	LedgerEntries        []LedgerEntry  `json:"ledger_entries,omitempty"`
	Inventory            []StallProduct `json:"inventory,omitempty"`
}

// StallState is the rent lifecycle state of a stall.
type StallState string

// Stall states.
const (
	StallVacant   StallState = "vacant"
	StallActive   StallState = "active"
	StallGrace    StallState = "grace"
	StallReleased StallState = "released"
)

// State derives the lifecycle state from the stall's fields.
func (s *PlayerStall) State() StallState {
	switch {
	case !s.IsActive && s.DeactivatedAt != nil:
		return StallReleased
	case !s.IsActive:
		return StallVacant
	case s.SuspendedAt != nil:
		return StallGrace
	default:
		return StallActive
	}
}

// HasOwner reports whether any ownership field is set.
func (s *PlayerStall) HasOwner() bool {
	return s.OwnerCharacterID != "" || s.OwnerPersonaID != "" || s.OwnerPlayerPersonaID != ""
}

// OwnerPersona returns the persona that owns the stall's goods and money.
func (s *PlayerStall) OwnerPersona() string {
	if s.OwnerPersonaID != "" {
		return s.OwnerPersonaID
	}
	if s.OwnerCharacterID != "" {
		return string(CharacterPersona(s.OwnerCharacterID))
	}
	return s.OwnerPlayerPersonaID
}

// Release clears every ownership field at once and deactivates the stall.
func (s *PlayerStall) Release(now, nextRentDue time.Time) {
	s.OwnerCharacterID = ""
	s.OwnerPersonaID = ""
	s.OwnerPlayerPersonaID = ""
	s.OwnerDisplayName = ""
	s.CoinHouseAccountID = ""
	s.HoldEarningsInStall = false
	s.IsActive = false
	s.SuspendedAt = nil
	s.DeactivatedAt = &now
	s.NextRentDueAt = nextRentDue
}

// AppendLedger adds a new entry. Persisted entries are never modified.
func (s *PlayerStall) AppendLedger(e LedgerEntry) {
	e.StallID = s.ID
	s.LedgerEntries = append(s.LedgerEntries, e)
}

// InventoryUnits is the total quantity of consigned goods in the stall.
func (s *PlayerStall) InventoryUnits() int {
	total := 0
	for _, p := range s.Inventory {
		total += p.Quantity
	}
	return total
}

// StallProduct is a consigned product listed in a player stall.
type StallProduct struct {
	ID               int64     `json:"id"`
	StallID          int64     `json:"stall_id"`
	ResRef           string    `json:"resref,omitempty"`
	ItemName         string    `json:"item_name,omitempty"`
	ItemData         []byte    `json:"-"`
	Quantity         int       `json:"quantity"`
	Price            int64     `json:"price"`
	ConsignorPersona string    `json:"consignor_persona,omitempty"`
	SortOrder        int       `json:"sort_order"`
	ListedAt         time.Time `json:"listed_at"`
}

// LedgerEntryType classifies a stall ledger entry.
type LedgerEntryType string

// Ledger entry types.
const (
	LedgerSaleGross   LedgerEntryType = "sale_gross"
	LedgerRentPayment LedgerEntryType = "rent_payment"
	LedgerDeposit     LedgerEntryType = "deposit"
	LedgerWithdrawal  LedgerEntryType = "withdrawal"
	LedgerRefund      LedgerEntryType = "refund"
	LedgerFee         LedgerEntryType = "fee"
)

// CurrencyGold is the default ledger currency.
const CurrencyGold = "gold"

// LedgerEntry is an immutable financial record on a stall.
type LedgerEntry struct {
	ID          int64             `json:"id"`
	StallID     int64             `json:"stall_id"`
	Reference   string            `json:"reference"`
	Type        LedgerEntryType   `json:"type"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

package stall

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/erazemk/bazaar/internal/coinhouse"
	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/events"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/store"
)

type note struct {
	owner   string
	message string
	color   events.Color
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) Notify(ctx context.Context, owner, message string, color events.Color) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{owner, message, color})
	return nil
}

type fakeBroadcaster struct {
	stalls []int64
}

func (f *fakeBroadcaster) BroadcastSellerRefresh(ctx context.Context, stallID int64) error {
	f.stalls = append(f.stalls, stallID)
	return nil
}

type fakePublisher struct {
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeCustodian struct {
	handed []model.PlayerStall
}

func (f *fakeCustodian) TransferInventoryToMarketReeve(ctx context.Context, s model.PlayerStall) (int, error) {
	f.handed = append(f.handed, s)
	return s.InventoryUnits(), nil
}

type harness struct {
	db        *sql.DB
	svc       *RentRenewalService
	ledger    *Ledger
	notifier  *fakeNotifier
	refreshes *fakeBroadcaster
	publisher *fakePublisher
	custodian *fakeCustodian
	now       time.Time
}

// newHarness runs the service three hours ahead of the wall clock, so stalls
// written now look idle for three hours.
func newHarness(t *testing.T) *harness {
	t.Helper()
	database := db.NewTestDB(t)
	h := &harness{
		db:        database,
		notifier:  &fakeNotifier{},
		refreshes: &fakeBroadcaster{},
		publisher: &fakePublisher{},
		custodian: &fakeCustodian{},
		now:       time.Now().UTC().Add(3 * time.Hour),
	}
	coins := coinhouse.NewService(store.Accounts{DB: database}, nil)
	h.svc = NewRentRenewalService(Services{
		Store:       store.Stalls{DB: database},
		CoinHouse:   coins,
		Wallet:      store.Wallets{DB: database},
		Notifier:    h.notifier,
		Broadcaster: h.refreshes,
		Custodian:   h.custodian,
		Publisher:   h.publisher,
	}, Config{}, nil)
	h.svc.now = func() time.Time { return h.now }
	h.ledger = NewLedger(store.Stalls{DB: database}, store.Wallets{DB: database}, coins, nil)
	return h
}

const ownerPersona = "character:c1"

func (h *harness) createStall(t *testing.T, s model.PlayerStall) *model.PlayerStall {
	t.Helper()
	if s.Tag == "" {
		s.Tag = "stall_north_1"
	}
	if s.AreaResRef == "" {
		s.AreaResRef = "market_north"
	}
	if s.OwnerPersonaID == "" {
		s.OwnerCharacterID = "c1"
		s.OwnerPersonaID = ownerPersona
	}
	if s.DailyRent == 0 {
		s.DailyRent = 100
	}
	s.IsActive = true
	created, err := store.CreateStall(context.Background(), h.db, s)
	if err != nil {
		t.Fatalf("CreateStall: %v", err)
	}
	return created
}

func (h *harness) addProduct(t *testing.T, stallID int64, quantity int) *model.StallProduct {
	t.Helper()
	p, err := store.AddStallProduct(context.Background(), h.db, model.StallProduct{
		StallID:          stallID,
		ResRef:           "nw_it_gem001",
		ItemName:         "Ruby",
		ItemData:         []byte(`{"tag":"ruby"}`),
		Quantity:         quantity,
		Price:            250,
		ConsignorPersona: ownerPersona,
	})
	if err != nil {
		t.Fatalf("AddStallProduct: %v", err)
	}
	return p
}

func (h *harness) stall(t *testing.T, id int64) *model.PlayerStall {
	t.Helper()
	s, err := store.GetStall(context.Background(), h.db, id)
	if err != nil || s == nil {
		t.Fatalf("GetStall: %v, %v", s, err)
	}
	return s
}

func (h *harness) gold(t *testing.T, persona string) int64 {
	t.Helper()
	gold, err := store.GetGold(context.Background(), h.db, persona)
	if err != nil {
		t.Fatalf("GetGold: %v", err)
	}
	return gold
}

func (h *harness) balance(t *testing.T, account string) int64 {
	t.Helper()
	balance, ok, err := store.GetCoinhouseBalance(context.Background(), h.db, account)
	if err != nil || !ok {
		t.Fatalf("GetCoinhouseBalance: %v, %v", ok, err)
	}
	return balance
}

func (h *harness) cycle(t *testing.T) {
	t.Helper()
	if err := h.svc.RunSingleCycle(context.Background()); err != nil {
		t.Fatalf("RunSingleCycle: %v", err)
	}
}

func ptr(t time.Time) *time.Time { return &t }

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/erazemk/bazaar/internal/model"
)

// The types below bind the package functions to a database so they can be
// handed to services that depend on narrow interfaces.

// Shops is the shop catalog persistence facade.
type Shops struct {
	DB *sql.DB
}

func (s Shops) GetAll(ctx context.Context) ([]model.ShopRecord, error) {
	return ListShops(ctx, s.DB)
}

func (s Shops) GetByTag(ctx context.Context, tag string) (*model.ShopRecord, error) {
	return GetShopByTag(ctx, s.DB, tag)
}

func (s Shops) Upsert(ctx context.Context, def model.ShopDefinition, hash string) (*model.ShopRecord, error) {
	return UpsertShopDefinition(ctx, s.DB, def, hash)
}

func (s Shops) TryConsumeStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	return TryConsumeStock(ctx, s.DB, productID, quantity)
}

func (s Shops) ReturnStock(ctx context.Context, productID int64, quantity int) (int, error) {
	return ReturnStock(ctx, s.DB, productID, quantity)
}

func (s Shops) RestockProduct(ctx context.Context, productID int64, amount int) (int, int, error) {
	return RestockProduct(ctx, s.DB, productID, amount)
}

func (s Shops) TakeVaultItem(ctx context.Context, productID int64) (*model.ConsignedItem, error) {
	return TakeVaultItem(ctx, s.DB, productID)
}

func (s Shops) StoreVaultItem(ctx context.Context, item model.ConsignedItem) (*model.ConsignedItem, error) {
	return StoreVaultItem(ctx, s.DB, item)
}

func (s Shops) UpsertPlayerProduct(ctx context.Context, shopID int64, p model.ShopProduct, item model.ConsignedItem) (*model.ShopProduct, error) {
	return UpsertPlayerProduct(ctx, s.DB, shopID, p, item)
}

func (s Shops) UpdateNextRestock(ctx context.Context, shopID int64, at time.Time) error {
	return UpdateNextRestock(ctx, s.DB, shopID, at)
}

// Stalls is the player stall persistence facade.
type Stalls struct {
	DB *sql.DB
}

func (s Stalls) ListStalls(ctx context.Context) ([]model.PlayerStall, error) {
	return ListStalls(ctx, s.DB)
}

func (s Stalls) GetStall(ctx context.Context, id int64) (*model.PlayerStall, error) {
	return GetStall(ctx, s.DB, id)
}

func (s Stalls) UpdateStall(ctx context.Context, id int64, mutate func(*model.PlayerStall) error) (*model.PlayerStall, error) {
	return UpdateStall(ctx, s.DB, id, mutate)
}

func (s Stalls) MoveStallProductToReeve(ctx context.Context, stallID, productID int64, quantity int, items []model.StoredItem) error {
	return MoveStallProductToReeve(ctx, s.DB, stallID, productID, quantity, items)
}

// Reeve is the market reeve lockup persistence facade.
type Reeve struct {
	DB *sql.DB
}

func (r Reeve) FindOrCreateContainer(ctx context.Context, engineID, areaResRef string) (int64, error) {
	return FindOrCreateReeveContainer(ctx, r.DB, engineID, areaResRef)
}

func (r Reeve) InsertItem(ctx context.Context, item model.StoredItem) (int64, error) {
	return InsertReeveItem(ctx, r.DB, item)
}

func (r Reeve) ListItems(ctx context.Context, persona, areaResRef string) ([]model.StoredItem, error) {
	return ListReeveItems(ctx, r.DB, persona, areaResRef)
}

func (r Reeve) CountItems(ctx context.Context, persona, areaResRef string) (int, error) {
	return CountReeveItems(ctx, r.DB, persona, areaResRef)
}

func (r Reeve) GetItem(ctx context.Context, id int64, persona, areaResRef string) (*model.StoredItem, error) {
	return GetReeveItem(ctx, r.DB, id, persona, areaResRef)
}

func (r Reeve) DeleteItem(ctx context.Context, id int64) error {
	return DeleteReeveItem(ctx, r.DB, id)
}

// Accounts is the coinhouse account persistence facade.
type Accounts struct {
	DB *sql.DB
}

func (a Accounts) Withdraw(ctx context.Context, accountID string, amount int64) (bool, error) {
	return WithdrawFromAccount(ctx, a.DB, accountID, amount)
}

func (a Accounts) Deposit(ctx context.Context, accountID string, amount int64) (bool, error) {
	return DepositToAccount(ctx, a.DB, accountID, amount)
}

// Wallets holds the gold personas carry on them.
type Wallets struct {
	DB *sql.DB
}

func (w Wallets) TakeGold(ctx context.Context, persona string, amount int64) (bool, error) {
	return DebitGold(ctx, w.DB, persona, amount)
}

func (w Wallets) GiveGold(ctx context.Context, persona string, amount int64) error {
	return CreditGold(ctx, w.DB, persona, amount)
}

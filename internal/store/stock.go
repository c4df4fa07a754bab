package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/bazaar/internal/model"
)

// TryConsumeStock decrements a product's stock if at least quantity units are
// available. It reports false, without error, when stock is insufficient.
func TryConsumeStock(ctx context.Context, db *sql.DB, productID int64, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("quantity must be positive")
	}

	result, err := db.ExecContext(ctx,
		`UPDATE shop_products SET current_stock = current_stock - ?
		 WHERE id = ? AND current_stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("consuming stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming stock: %w", err)
	}
	return n == 1, nil
}

// ReturnStock adds quantity units back to a product, never exceeding its
// maximum stock when one is set. It returns the stock after the update.
func ReturnStock(ctx context.Context, db *sql.DB, productID int64, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive")
	}

	var stock int
	err := db.QueryRowContext(ctx,
		`UPDATE shop_products
		 SET current_stock = CASE WHEN max_stock > 0 THEN MIN(max_stock, current_stock + ?)
		                          ELSE current_stock + ? END
		 WHERE id = ?
		 RETURNING current_stock`,
		quantity, quantity, productID,
	).Scan(&stock)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %d not found", productID)
	}
	if err != nil {
		return 0, fmt.Errorf("returning stock: %w", err)
	}
	return stock, nil
}

// RestockProduct adds up to amount units to a product, never exceeding its
// maximum stock. It returns how many units were actually added and the stock
// after the update.
func RestockProduct(ctx context.Context, db *sql.DB, productID int64, amount int) (added, stock int, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("amount must be positive")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var before, maxStock int
	err = tx.QueryRowContext(ctx,
		`SELECT current_stock, max_stock FROM shop_products WHERE id = ?`, productID,
	).Scan(&before, &maxStock)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("product %d not found", productID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("restocking product: %w", err)
	}

	stock = before + amount
	if maxStock > 0 {
		stock = max(before, min(maxStock, stock))
	}
	if stock != before {
		if _, err := tx.ExecContext(ctx,
			`UPDATE shop_products SET current_stock = ? WHERE id = ?`, stock, productID,
		); err != nil {
			return 0, 0, fmt.Errorf("restocking product: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing restock: %w", err)
	}
	return stock - before, stock, nil
}

// TakeVaultItem removes and returns the oldest consigned item for a product,
// or nil if the vault holds none.
func TakeVaultItem(ctx context.Context, db *sql.DB, productID int64) (*model.ConsignedItem, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item := &model.ConsignedItem{}
	var owner, name, resref sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, shop_id, product_id, owner_persona, item_data, quantity, item_name, resref, stored_at
		 FROM vault_items WHERE product_id = ? ORDER BY id LIMIT 1`, productID,
	).Scan(&item.ID, &item.ShopID, &item.ProductID, &owner, &item.ItemData, &item.Quantity, &name, &resref, &item.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taking vault item: %w", err)
	}
	item.OwnerPersona = owner.String
	item.ItemName = name.String
	item.ResRef = resref.String

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_items WHERE id = ?`, item.ID); err != nil {
		return nil, fmt.Errorf("removing vault item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing vault take: %w", err)
	}
	return item, nil
}

// StoreVaultItem puts a consigned item into a product's vault.
func StoreVaultItem(ctx context.Context, db *sql.DB, item model.ConsignedItem) (*model.ConsignedItem, error) {
	return storeVaultItem(ctx, db, item)
}

func storeVaultItem(ctx context.Context, q querier, item model.ConsignedItem) (*model.ConsignedItem, error) {
	if len(item.ItemData) == 0 {
		return nil, fmt.Errorf("consigned item has no payload")
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO vault_items (shop_id, product_id, owner_persona, item_data, quantity, item_name, resref)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		item.ShopID, item.ProductID, nullString(item.OwnerPersona), item.ItemData, item.Quantity,
		nullString(item.ItemName), nullString(item.ResRef),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("storing vault item: %w", err)
	}
	item.ID = id
	return &item, nil
}

// CountVaultItems returns how many consigned items a product's vault holds.
func CountVaultItems(ctx context.Context, db *sql.DB, productID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vault_items WHERE product_id = ?`, productID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting vault items: %w", err)
	}
	return count, nil
}

// UpsertPlayerProduct creates or updates a player-managed product and stores
// one consigned unit for it, all in one transaction. Each vault item backs
// exactly one unit of stock. The persisted product is returned.
func UpsertPlayerProduct(ctx context.Context, db *sql.DB, shopID int64, product model.ShopProduct, item model.ConsignedItem) (*model.ShopProduct, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id := product.ID
	if id == 0 {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO shop_products (shop_id, resref, display_name, price, current_stock, max_stock, restock_amount,
			                            is_player_managed, sort_order, base_item_type, local_variables, appearance,
			                            consignor_persona)
			 VALUES (?, ?, ?, ?, 1, 0, 0, 1, ?, ?, ?, ?, ?)
			 RETURNING id`,
			shopID, product.ResRef, product.DisplayName, product.Price, product.SortOrder, product.BaseItemType,
			nullString(model.EncodeJSON(product.LocalVariables)), nullString(model.EncodeJSON(product.Appearance)),
			nullString(product.ConsignorPersona),
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("inserting player product: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx,
			`UPDATE shop_products SET display_name = ?, price = ?, current_stock = current_stock + 1, sort_order = ?
			 WHERE id = ? AND shop_id = ? AND is_player_managed = 1`,
			product.DisplayName, product.Price, product.SortOrder, id, shopID,
		)
		if err != nil {
			return nil, fmt.Errorf("updating player product: %w", err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("player product %d not found in shop %d", id, shopID)
		}
	}

	item.ShopID = shopID
	item.ProductID = id
	if _, err := storeVaultItem(ctx, tx, item); err != nil {
		return nil, err
	}

	stored, err := scanProduct(tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM shop_products WHERE id = ?`, id,
	))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing player product: %w", err)
	}
	return stored, nil
}

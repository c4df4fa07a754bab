package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/bazaar/internal/model"
)

const shopColumns = `id, tag, display_name, shopkeeper_tag, kind, restock_min_minutes, restock_max_minutes,
	manual_restock, markup_percent, accepted_categories, definition_hash, next_restock_at, created_at, updated_at`

const productColumns = `id, shop_id, resref, display_name, price, current_stock, max_stock, restock_amount,
	is_player_managed, sort_order, base_item_type, local_variables, appearance, consignor_persona`

// ListShops returns every shop with its products.
func ListShops(ctx context.Context, db *sql.DB) ([]model.ShopRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("listing shops: %w", err)
	}

	var shops []model.ShopRecord
	for rows.Next() {
		s, err := scanShop(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		shops = append(shops, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("listing shops: %w", err)
	}
	rows.Close()

	for i := range shops {
		products, err := listProducts(ctx, db, shops[i].ID)
		if err != nil {
			return nil, err
		}
		shops[i].Products = products
	}
	return shops, nil
}

// GetShopByTag returns a shop with its products, or nil if it does not exist.
func GetShopByTag(ctx context.Context, db *sql.DB, tag string) (*model.ShopRecord, error) {
	return getShop(ctx, db, `SELECT `+shopColumns+` FROM shops WHERE tag = ?`, tag)
}

// GetShop returns a shop by ID, or nil if it does not exist.
func GetShop(ctx context.Context, db *sql.DB, id int64) (*model.ShopRecord, error) {
	return getShop(ctx, db, `SELECT `+shopColumns+` FROM shops WHERE id = ?`, id)
}

func getShop(ctx context.Context, q querier, query string, arg any) (*model.ShopRecord, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting shop: %w", err)
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("getting shop: %w", err)
		}
		return nil, nil
	}
	s, err := scanShop(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	s.Products, err = listProducts(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanShop(rows *sql.Rows) (*model.ShopRecord, error) {
	s := &model.ShopRecord{}
	var categories sql.NullString
	var kind string
	if err := rows.Scan(&s.ID, &s.Tag, &s.DisplayName, &s.ShopkeeperTag, &kind, &s.RestockMinMinutes,
		&s.RestockMaxMinutes, &s.ManualRestock, &s.MarkupPercent, &categories, &s.DefinitionHash,
		&s.NextRestockAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning shop: %w", err)
	}
	s.Kind = model.ShopKind(kind)
	s.AcceptedCategories = model.DecodeCategories(categories.String)
	return s, nil
}

func listProducts(ctx context.Context, q querier, shopID int64) ([]model.ShopProduct, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+productColumns+` FROM shop_products WHERE shop_id = ? ORDER BY sort_order, id`, shopID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	var products []model.ShopProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*model.ShopProduct, error) {
	p := &model.ShopProduct{}
	var baseType sql.NullInt64
	var localVars, appearance, consignor sql.NullString
	if err := row.Scan(&p.ID, &p.ShopID, &p.ResRef, &p.DisplayName, &p.Price, &p.CurrentStock, &p.MaxStock,
		&p.RestockAmount, &p.IsPlayerManaged, &p.SortOrder, &baseType, &localVars, &appearance, &consignor); err != nil {
		return nil, fmt.Errorf("scanning product: %w", err)
	}
	if baseType.Valid {
		v := int(baseType.Int64)
		p.BaseItemType = &v
	}
	p.LocalVariables = model.DecodeLocalVariables(localVars.String)
	p.Appearance = model.DecodeAppearance(appearance.String)
	p.ConsignorPersona = consignor.String
	return p, nil
}

// GetProduct returns a product by ID, or nil if it does not exist.
func GetProduct(ctx context.Context, db *sql.DB, id int64) (*model.ShopProduct, error) {
	p, err := scanProduct(db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM shop_products WHERE id = ?`, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// UpsertShopDefinition writes a shop definition and its definition-driven
// products in one transaction. Existing products are matched by resref so
// their current stock survives a reload; player-managed products are never
// touched. The persisted shop is returned.
func UpsertShopDefinition(ctx context.Context, db *sql.DB, def model.ShopDefinition, hash string) (*model.ShopRecord, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO shops (tag, display_name, shopkeeper_tag, kind, restock_min_minutes, restock_max_minutes,
		                    manual_restock, markup_percent, accepted_categories, definition_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tag) DO UPDATE SET
		     display_name = excluded.display_name,
		     shopkeeper_tag = excluded.shopkeeper_tag,
		     kind = excluded.kind,
		     restock_min_minutes = excluded.restock_min_minutes,
		     restock_max_minutes = excluded.restock_max_minutes,
		     manual_restock = excluded.manual_restock,
		     markup_percent = excluded.markup_percent,
		     accepted_categories = excluded.accepted_categories,
		     definition_hash = excluded.definition_hash,
		     updated_at = excluded.updated_at`,
		def.Tag, def.DisplayName, def.ShopkeeperTag, string(def.Kind), def.Restock.MinMinutes, def.Restock.MaxMinutes,
		def.Restock.Manual, def.MarkupPercent, nullString(model.EncodeJSON(def.AcceptedCategories)), hash, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting shop: %w", err)
	}

	var shopID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM shops WHERE tag = ?`, def.Tag).Scan(&shopID); err != nil {
		return nil, fmt.Errorf("getting shop id: %w", err)
	}

	existing, err := listProducts(ctx, tx, shopID)
	if err != nil {
		return nil, err
	}

	// Index definition-driven products by resref; one resref may back several lines.
	byResRef := make(map[string][]model.ShopProduct)
	for _, p := range existing {
		if !p.IsPlayerManaged {
			byResRef[p.ResRef] = append(byResRef[p.ResRef], p)
		}
	}

	for _, pd := range def.Products {
		candidates := byResRef[pd.ResRef]
		if len(candidates) == 0 {
			if err := insertDefinedProduct(ctx, tx, shopID, pd); err != nil {
				return nil, err
			}
			continue
		}

		current := candidates[0]
		byResRef[pd.ResRef] = candidates[1:]

		stock := current.CurrentStock
		if pd.MaxStock > 0 && stock > pd.MaxStock {
			stock = pd.MaxStock
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE shop_products SET display_name = ?, price = ?, current_stock = ?, max_stock = ?,
			        restock_amount = ?, sort_order = ?, base_item_type = ?, local_variables = ?, appearance = ?
			 WHERE id = ?`,
			pd.DisplayName, pd.Price, stock, pd.MaxStock, pd.RestockAmount, pd.SortOrder, pd.BaseItemType,
			nullString(model.EncodeJSON(pd.LocalVariables)), nullString(model.EncodeJSON(pd.Appearance)), current.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("updating product %s: %w", pd.ResRef, err)
		}
	}

	// Whatever was not matched is no longer part of the definition.
	for _, leftovers := range byResRef {
		for _, p := range leftovers {
			if _, err := tx.ExecContext(ctx, `DELETE FROM shop_products WHERE id = ?`, p.ID); err != nil {
				return nil, fmt.Errorf("removing product %d: %w", p.ID, err)
			}
		}
	}

	record, err := getShop(ctx, tx, `SELECT `+shopColumns+` FROM shops WHERE id = ?`, shopID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing shop upsert: %w", err)
	}
	return record, nil
}

func insertDefinedProduct(ctx context.Context, tx *sql.Tx, shopID int64, pd model.ProductDefinition) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO shop_products (shop_id, resref, display_name, price, current_stock, max_stock, restock_amount,
		                            is_player_managed, sort_order, base_item_type, local_variables, appearance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		shopID, pd.ResRef, pd.DisplayName, pd.Price, pd.StartingStock(), pd.MaxStock, pd.RestockAmount,
		pd.SortOrder, pd.BaseItemType, nullString(model.EncodeJSON(pd.LocalVariables)),
		nullString(model.EncodeJSON(pd.Appearance)),
	)
	if err != nil {
		return fmt.Errorf("inserting product %s: %w", pd.ResRef, err)
	}
	return nil
}

// UpdateNextRestock records when a shop is next due for restock.
func UpdateNextRestock(ctx context.Context, db *sql.DB, shopID int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE shops SET next_restock_at = ? WHERE id = ?`, at.UTC(), shopID,
	)
	if err != nil {
		return fmt.Errorf("updating next restock: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/bazaar/internal/model"
)

// FindOrCreateReeveContainer returns the container with the given engine ID,
// creating it if needed.
func FindOrCreateReeveContainer(ctx context.Context, db *sql.DB, engineID, areaResRef string) (int64, error) {
	// INSERT OR IGNORE + re-SELECT so concurrent callers converge on one row.
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reeve_containers (engine_id, area_resref) VALUES (?, ?)`,
		engineID, areaResRef,
	)
	if err != nil {
		return 0, fmt.Errorf("creating reeve container: %w", err)
	}

	var id int64
	err = db.QueryRowContext(ctx,
		`SELECT id FROM reeve_containers WHERE engine_id = ?`, engineID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting reeve container: %w", err)
	}
	return id, nil
}

// InsertReeveItem stores one unit in a reeve container.
func InsertReeveItem(ctx context.Context, db *sql.DB, item model.StoredItem) (int64, error) {
	return insertReeveItem(ctx, db, item)
}

func insertReeveItem(ctx context.Context, q querier, item model.StoredItem) (int64, error) {
	if len(item.ItemData) == 0 {
		return 0, fmt.Errorf("stored item has no payload")
	}
	if item.OwnerPersona == "" {
		return 0, fmt.Errorf("stored item has no owner")
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO reeve_items (container_id, owner_persona, area_resref, item_data, item_name, resref)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ContainerID, item.OwnerPersona, item.AreaResRef, item.ItemData,
		nullString(item.ItemName), nullString(item.ResRef),
	)
	if err != nil {
		return 0, fmt.Errorf("storing reeve item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting reeve item id: %w", err)
	}
	return id, nil
}

// MoveStallProductToReeve takes len(items) units off a stall product and
// stores items in the reeve in one transaction. quantity is the product's
// quantity as the caller read it; if the row no longer holds exactly that
// many units nothing is moved.
func MoveStallProductToReeve(ctx context.Context, db *sql.DB, stallID, productID int64, quantity int, items []model.StoredItem) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > quantity {
		return fmt.Errorf("cannot move %d units of a product holding %d", len(items), quantity)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var result sql.Result
	if remaining := quantity - len(items); remaining == 0 {
		result, err = tx.ExecContext(ctx,
			`DELETE FROM stall_products WHERE id = ? AND stall_id = ? AND quantity = ?`,
			productID, stallID, quantity,
		)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE stall_products SET quantity = ? WHERE id = ? AND stall_id = ? AND quantity = ?`,
			remaining, productID, stallID, quantity,
		)
	}
	if err != nil {
		return fmt.Errorf("taking stall product: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("taking stall product: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("stall product %d no longer holds %d units", productID, quantity)
	}

	for _, item := range items {
		if _, err := insertReeveItem(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reeve move: %w", err)
	}
	return nil
}

// ListReeveItems returns the stored items for an owner in an area, oldest first.
func ListReeveItems(ctx context.Context, db *sql.DB, persona, areaResRef string) ([]model.StoredItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, container_id, owner_persona, area_resref, item_data, item_name, resref, stored_at
		 FROM reeve_items WHERE owner_persona = ? AND area_resref = ?
		 ORDER BY id`, persona, areaResRef,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reeve items: %w", err)
	}
	defer rows.Close()

	var items []model.StoredItem
	for rows.Next() {
		var it model.StoredItem
		var name, resref sql.NullString
		if err := rows.Scan(&it.ID, &it.ContainerID, &it.OwnerPersona, &it.AreaResRef, &it.ItemData,
			&name, &resref, &it.StoredAt); err != nil {
			return nil, fmt.Errorf("scanning reeve item: %w", err)
		}
		it.ItemName = name.String
		it.ResRef = resref.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountReeveItems returns how many items an owner has stored in an area.
func CountReeveItems(ctx context.Context, db *sql.DB, persona, areaResRef string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reeve_items WHERE owner_persona = ? AND area_resref = ?`,
		persona, areaResRef,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting reeve items: %w", err)
	}
	return count, nil
}

// GetReeveItem returns a stored item if it belongs to the owner and area, or nil.
func GetReeveItem(ctx context.Context, db *sql.DB, id int64, persona, areaResRef string) (*model.StoredItem, error) {
	it := &model.StoredItem{}
	var name, resref sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, container_id, owner_persona, area_resref, item_data, item_name, resref, stored_at
		 FROM reeve_items WHERE id = ? AND owner_persona = ? AND area_resref = ?`,
		id, persona, areaResRef,
	).Scan(&it.ID, &it.ContainerID, &it.OwnerPersona, &it.AreaResRef, &it.ItemData, &name, &resref, &it.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting reeve item: %w", err)
	}
	it.ItemName = name.String
	it.ResRef = resref.String
	return it, nil
}

// DeleteReeveItem removes a stored item.
func DeleteReeveItem(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM reeve_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting reeve item: %w", err)
	}
	return nil
}

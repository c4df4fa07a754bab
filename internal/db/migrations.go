package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: reeve lookups are always by owner and area.
	`CREATE INDEX IF NOT EXISTS idx_reeve_items_owner_area
	     ON reeve_items(owner_persona, area_resref)`,

	// Migration 2: the rent cycle scans stalls by due date.
	`CREATE INDEX IF NOT EXISTS idx_stalls_next_rent_due
	     ON stalls(next_rent_due_at)`,
}

// Migrate ensures the schema and then runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}

package db

import "testing"

func TestMigrateIsIdempotent(t *testing.T) {
	database := NewTestDB(t)

	for i := 0; i < 2; i++ {
		if err := Migrate(database); err != nil {
			t.Fatalf("Migrate run %d: %v", i+1, err)
		}
	}

	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_reeve_items_owner_area'`,
	).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected reeve index to exist once, got %d", count)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	database := NewTestDB(t)

	var enabled int
	if err := database.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled); err != nil {
		t.Fatal(err)
	}
	if enabled != 1 {
		t.Errorf("expected foreign_keys=1, got %d", enabled)
	}
}

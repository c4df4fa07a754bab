package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS shops (
    id                  INTEGER PRIMARY KEY,
    tag                 TEXT NOT NULL UNIQUE,
    display_name        TEXT NOT NULL DEFAULT '',
    shopkeeper_tag      TEXT NOT NULL,
    kind                TEXT NOT NULL DEFAULT 'npc' CHECK (kind IN ('npc', 'player')),
    restock_min_minutes INTEGER NOT NULL DEFAULT 0,
    restock_max_minutes INTEGER NOT NULL DEFAULT 0,
    manual_restock      INTEGER NOT NULL DEFAULT 0,
    markup_percent      INTEGER NOT NULL DEFAULT 0,
    accepted_categories TEXT,
    definition_hash     TEXT NOT NULL DEFAULT '',
    next_restock_at     DATETIME,
    created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_shops_shopkeeper
    ON shops(shopkeeper_tag);

CREATE TABLE IF NOT EXISTS shop_products (
    id                INTEGER PRIMARY KEY,
    shop_id           INTEGER NOT NULL REFERENCES shops(id) ON DELETE CASCADE,
    resref            TEXT NOT NULL,
    display_name      TEXT NOT NULL DEFAULT '',
    price             INTEGER NOT NULL CHECK (price >= 0),
    current_stock     INTEGER NOT NULL DEFAULT 0 CHECK (current_stock >= 0),
    max_stock         INTEGER NOT NULL DEFAULT 0 CHECK (max_stock >= 0),
    restock_amount    INTEGER NOT NULL DEFAULT 0 CHECK (restock_amount >= 0),
    is_player_managed INTEGER NOT NULL DEFAULT 0,
    sort_order        INTEGER NOT NULL DEFAULT 0,
    base_item_type    INTEGER,
    local_variables   TEXT,
    appearance        TEXT,
    consignor_persona TEXT
);

CREATE INDEX IF NOT EXISTS idx_shop_products_shop
    ON shop_products(shop_id);

CREATE TABLE IF NOT EXISTS vault_items (
    id            INTEGER PRIMARY KEY,
    shop_id       INTEGER NOT NULL REFERENCES shops(id) ON DELETE CASCADE,
    product_id    INTEGER NOT NULL REFERENCES shop_products(id) ON DELETE CASCADE,
    owner_persona TEXT,
    item_data     BLOB NOT NULL,
    quantity      INTEGER NOT NULL DEFAULT 1 CHECK (quantity > 0),
    item_name     TEXT,
    resref        TEXT,
    stored_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vault_items_product
    ON vault_items(product_id);

CREATE TABLE IF NOT EXISTS stalls (
    id                      INTEGER PRIMARY KEY,
    tag                     TEXT NOT NULL UNIQUE,
    area_resref             TEXT NOT NULL,
    settlement_tag          TEXT NOT NULL DEFAULT '',
    owner_character_id      TEXT,
    owner_persona_id        TEXT,
    owner_player_persona_id TEXT,
    owner_display_name      TEXT,
    daily_rent              INTEGER NOT NULL DEFAULT 0 CHECK (daily_rent >= 0),
    escrow_balance          INTEGER NOT NULL DEFAULT 0 CHECK (escrow_balance >= 0),
    lifetime_net_earnings   INTEGER NOT NULL DEFAULT 0,
    lease_start_at          DATETIME,
    last_rent_paid_at       DATETIME,
    next_rent_due_at        DATETIME NOT NULL,
    suspended_at            DATETIME,
    deactivated_at          DATETIME,
    is_active               INTEGER NOT NULL DEFAULT 0,
    coinhouse_account_id    TEXT,
    hold_earnings_in_stall  INTEGER NOT NULL DEFAULT 0,
    updated_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS stall_ledger (
    id          INTEGER PRIMARY KEY,
    stall_id    INTEGER NOT NULL REFERENCES stalls(id),
    reference   TEXT NOT NULL,
    entry_type  TEXT NOT NULL CHECK (entry_type IN ('sale_gross', 'rent_payment', 'deposit', 'withdrawal', 'refund', 'fee')),
    amount      INTEGER NOT NULL,
    currency    TEXT NOT NULL DEFAULT 'gold',
    description TEXT NOT NULL DEFAULT '',
    occurred_at DATETIME NOT NULL,
    metadata    TEXT
);

CREATE INDEX IF NOT EXISTS idx_stall_ledger_stall
    ON stall_ledger(stall_id, id);

CREATE TABLE IF NOT EXISTS stall_products (
    id                INTEGER PRIMARY KEY,
    stall_id          INTEGER NOT NULL REFERENCES stalls(id),
    resref            TEXT NOT NULL DEFAULT '',
    item_name         TEXT NOT NULL DEFAULT '',
    item_data         BLOB NOT NULL,
    quantity          INTEGER NOT NULL CHECK (quantity > 0),
    price             INTEGER NOT NULL DEFAULT 0 CHECK (price >= 0),
    consignor_persona TEXT,
    sort_order        INTEGER NOT NULL DEFAULT 0,
    listed_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_stall_products_stall
    ON stall_products(stall_id);

CREATE TABLE IF NOT EXISTS reeve_containers (
    id          INTEGER PRIMARY KEY,
    engine_id   TEXT NOT NULL UNIQUE,
    area_resref TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reeve_items (
    id            INTEGER PRIMARY KEY,
    container_id  INTEGER NOT NULL REFERENCES reeve_containers(id),
    owner_persona TEXT NOT NULL,
    area_resref   TEXT NOT NULL,
    item_data     BLOB NOT NULL,
    item_name     TEXT,
    resref        TEXT,
    stored_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS coinhouse_accounts (
    id            TEXT PRIMARY KEY,
    owner_persona TEXT NOT NULL,
    balance       INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS wallets (
    persona TEXT PRIMARY KEY,
    gold    INTEGER NOT NULL DEFAULT 0 CHECK (gold >= 0)
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

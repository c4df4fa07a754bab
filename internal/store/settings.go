package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// GetSigningSecret retrieves the operator token signing secret, generating
// and storing one on first use.
func GetSigningSecret(ctx context.Context, db *sql.DB) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating signing secret: %w", err)
	}
	return getOrCreateSetting(ctx, db, "signing_secret", hex.EncodeToString(buf))
}

// GetSetting returns a setting value, or "" if it is not set.
func GetSetting(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting %s: %w", key, err)
	}
	return value, nil
}

// getOrCreateSetting uses INSERT OR IGNORE + re-SELECT to avoid a TOCTOU race
// between concurrent first users.
func getOrCreateSetting(ctx context.Context, db *sql.DB, key, candidate string) (string, error) {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing setting %s: %w", key, err)
	}

	value, err := GetSetting(ctx, db, key)
	if err != nil {
		return "", err
	}
	return value, nil
}

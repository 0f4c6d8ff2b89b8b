package clientdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE clients (
			addr                 TEXT PRIMARY KEY NOT NULL,
			t1_score             REAL NOT NULL,
			t2_score             REAL NOT NULL,
			t2_access_multiplier REAL NOT NULL,
			t2_blocked           INTEGER NOT NULL DEFAULT 0,
			misbehaviors         INTEGER NOT NULL DEFAULT 0,
			accesses             INTEGER NOT NULL DEFAULT 1,
			connections          INTEGER NOT NULL DEFAULT 1
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create clients table: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE clients`); err != nil {
		return fmt.Errorf("drop clients table: %w", err)
	}
	return nil
}

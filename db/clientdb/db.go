// Package clientdb implements sqlite3 client storage for doorman.
package clientdb

import (
	"context"
	"database/sql"
	"errors"
	"net/url"

	"github.com/doorman-core/doorman/pkg/guard"
	"github.com/jmoiron/sqlx"
)

// DB stores client records in a sqlite3 database. Updates rely on
// UPDATE ... RETURNING, so sqlite3 3.35 or later is required.
type DB struct {
	x *sqlx.DB
}

var (
	_ guard.ClientStorage   = (*DB)(nil)
	_ guard.ClientInspector = (*DB)(nil)
)

// Open opens a DB from the provided sqlite3 filename.
func Open(name string) (*DB, error) {
	// note: WAL and a larger cache makes our writes and queries MUCH faster
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

func (db *DB) GetScores(ctx context.Context, addr string, t2Threshold float64) (float64, float64, error) {
	return db.updateScores(ctx, `
		UPDATE clients
		SET accesses = accesses + 1,
		    t2_blocked = t2_blocked OR t2_score < ?
		WHERE addr = ?
		RETURNING t1_score, t2_score
	`, t2Threshold, addr)
}

func (db *DB) AddMisbehavior(ctx context.Context, addr string, weight int) (float64, float64, error) {
	return db.updateScores(ctx, `
		UPDATE clients
		SET misbehaviors = misbehaviors + ?
		WHERE addr = ?
		RETURNING t1_score, t2_score
	`, weight, addr)
}

func (db *DB) IncrementConnections(ctx context.Context, addr string) (float64, float64, error) {
	return db.updateScores(ctx, `
		UPDATE clients
		SET connections = connections + 1
		WHERE addr = ?
		RETURNING t1_score, t2_score
	`, addr)
}

func (db *DB) updateScores(ctx context.Context, query string, args ...any) (float64, float64, error) {
	var t1, t2 float64
	if err := db.x.QueryRowxContext(ctx, query, args...).Scan(&t1, &t2); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, guard.ErrClientNotFound
		}
		return 0, 0, err
	}
	return t1, t2, nil
}

func (db *DB) DecrementConnections(ctx context.Context, addr string) error {
	res, err := db.x.ExecContext(ctx, `
		UPDATE clients
		SET connections = CASE WHEN connections > 0 THEN connections - 1 ELSE 0 END
		WHERE addr = ?
	`, addr)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return guard.ErrClientNotFound
	}
	return nil
}

func (db *DB) ClearConnections(ctx context.Context) error {
	_, err := db.x.ExecContext(ctx, `UPDATE clients SET connections = 0`)
	return err
}

func (db *DB) CreateClient(ctx context.Context, addr string, t1, t2, accessMultiplier float64) error {
	_, err := db.x.ExecContext(ctx, `
		INSERT INTO clients (addr, t1_score, t2_score, t2_access_multiplier, t2_blocked, misbehaviors, accesses, connections)
		VALUES (?, ?, ?, ?, 0, 0, 1, 1)
		ON CONFLICT (addr) DO NOTHING
	`, addr, t1, t2, accessMultiplier)
	return err
}

func (db *DB) InspectClient(ctx context.Context, addr string) (guard.ClientRecord, bool, error) {
	var obj struct {
		Addr         string  `db:"addr"`
		T1Score      float64 `db:"t1_score"`
		T2Score      float64 `db:"t2_score"`
		Multiplier   float64 `db:"t2_access_multiplier"`
		T2Blocked    bool    `db:"t2_blocked"`
		Misbehaviors int     `db:"misbehaviors"`
		Accesses     int     `db:"accesses"`
		Connections  int     `db:"connections"`
	}
	if err := db.x.GetContext(ctx, &obj, `SELECT * FROM clients WHERE addr = ?`, addr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return guard.ClientRecord{}, false, nil
		}
		return guard.ClientRecord{}, false, err
	}
	return guard.ClientRecord{
		Addr:             obj.Addr,
		T1Score:          obj.T1Score,
		T2Score:          obj.T2Score,
		AccessMultiplier: obj.Multiplier,
		T2Blocked:        obj.T2Blocked,
		Misbehaviors:     obj.Misbehaviors,
		Accesses:         obj.Accesses,
		Connections:      obj.Connections,
	}, true, nil
}

// Package clientpg implements PostgreSQL client storage for doorman. This is
// the production backend: every operation is a single UPDATE ... RETURNING or
// INSERT ... ON CONFLICT round trip, so concurrent updaters converge at the
// database without client-side locking.
package clientpg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doorman-core/doorman/pkg/guard"
	"github.com/doorman-core/doorman/pkg/pool"
	"github.com/jmoiron/sqlx"
)

// PoolSize is the hard limit on concurrent database sessions. Callers beyond
// this queue on the pool.
const PoolSize = 64

// DB stores client records in a PostgreSQL database.
type DB struct {
	x        *sqlx.DB
	sessions *pool.Pool[*sqlx.Conn]
}

var (
	_ guard.ClientStorage   = (*DB)(nil)
	_ guard.ClientInspector = (*DB)(nil)
)

// Open opens a DB with the provided credentials. Connection parameters not
// covered by the arguments (host, port, sslmode) come from the libpq
// environment.
func Open(user, password, dbname string) (*DB, error) {
	x, err := sqlx.Open("postgres", fmt.Sprintf("user=%s password=%s dbname=%s", user, password, dbname))
	if err != nil {
		return nil, err
	}
	db := &DB{x: x}
	db.sessions = pool.New(PoolSize, func() (*sqlx.Conn, error) {
		return x.Connx(context.Background())
	})
	return db, nil
}

func (db *DB) Close() error {
	db.sessions.Drain(func(c *sqlx.Conn) {
		c.Close()
	})
	return db.x.Close()
}

// EnsureSchema creates the clients table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	c, err := db.sessions.Get()
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer db.sessions.Put(c)
	if _, err := c.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			addr                 TEXT PRIMARY KEY,
			t1_score             REAL NOT NULL,
			t2_score             REAL NOT NULL,
			t2_access_multiplier REAL NOT NULL,
			t2_blocked           BOOLEAN NOT NULL DEFAULT FALSE,
			misbehaviors         INTEGER NOT NULL DEFAULT 0,
			accesses             INTEGER NOT NULL DEFAULT 1,
			connections          INTEGER NOT NULL DEFAULT 1
		)
	`); err != nil {
		return fmt.Errorf("create clients table: %w", err)
	}
	return nil
}

func (db *DB) GetScores(ctx context.Context, addr string, t2Threshold float64) (float64, float64, error) {
	return db.updateScores(ctx, `
		UPDATE clients
		SET accesses = accesses + 1,
		    t2_blocked = t2_blocked OR t2_score < $1
		WHERE addr = $2
		RETURNING t1_score, t2_score
	`, t2Threshold, addr)
}

func (db *DB) AddMisbehavior(ctx context.Context, addr string, weight int) (float64, float64, error) {
	return db.updateScores(ctx, `
		UPDATE clients
		SET misbehaviors = misbehaviors + $1
		WHERE addr = $2
		RETURNING t1_score, t2_score
	`, weight, addr)
}

func (db *DB) IncrementConnections(ctx context.Context, addr string) (float64, float64, error) {
	return db.updateScores(ctx, `
		UPDATE clients
		SET connections = connections + 1
		WHERE addr = $1
		RETURNING t1_score, t2_score
	`, addr)
}

func (db *DB) updateScores(ctx context.Context, query string, args ...any) (float64, float64, error) {
	c, err := db.sessions.Get()
	if err != nil {
		return 0, 0, fmt.Errorf("acquire session: %w", err)
	}
	defer db.sessions.Put(c)

	var t1, t2 float64
	if err := c.QueryRowxContext(ctx, query, args...).Scan(&t1, &t2); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, guard.ErrClientNotFound
		}
		return 0, 0, err
	}
	return t1, t2, nil
}

func (db *DB) DecrementConnections(ctx context.Context, addr string) error {
	c, err := db.sessions.Get()
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer db.sessions.Put(c)

	res, err := c.ExecContext(ctx, `
		UPDATE clients
		SET connections = CASE WHEN connections > 0 THEN connections - 1 ELSE 0 END
		WHERE addr = $1
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
	c, err := db.sessions.Get()
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer db.sessions.Put(c)

	_, err = c.ExecContext(ctx, `UPDATE clients SET connections = 0`)
	return err
}

func (db *DB) CreateClient(ctx context.Context, addr string, t1, t2, accessMultiplier float64) error {
	c, err := db.sessions.Get()
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer db.sessions.Put(c)

	_, err = c.ExecContext(ctx, `
		INSERT INTO clients (addr, t1_score, t2_score, t2_access_multiplier, t2_blocked, misbehaviors, accesses, connections)
		VALUES ($1, $2, $3, $4, FALSE, 0, 1, 1)
		ON CONFLICT (addr) DO NOTHING
	`, addr, t1, t2, accessMultiplier)
	return err
}

func (db *DB) InspectClient(ctx context.Context, addr string) (guard.ClientRecord, bool, error) {
	c, err := db.sessions.Get()
	if err != nil {
		return guard.ClientRecord{}, false, fmt.Errorf("acquire session: %w", err)
	}
	defer db.sessions.Put(c)

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
	if err := c.GetContext(ctx, &obj, `SELECT * FROM clients WHERE addr = $1`, addr); err != nil {
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

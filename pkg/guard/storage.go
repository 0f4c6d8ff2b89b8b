package guard

import (
	"context"
	"errors"
)

// ErrClientNotFound is returned by ClientStorage operations which matched no
// record. The engine responds by creating the record; it is not a failure.
var ErrClientNotFound = errors.New("client not found")

// ClientRecord is the persisted state for one client identity.
type ClientRecord struct {
	Addr             string
	T1Score          float64
	T2Score          float64
	AccessMultiplier float64
	T2Blocked        bool
	Misbehaviors     int
	Accesses         int
	Connections      int
}

// ClientStorage persists per-identity counters and scores. Every method is a
// single atomic update-and-return round trip against the record for addr; no
// read-modify-write may be done on the caller's side. It must be safe for
// concurrent use.
type ClientStorage interface {
	// GetScores increments the access count for addr, latches the
	// below-threshold flag if the stored t2 score is below t2Threshold, and
	// returns the updated scores. Returns ErrClientNotFound if no record for
	// addr exists.
	GetScores(ctx context.Context, addr string, t2Threshold float64) (t1, t2 float64, err error)

	// AddMisbehavior adds weight to the misbehavior count for addr and
	// returns the updated scores. Returns ErrClientNotFound if no record for
	// addr exists.
	AddMisbehavior(ctx context.Context, addr string, weight int) (t1, t2 float64, err error)

	// IncrementConnections increments the connection count for addr and
	// returns the updated scores. Returns ErrClientNotFound if no record for
	// addr exists.
	IncrementConnections(ctx context.Context, addr string) (t1, t2 float64, err error)

	// DecrementConnections decrements the connection count for addr,
	// saturating at zero. Returns ErrClientNotFound if no record for addr
	// exists.
	DecrementConnections(ctx context.Context, addr string) error

	// ClearConnections sets the connection count to zero for every record.
	ClearConnections(ctx context.Context) error

	// CreateClient inserts a record for addr with the given scores, the given
	// access multiplier, no misbehaviors, one access, and one connection. If
	// a record for addr already exists it is kept unchanged and no error is
	// returned; this resolves races between concurrent first touches.
	CreateClient(ctx context.Context, addr string, t1, t2, accessMultiplier float64) error
}

// ClientInspector is implemented by storages that can report the raw
// persisted record, for diagnostics and operator tooling.
type ClientInspector interface {
	// InspectClient returns the record for addr, or ok false if none exists.
	InspectClient(ctx context.Context, addr string) (rec ClientRecord, ok bool, err error)
}

// Package guard implements the two-tier behavioral scoring engine. It
// translates host-visible operations into atomic storage updates and an
// admission verdict.
package guard

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Guard scores clients and decides admission. Fields must be set before use
// and not changed afterwards.
type Guard struct {
	Storage ClientStorage
	State   *State
	Log     zerolog.Logger

	// FailClosed makes storage failures block the client instead of letting
	// it through. The default is to fail open so that a backend outage does
	// not black-hole traffic.
	FailClosed bool
}

// verdict applies the decision rule to post-update scores. BlockT1 requires
// t1 below its threshold with t2 still above; a t2 breach is BlockT2
// regardless of t1. Comparisons are strict.
func (g *Guard) verdict(t1, t2 float64) Verdict {
	t1t, t2t := g.State.T1Threshold(), g.State.T2Threshold()
	switch {
	case t1 < t1t && t2 > t2t:
		return BlockT1
	case t2 < t2t:
		return BlockT2
	default:
		return Allow
	}
}

func (g *Guard) failVerdict() Verdict {
	if g.FailClosed {
		return BlockT2
	}
	return Allow
}

// createClient computes first-touch scores for addr per the current attack
// mode and persists the new record. The computed scores are returned for use
// in the caller's verdict, so no re-read is needed.
func (g *Guard) createClient(ctx context.Context, addr string) (t1, t2 float64) {
	st := g.State
	if st.UnderAttack() {
		t1 = st.T1Threshold() + st.T1AttackEpsilon
		t2 = st.T2Threshold() + st.T2AttackEpsilon
	} else {
		t1 = st.T1Threshold() + st.T1Epsilon
		t2 = 0
	}
	if t1 > 0 {
		t1 = 0
	}
	if t2 > 0 {
		t2 = 0
	}
	g.Log.Debug().Str("addr", addr).Float64("t1", t1).Float64("t2", t2).Msg("client not yet in database, adding now")
	if err := g.Storage.CreateClient(ctx, addr, t1, t2, st.T2InitialAccessMultiplier); err != nil {
		storeErrors.Inc()
		g.Log.Err(err).Str("addr", addr).Msg("failed to add client to database")
	} else {
		clientsCreated.Inc()
	}
	return t1, t2
}

// GetBin returns the request-phase verdict for addr, creating the client
// record on first touch. Storage failures are logged and resolved by the
// fail-open/fail-closed policy.
func (g *Guard) GetBin(ctx context.Context, addr string) Verdict {
	t1, t2, err := g.Storage.GetScores(ctx, addr, g.State.T2Threshold())
	if err != nil {
		if !errors.Is(err, ErrClientNotFound) {
			storeErrors.Inc()
			g.Log.Err(err).Str("addr", addr).Msg("access update failed")
			return g.failVerdict()
		}
		t1, t2 = g.createClient(ctx, addr)
	}
	v := g.verdict(t1, t2)
	requestVerdicts[v].Inc()
	g.Log.Debug().Str("addr", addr).Float64("t1", t1).Float64("t2", t2).Stringer("verdict", v).Msg("request verdict")
	return v
}

// Connecting returns the connection-phase verdict for addr, counting the
// connection. Every admitted Connecting must be paired with a Disconnected
// for the same identity, else the connection count drifts upwards.
func (g *Guard) Connecting(ctx context.Context, addr string) Verdict {
	t1, t2, err := g.Storage.IncrementConnections(ctx, addr)
	if err != nil {
		if !errors.Is(err, ErrClientNotFound) {
			storeErrors.Inc()
			g.Log.Err(err).Str("addr", addr).Msg("connection update failed")
			return g.failVerdict()
		}
		// the new record already counts this connection
		t1, t2 = g.createClient(ctx, addr)
	}
	v := g.verdict(t1, t2)
	connectVerdicts[v].Inc()
	g.Log.Debug().Str("addr", addr).Float64("t1", t1).Float64("t2", t2).Stringer("verdict", v).Msg("connect verdict")
	return v
}

// Disconnected records the end of a connection for addr. The stored count
// saturates at zero, so unmatched calls do not fail.
func (g *Guard) Disconnected(ctx context.Context, addr string) {
	if err := g.Storage.DecrementConnections(ctx, addr); err != nil && !errors.Is(err, ErrClientNotFound) {
		storeErrors.Inc()
		g.Log.Err(err).Str("addr", addr).Msg("disconnect update failed")
	}
}

// Misbehaved adds weight to the misbehavior count for addr. A zero weight is
// a no-op and issues no storage call. On first touch the record is created
// and the update retried once so the weight lands on the fresh record.
func (g *Guard) Misbehaved(ctx context.Context, addr string, weight int) {
	if weight == 0 {
		return
	}
	_, _, err := g.Storage.AddMisbehavior(ctx, addr, weight)
	if err == nil {
		misbehaviors.Inc()
		return
	}
	if !errors.Is(err, ErrClientNotFound) {
		storeErrors.Inc()
		g.Log.Err(err).Str("addr", addr).Msg("misbehavior update failed")
		return
	}
	g.createClient(ctx, addr)
	if _, _, err := g.Storage.AddMisbehavior(ctx, addr, weight); err != nil {
		storeErrors.Inc()
		g.Log.Err(err).Str("addr", addr).Msg("misbehavior update failed after first touch")
		return
	}
	misbehaviors.Inc()
}

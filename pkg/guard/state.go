package guard

import (
	"math"
	"sync/atomic"
)

// State is the runtime context shared between the scoring path and the sensor
// listeners. Thresholds and the attack flag are updated live and read without
// locking; each operation sees some recent value, not necessarily the latest.
// The epsilon fields are set once before any listener or caller starts and
// are read-only afterwards.
type State struct {
	t1Threshold atomicFloat64
	t2Threshold atomicFloat64
	underAttack atomic.Bool

	T1Epsilon       float64
	T1AttackEpsilon float64
	T2Epsilon       float64
	T2AttackEpsilon float64

	T2InitialAccessMultiplier float64
}

// NewState returns a State with the initial thresholds.
func NewState() *State {
	s := new(State)
	s.t1Threshold.Store(-10.0)
	s.t2Threshold.Store(-5.0)
	return s
}

func (s *State) T1Threshold() float64     { return s.t1Threshold.Load() }
func (s *State) T2Threshold() float64     { return s.t2Threshold.Load() }
func (s *State) SetT1Threshold(v float64) { s.t1Threshold.Store(v) }
func (s *State) SetT2Threshold(v float64) { s.t2Threshold.Store(v) }

func (s *State) UnderAttack() bool     { return s.underAttack.Load() }
func (s *State) SetUnderAttack(v bool) { s.underAttack.Store(v) }

type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

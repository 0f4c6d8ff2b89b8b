// Package memstore implements in-memory client storage for doorman. It is
// intended for development and tests; records do not survive a restart.
package memstore

import (
	"context"
	"sync"

	"github.com/doorman-core/doorman/pkg/guard"
)

// ClientStore stores client records in-memory.
type ClientStore struct {
	mu      sync.Mutex
	clients map[string]*guard.ClientRecord
}

var (
	_ guard.ClientStorage   = (*ClientStore)(nil)
	_ guard.ClientInspector = (*ClientStore)(nil)
)

// NewClientStore creates an empty ClientStore.
func NewClientStore() *ClientStore {
	return &ClientStore{clients: map[string]*guard.ClientRecord{}}
}

func (m *ClientStore) GetScores(ctx context.Context, addr string, t2Threshold float64) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	if !ok {
		return 0, 0, guard.ErrClientNotFound
	}
	c.Accesses++
	c.T2Blocked = c.T2Blocked || c.T2Score < t2Threshold
	return c.T1Score, c.T2Score, nil
}

func (m *ClientStore) AddMisbehavior(ctx context.Context, addr string, weight int) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	if !ok {
		return 0, 0, guard.ErrClientNotFound
	}
	c.Misbehaviors += weight
	return c.T1Score, c.T2Score, nil
}

func (m *ClientStore) IncrementConnections(ctx context.Context, addr string) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	if !ok {
		return 0, 0, guard.ErrClientNotFound
	}
	c.Connections++
	return c.T1Score, c.T2Score, nil
}

func (m *ClientStore) DecrementConnections(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	if !ok {
		return guard.ErrClientNotFound
	}
	if c.Connections > 0 {
		c.Connections--
	}
	return nil
}

func (m *ClientStore) ClearConnections(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.Connections = 0
	}
	return nil
}

func (m *ClientStore) CreateClient(ctx context.Context, addr string, t1, t2, accessMultiplier float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[addr]; ok {
		return nil
	}
	m.clients[addr] = &guard.ClientRecord{
		Addr:             addr,
		T1Score:          t1,
		T2Score:          t2,
		AccessMultiplier: accessMultiplier,
		Accesses:         1,
		Connections:      1,
	}
	return nil
}

func (m *ClientStore) InspectClient(ctx context.Context, addr string) (guard.ClientRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	if !ok {
		return guard.ClientRecord{}, false, nil
	}
	return *c, true, nil
}

package checkpoint

import (
	"context"
	"errors"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. It backs single-node runs
// without a database and tests.
type MemStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{snaps: make(map[string]Snapshot)}
}

// Save implements [Store.Save]. The snapshot is copied on the way in, so the
// caller may keep mutating its own value.
func (s *MemStore) Save(_ context.Context, snap Snapshot) error {
	if snap.ConversationID == "" {
		return errors.New("checkpoint: snapshot missing conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ConversationID] = snap.Clone()
	return nil
}

// Load implements [Store.Load].
func (s *MemStore) Load(_ context.Context, conversationID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[conversationID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap.Clone(), nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, conversationID)
	return nil
}

// Ping implements [Store.Ping]. Memory is always reachable.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store.Close].
func (s *MemStore) Close() {}

// Len returns the number of stored snapshots.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// Package memstore provides an in-memory key/value store with a transaction
// adapter for the txnmanager orchestrator. Writes inside a transaction go to
// a per-flow overlay held by a StoreHolder bound to the flow's transaction
// context; commit applies the overlay to the shared committed state, rollback
// discards it. Savepoints snapshot the overlay, which gives nested scopes
// partial rollback.
package memstore

import (
	"context"
	"sync"

	syncmanager "github.com/sushant-115/gojotx/core/sync_manager"
	"go.uber.org/zap"
)

// Store is the shared committed state. It is safe for concurrent use; all
// transactional buffering happens in per-flow StoreHolders, never here.
type Store struct {
	mu        sync.RWMutex
	committed map[string]string
	log       *zap.Logger
}

// NewStore creates an empty store. A nil logger disables logging.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		committed: make(map[string]string),
		log:       log,
	}
}

// Get reads key through the store transaction bound to ctx, observing the
// flow's uncommitted writes. Without an active transaction it reads the
// committed state directly.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	if h := s.boundHolder(ctx); h != nil && h.TransactionActive() {
		return h.get(key)
	}
	return s.lookupCommitted(key)
}

// Put buffers a write of key in the store transaction bound to ctx. It fails
// with ErrNoTransaction outside an active transaction, with
// ErrReadOnlyTransaction inside a read-only one, and with
// transaction.ErrTransactionTimedOut once the transaction's deadline has
// passed.
func (s *Store) Put(ctx context.Context, key, value string) error {
	h, err := s.writableHolder(ctx)
	if err != nil {
		return err
	}
	h.put(key, value)
	return nil
}

// Delete buffers a deletion of key in the store transaction bound to ctx,
// under the same conditions as Put.
func (s *Store) Delete(ctx context.Context, key string) error {
	h, err := s.writableHolder(ctx)
	if err != nil {
		return err
	}
	h.delete(key)
	return nil
}

// Committed reads key from the committed state, bypassing any transaction.
func (s *Store) Committed(key string) (string, bool) {
	return s.lookupCommitted(key)
}

// Size reports the number of committed keys.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.committed)
}

// Snapshot returns a copy of the committed state.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]string, len(s.committed))
	for k, v := range s.committed {
		snapshot[k] = v
	}
	return snapshot
}

func (s *Store) lookupCommitted(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.committed[key]
	return value, ok
}

// apply folds a transaction overlay into the committed state. A nil value
// pointer is a deletion.
func (s *Store) apply(overlay map[string]*string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range overlay {
		if value == nil {
			delete(s.committed, key)
			continue
		}
		s.committed[key] = *value
	}
}

// boundHolder returns the StoreHolder bound to ctx for this store, nil when
// the flow has none.
func (s *Store) boundHolder(ctx context.Context) *StoreHolder {
	resource := syncmanager.Resource(ctx, s)
	if resource == nil {
		return nil
	}
	holder, ok := resource.(*StoreHolder)
	if !ok {
		return nil
	}
	return holder
}

// writableHolder returns the bound holder after the write-path checks:
// active transaction, not read-only, deadline not passed.
func (s *Store) writableHolder(ctx context.Context) (*StoreHolder, error) {
	h := s.boundHolder(ctx)
	if h == nil || !h.TransactionActive() {
		return nil, ErrNoTransaction
	}
	if h.ReadOnly() {
		return nil, ErrReadOnlyTransaction
	}
	if h.HasTimeout() {
		if _, err := h.TimeToLive(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

package memstore

import (
	"fmt"

	syncmanager "github.com/sushant-115/gojotx/core/sync_manager"
)

// StoreHolder wraps one flow's view of the store for the duration of a
// transaction: the write overlay, the savepoint stack and, through the
// embedded ResourceHolder, the rollback-only mark and deadline. It is bound
// to the flow's transaction context under the *Store as key and owned by that
// flow exclusively.
type StoreHolder struct {
	syncmanager.ResourceHolder

	store *Store

	// overlay is the uncommitted write set; a nil value marks a deletion.
	overlay map[string]*string

	savepoints       []storeSavepoint
	savepointCounter int

	transactionActive bool
	readOnly          bool
}

// storeSavepoint is one named snapshot of the overlay.
type storeSavepoint struct {
	name    string
	overlay map[string]*string
}

func newStoreHolder(store *Store) *StoreHolder {
	return &StoreHolder{
		store:   store,
		overlay: make(map[string]*string),
	}
}

// TransactionActive reports whether a store transaction is running on this
// holder.
func (h *StoreHolder) TransactionActive() bool {
	return h.transactionActive
}

func (h *StoreHolder) setTransactionActive(active bool) {
	h.transactionActive = active
}

// ReadOnly reports whether the running transaction rejects writes.
func (h *StoreHolder) ReadOnly() bool {
	return h.readOnly
}

func (h *StoreHolder) setReadOnly(readOnly bool) {
	h.readOnly = readOnly
}

// get reads key through the overlay, falling back to the committed state.
func (h *StoreHolder) get(key string) (string, bool) {
	if value, ok := h.overlay[key]; ok {
		if value == nil {
			return "", false
		}
		return *value, true
	}
	return h.store.lookupCommitted(key)
}

// put buffers a write. A fresh value pointer is allocated on every call so
// savepoint snapshots sharing older entries stay intact.
func (h *StoreHolder) put(key, value string) {
	h.overlay[key] = &value
}

func (h *StoreHolder) delete(key string) {
	h.overlay[key] = nil
}

// commitToStore applies the overlay to the shared committed state.
func (h *StoreHolder) commitToStore() {
	h.store.apply(h.overlay)
}

// createSavepoint snapshots the overlay under a generated name.
func (h *StoreHolder) createSavepoint() string {
	h.savepointCounter++
	name := fmt.Sprintf("SAVEPOINT_%d", h.savepointCounter)
	h.savepoints = append(h.savepoints, storeSavepoint{
		name:    name,
		overlay: copyOverlay(h.overlay),
	})
	return name
}

// rollbackToSavepoint restores the overlay to the named snapshot. The
// savepoint itself stays valid; savepoints created after it are destroyed.
func (h *StoreHolder) rollbackToSavepoint(name string) error {
	i, err := h.findSavepoint(name)
	if err != nil {
		return err
	}
	h.overlay = copyOverlay(h.savepoints[i].overlay)
	h.savepoints = h.savepoints[:i+1]
	return nil
}

// releaseSavepoint removes the named savepoint and all savepoints created
// after it, keeping the overlay as it is.
func (h *StoreHolder) releaseSavepoint(name string) error {
	i, err := h.findSavepoint(name)
	if err != nil {
		return err
	}
	h.savepoints = h.savepoints[:i]
	return nil
}

func (h *StoreHolder) findSavepoint(name string) (int, error) {
	for i := len(h.savepoints) - 1; i >= 0; i-- {
		if h.savepoints[i].name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrSavepointNotFound, name)
}

// resetTransaction drops all transactional state so the holder can be
// reused or discarded after completion.
func (h *StoreHolder) resetTransaction() {
	h.overlay = nil
	h.savepoints = nil
	h.savepointCounter = 0
	h.transactionActive = false
	h.readOnly = false
	h.Clear()
}

func copyOverlay(overlay map[string]*string) map[string]*string {
	copied := make(map[string]*string, len(overlay))
	for key, value := range overlay {
		copied[key] = value
	}
	return copied
}

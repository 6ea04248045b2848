// internal/checkpoint/handle.go
package checkpoint

import (
	"sync"
	"time"

	"checkpointd/internal/store"
)

// storeHandle serializes every call into one store
type storeHandle struct {
	mu      sync.Mutex
	store   store.Store
	metrics *Metrics
}

func newStoreHandle(s store.Store, metrics *Metrics) *storeHandle {
	return &storeHandle{store: s, metrics: metrics}
}

// do runs fn with exclusive access to the store. Failures come back as *StoreError.
func (h *storeHandle) do(op string, fn func(s store.Store) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	err := fn(h.store)
	h.metrics.observeStore(op, start, err)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	return nil
}

// dir returns the store directory when the store exposes one
func (h *storeHandle) dir() (string, bool) {
	w, ok := h.store.(store.Watchable)
	if !ok {
		return "", false
	}
	return w.Dir(), true
}

func (h *storeHandle) close() error {
	return h.do("close", func(s store.Store) error {
		return s.Close()
	})
}

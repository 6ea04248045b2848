// internal/checkpoint/registry.go
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"checkpointd/internal/config"
	"checkpointd/internal/store"
)

// Registry holds one Manager per session id for the lifetime of the host
type Registry struct {
	opener store.Opener
	opts   Options
	log    *zap.Logger

	mu       sync.RWMutex
	managers map[string]*Manager
	closed   bool
	group    singleflight.Group
}

// NewRegistry creates an empty registry opening stores through opener
func NewRegistry(opener store.Opener, opts Options) *Registry {
	return &Registry{
		opener:   opener,
		opts:     opts,
		log:      opts.logger().Named("registry"),
		managers: make(map[string]*Manager),
	}
}

// GetOrCreate returns the manager of sessionID, opening the project's store and
// loading its checkpoints on first use. Concurrent calls for one session share a
// single construction.
func (r *Registry) GetOrCreate(projectPath, sessionID string) (*Manager, error) {
	if m, ok := r.lookup(sessionID); ok {
		r.checkProject(m, projectPath)
		return m, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (interface{}, error) {
		if m, ok := r.lookup(sessionID); ok {
			return m, nil
		}
		if r.isClosed() {
			return nil, ErrRegistryClosed
		}

		s, err := r.opener.OpenOrCreate(projectPath)
		if err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
		m, err := newManager(projectPath, sessionID, s, r.opts)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			if err := m.Close(); err != nil {
				r.log.Warn("failed to close session opened during shutdown",
					zap.String("session_id", sessionID), zap.Error(err))
			}
			return nil, ErrRegistryClosed
		}
		r.managers[sessionID] = m
		count := len(r.managers)
		r.mu.Unlock()

		r.opts.Metrics.setSessions(count)
		r.log.Info("session initialized",
			zap.String("session_id", sessionID),
			zap.String("project", projectPath),
			zap.Int("checkpoints", m.index.Len()))
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	m := v.(*Manager)
	r.checkProject(m, projectPath)
	return m, nil
}

// checkProject logs when a session is requested for a project other than its own
func (r *Registry) checkProject(m *Manager, projectPath string) {
	if m.projectPath != projectPath {
		r.log.Warn("session already bound to another project",
			zap.String("session_id", m.sessionID),
			zap.String("project", m.projectPath),
			zap.String("requested", projectPath))
	}
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) lookup(sessionID string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[sessionID]
	return m, ok
}

// Get returns the manager of an initialized session
func (r *Registry) Get(sessionID string) (*Manager, error) {
	m, ok := r.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotInitialized, sessionID)
	}
	return m, nil
}

// Sessions returns the initialized session ids, sorted
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListProject lists every checkpoint of a project through a short-lived manager
// that is never registered
func (r *Registry) ListProject(projectPath string) ([]CheckpointInfo, error) {
	s, err := r.opener.OpenOrCreate(projectPath)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	opts := r.opts
	opts.Cache.Staleness = config.StalenessConstruction
	opts.Metrics = nil
	opts.OnRefresh = nil

	m, err := newManager(projectPath, "", s, opts)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	return m.List()
}

// Close closes every manager. The registry is empty afterwards and GetOrCreate
// fails with ErrRegistryClosed, including constructions already in flight.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	var errs []error
	for id, m := range managers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	r.opts.Metrics.setSessions(0)
	return errors.Join(errs...)
}

// internal/checkpoint/manager.go
package checkpoint

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"checkpointd/internal/config"
	"checkpointd/internal/store"
	"checkpointd/internal/watcher"
)

// Options configures the managers a Registry builds
type Options struct {
	Cache   config.CacheConfig
	Index   config.IndexConfig
	Metrics *Metrics
	Logger  *zap.Logger
	// OnRefresh is called after every successful cache refresh
	OnRefresh func(sessionID, trigger string, records int)
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Manager owns one store handle and one SessionIndex for a single session
type Manager struct {
	sessionID   string
	projectPath string
	handle      *storeHandle
	index       *SessionIndex
	opts        Options
	log         *zap.Logger

	watcher   *watcher.Watcher
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// newManager wraps s and loads every checkpoint of the project. s is closed on failure.
func newManager(projectPath, sessionID string, s store.Store, opts Options) (*Manager, error) {
	m := &Manager{
		sessionID:   sessionID,
		projectPath: projectPath,
		handle:      newStoreHandle(s, opts.Metrics),
		index:       NewSessionIndex(sessionID),
		opts:        opts,
		log:         opts.logger().Named("manager").With(zap.String("session_id", sessionID)),
	}

	if err := m.refresh(triggerConstruction); err != nil {
		s.Close()
		return nil, err
	}

	if opts.Cache.Staleness == config.StalenessWatch {
		m.startWatcher()
	}
	return m, nil
}

// startWatcher refreshes the cache whenever the store directory changes. Without a
// watchable directory the manager keeps construction-time staleness.
func (m *Manager) startWatcher() {
	dir, ok := m.handle.dir()
	if !ok {
		m.log.Warn("store has no directory to watch, cache refreshes on construction only")
		return
	}

	w, err := watcher.New(dir, m.opts.Cache.WatchDebounce, func(watcher.Event) {
		if m.closed.Load() {
			return
		}
		if err := m.refresh(triggerWatch); err != nil {
			m.log.Warn("watch refresh failed", zap.Error(err))
		}
	}, watcher.Coalesce(), watcher.WithLogger(m.log))
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		m.log.Warn("cannot watch store, cache refreshes on construction only", zap.String("dir", dir), zap.Error(err))
		if w != nil {
			w.Close()
		}
		return
	}
	m.watcher = w
}

// SessionID returns the session this manager serves
func (m *Manager) SessionID() string {
	return m.sessionID
}

// ProjectPath returns the project the manager's store belongs to
func (m *Manager) ProjectPath() string {
	return m.projectPath
}

// Checkpoint snapshots the project and records it at messageIndex
func (m *Manager) Checkpoint(messageIndex int, message string) (string, error) {
	if messageIndex < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidMessageIndex, messageIndex)
	}

	description := EncodeDescription(m.sessionID, messageIndex, message)
	reject := m.opts.Index.DuplicatePolicy == config.DuplicateReject

	var (
		cp        *store.Checkpoint
		duplicate bool
	)
	err := m.handle.do("checkpoint", func(s store.Store) error {
		if reject {
			if _, exists := m.index.Lookup(messageIndex); exists {
				duplicate = true
				return nil
			}
		}

		var err error
		cp, err = s.Checkpoint(description)
		if err != nil {
			return err
		}

		if previous, replaced := m.index.Put(messageIndex, cp.ID); replaced {
			m.log.Debug("message index remapped",
				zap.Int("message_index", messageIndex),
				zap.String("previous", previous),
				zap.String("checkpoint_id", cp.ID))
		}
		sessionID := m.sessionID
		m.index.Insert(CheckpointInfo{
			ID:           cp.ID,
			MessageIndex: messageIndex,
			CreatedAt:    cp.Timestamp,
			SessionID:    &sessionID,
			Description:  truncateLabel(message),
			FileCount:    cp.Metadata.FileCount,
			TotalSize:    cp.Metadata.TotalSize,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	if duplicate {
		return "", fmt.Errorf("%w: %d", ErrDuplicateMessageIndex, messageIndex)
	}

	m.opts.Metrics.setCacheRecords(m.sessionID, m.index.Len())
	m.log.Info("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.Int("message_index", messageIndex),
		zap.Int("files", cp.Metadata.FileCount))
	return cp.ID, nil
}

// CheckpointAt returns the checkpoint id recorded at messageIndex
func (m *Manager) CheckpointAt(messageIndex int) (string, bool) {
	return m.index.Lookup(messageIndex)
}

// Restore makes the project match checkpointID. The index and cache are left
// untouched, so checkpoints created after the restored one stay listed and restorable.
func (m *Manager) Restore(checkpointID string) (*RestoreResult, error) {
	var outcome *store.RestoreResult
	start := time.Now()
	err := m.handle.do("restore", func(s store.Store) error {
		var err error
		outcome, err = s.Restore(checkpointID)
		return err
	})
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	messageIndex, _ := m.index.ReverseLookup(checkpointID)
	warnings := outcome.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	m.log.Info("checkpoint restored",
		zap.String("checkpoint_id", checkpointID),
		zap.Int("files_restored", outcome.FilesRestored),
		zap.Int("files_deleted", outcome.FilesDeleted),
		zap.Duration("duration", duration))

	return &RestoreResult{
		FilesRestored: outcome.FilesRestored,
		FilesDeleted:  outcome.FilesDeleted,
		BytesWritten:  outcome.BytesWritten,
		DurationMs:    duration.Milliseconds(),
		Warnings:      warnings,
		MessageIndex:  messageIndex,
	}, nil
}

// List returns the project-wide cache, newest first. Callers filter by session.
func (m *Manager) List() ([]CheckpointInfo, error) {
	if err := m.refreshOnRead(); err != nil {
		return nil, err
	}
	return m.index.Snapshot(), nil
}

// Timeline returns the store's checkpoint tree along with the cached listing
func (m *Manager) Timeline() (*TimelineInfo, error) {
	if err := m.refreshOnRead(); err != nil {
		return nil, err
	}

	var tree *store.Timeline
	err := m.handle.do("timeline", func(s store.Store) error {
		var err error
		tree, err = s.Timeline()
		return err
	})
	if err != nil {
		return nil, err
	}

	info := &TimelineInfo{
		Checkpoints:  m.index.Snapshot(),
		TimelineTree: tree,
	}
	if tree.CurrentCheckpointID != "" {
		current := tree.CurrentCheckpointID
		info.CurrentCheckpointID = &current
	}
	return info, nil
}

// Fork branches from checkpointID. A non-empty description is tagged with the
// session id. The new checkpoint shows up in the cache on the next refresh.
func (m *Manager) Fork(checkpointID, description string) (string, error) {
	if description != "" {
		description = fmt.Sprintf("[%s] %s", m.sessionID, description)
	}

	var fork *store.Checkpoint
	err := m.handle.do("fork", func(s store.Store) error {
		var err error
		fork, err = s.Fork(checkpointID, description)
		return err
	})
	if err != nil {
		return "", err
	}

	m.log.Info("checkpoint forked", zap.String("from", checkpointID), zap.String("checkpoint_id", fork.ID))
	return fork.ID, nil
}

// Diff compares two checkpoints file by file
func (m *Manager) Diff(fromID, toID string) (*DiffResponse, error) {
	var diff *store.CheckpointDiff
	err := m.handle.do("diff", func(s store.Store) error {
		var err error
		diff, err = s.Diff(fromID, toID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newDiffResponse(diff), nil
}

// DiffDetailed compares two checkpoints line by line
func (m *Manager) DiffDetailed(fromID, toID string, opts store.DiffOptions) (*DetailedDiffResponse, error) {
	var diff *store.DetailedCheckpointDiff
	err := m.handle.do("diff_detailed", func(s store.Store) error {
		var err error
		diff, err = s.DiffDetailed(fromID, toID, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newDetailedDiffResponse(diff), nil
}

// Verify reports whether the checkpoint's objects are intact
func (m *Manager) Verify(checkpointID string) (bool, error) {
	var report *store.VerificationReport
	err := m.handle.do("verify", func(s store.Store) error {
		var err error
		report, err = s.Verify(checkpointID)
		return err
	})
	if err != nil {
		return false, err
	}
	if !report.IsValid() {
		m.log.Warn("checkpoint failed verification",
			zap.String("checkpoint_id", checkpointID),
			zap.Strings("errors", report.Errors))
	}
	return report.IsValid(), nil
}

// GC removes objects no checkpoint references
func (m *Manager) GC() (*store.GCStats, error) {
	var stats *store.GCStats
	err := m.handle.do("gc", func(s store.Store) error {
		var err error
		stats, err = s.GC()
		return err
	})
	return stats, err
}

// Refresh reloads the cache and index from the store
func (m *Manager) Refresh() error {
	return m.refresh(triggerExplicit)
}

func (m *Manager) refreshOnRead() error {
	if m.opts.Cache.Staleness != config.StalenessRead {
		return nil
	}
	return m.refresh(triggerRead)
}

// refresh lists the store and rebuilds the index while still holding the handle,
// so a concurrent checkpoint cannot be lost between listing and swapping.
func (m *Manager) refresh(trigger string) error {
	var total int
	err := m.handle.do("list", func(s store.Store) error {
		checkpoints, err := s.ListCheckpoints()
		if err != nil {
			return err
		}

		decoded := make([]decodedCheckpoint, 0, len(checkpoints))
		for _, cp := range checkpoints {
			d := decodeCheckpoint(cp)
			if !d.metadata.HasSession || !d.metadata.HasIndex {
				m.log.Debug("checkpoint description not in session format",
					zap.String("checkpoint_id", cp.ID),
					zap.String("description", cp.Description))
			}
			decoded = append(decoded, d)
		}
		m.index.Rebuild(decoded)
		total = len(decoded)
		return nil
	})
	if err != nil {
		return err
	}

	m.opts.Metrics.incRefresh(m.sessionID, trigger)
	m.opts.Metrics.setCacheRecords(m.sessionID, total)
	m.log.Debug("checkpoint cache refreshed", zap.String("trigger", trigger), zap.Int("total", total))
	if m.opts.OnRefresh != nil {
		m.opts.OnRefresh(m.sessionID, trigger, total)
	}
	return nil
}

// Close stops the watcher and closes the store
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		if m.watcher != nil {
			m.watcher.Close()
		}
		m.closeErr = m.handle.close()
	})
	return m.closeErr
}

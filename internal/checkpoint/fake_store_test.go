package checkpoint

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"checkpointd/internal/store"
)

// memStore is an in-memory store.Store. It counts overlapping calls so tests can
// check that a manager never runs two store operations at once.
type memStore struct {
	mu          sync.Mutex
	checkpoints []store.Checkpoint
	current     string
	clock       time.Time
	nextID      int
	failOp      string
	failErr     error
	closed      int
	restored    []string
	report      *store.VerificationReport
	diff        *store.DetailedCheckpointDiff
	callDelay   time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// seed adds a checkpoint with a raw description, as another process would
func (s *memStore) seed(description string) store.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add("", description)
}

func (s *memStore) add(parent, description string) store.Checkpoint {
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	cp := store.Checkpoint{
		ID:          fmt.Sprintf("cp-%d", s.nextID),
		ParentID:    parent,
		Timestamp:   s.clock,
		Description: description,
		Metadata:    store.CheckpointMetadata{FileCount: s.nextID, TotalSize: int64(100 * s.nextID)},
	}
	s.checkpoints = append(s.checkpoints, cp)
	return cp
}

func (s *memStore) enter(op string) (func(), error) {
	n := s.inFlight.Add(1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.callDelay > 0 {
		time.Sleep(s.callDelay)
	}
	done := func() { s.inFlight.Add(-1) }

	s.mu.Lock()
	fail := s.failOp == op
	s.mu.Unlock()
	if fail {
		done()
		return nil, s.failErr
	}
	return done, nil
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOp, s.failErr = op, err
}

func (s *memStore) find(id string) (store.Checkpoint, bool) {
	for _, cp := range s.checkpoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return store.Checkpoint{}, false
}

func (s *memStore) Checkpoint(description string) (*store.Checkpoint, error) {
	done, err := s.enter("checkpoint")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.add(s.current, description)
	s.current = cp.ID
	return &cp, nil
}

func (s *memStore) Restore(id string) (*store.RestoreResult, error) {
	done, err := s.enter("restore")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.find(id); !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCheckpointNotFound, id)
	}
	s.current = id
	s.restored = append(s.restored, id)
	return &store.RestoreResult{FilesRestored: 2, FilesDeleted: 1, BytesWritten: 42}, nil
}

func (s *memStore) Fork(id, description string) (*store.Checkpoint, error) {
	done, err := s.enter("fork")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.find(id); !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCheckpointNotFound, id)
	}
	cp := s.add(id, description)
	return &cp, nil
}

func (s *memStore) ListCheckpoints() ([]store.Checkpoint, error) {
	done, err := s.enter("list")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Checkpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out, nil
}

func (s *memStore) Diff(fromID, toID string) (*store.CheckpointDiff, error) {
	done, err := s.enter("diff")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diff != nil {
		basic := s.diff.BasicDiff
		return &basic, nil
	}
	return &store.CheckpointDiff{FromID: fromID, ToID: toID}, nil
}

func (s *memStore) DiffDetailed(fromID, toID string, opts store.DiffOptions) (*store.DetailedCheckpointDiff, error) {
	done, err := s.enter("diff_detailed")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diff != nil {
		d := *s.diff
		return &d, nil
	}
	return &store.DetailedCheckpointDiff{BasicDiff: store.CheckpointDiff{FromID: fromID, ToID: toID}}, nil
}

func (s *memStore) Verify(id string) (*store.VerificationReport, error) {
	done, err := s.enter("verify")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report != nil {
		return s.report, nil
	}
	return &store.VerificationReport{CheckpointID: id, FilesChecked: 1, MerkleRootValid: true}, nil
}

func (s *memStore) GC() (*store.GCStats, error) {
	done, err := s.enter("gc")
	if err != nil {
		return nil, err
	}
	defer done()
	return &store.GCStats{ObjectsExamined: 3, ObjectsDeleted: 1, BytesReclaimed: 10}, nil
}

func (s *memStore) Timeline() (*store.Timeline, error) {
	done, err := s.enter("timeline")
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	tl := &store.Timeline{CurrentCheckpointID: s.current, TotalCheckpoints: len(s.checkpoints), Roots: []*store.TimelineNode{}}
	for _, cp := range s.checkpoints {
		tl.Roots = append(tl.Roots, &store.TimelineNode{Checkpoint: cp, Children: []*store.TimelineNode{}})
	}
	return tl, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// projectOpener hands out one shared memStore per project path and counts opens
type projectOpener struct {
	mu     sync.Mutex
	stores map[string]*memStore
	opens  atomic.Int32
	err    error
	delay  time.Duration
}

func newProjectOpener() *projectOpener {
	return &projectOpener{stores: make(map[string]*memStore)}
}

func (o *projectOpener) OpenOrCreate(projectPath string) (store.Store, error) {
	o.opens.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s, ok := o.stores[projectPath]
	if !ok {
		s = newMemStore()
		o.stores[projectPath] = s
	}
	return s, nil
}

func (o *projectOpener) store(projectPath string) *memStore {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[projectPath]
	if !ok {
		s = newMemStore()
		o.stores[projectPath] = s
	}
	return s
}

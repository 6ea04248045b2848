// internal/checkpoint/index.go
package checkpoint

import (
	"sort"
	"sync"

	"checkpointd/internal/store"
)

// SessionIndex maps a session's message indices to checkpoint ids and caches the
// decoded records of every checkpoint in the project. The two parts are guarded
// separately so lookups never wait on cache readers.
type SessionIndex struct {
	sessionID string

	mapMu   sync.RWMutex
	byIndex map[int]string

	cacheMu sync.RWMutex
	cache   []CheckpointInfo
}

// NewSessionIndex creates an empty index for sessionID
func NewSessionIndex(sessionID string) *SessionIndex {
	return &SessionIndex{
		sessionID: sessionID,
		byIndex:   make(map[int]string),
		cache:     []CheckpointInfo{},
	}
}

// Lookup returns the checkpoint id at messageIndex
func (x *SessionIndex) Lookup(messageIndex int) (string, bool) {
	x.mapMu.RLock()
	defer x.mapMu.RUnlock()
	id, ok := x.byIndex[messageIndex]
	return id, ok
}

// ReverseLookup returns the message index a checkpoint id is mapped at
func (x *SessionIndex) ReverseLookup(checkpointID string) (int, bool) {
	x.mapMu.RLock()
	defer x.mapMu.RUnlock()
	for idx, id := range x.byIndex {
		if id == checkpointID {
			return idx, true
		}
	}
	return 0, false
}

// Put maps messageIndex to checkpointID and returns the id it replaced, if any
func (x *SessionIndex) Put(messageIndex int, checkpointID string) (string, bool) {
	x.mapMu.Lock()
	defer x.mapMu.Unlock()
	previous, had := x.byIndex[messageIndex]
	x.byIndex[messageIndex] = checkpointID
	return previous, had
}

// Insert adds a record at its position in the newest-first cache
func (x *SessionIndex) Insert(info CheckpointInfo) {
	x.cacheMu.Lock()
	defer x.cacheMu.Unlock()

	pos := sort.Search(len(x.cache), func(i int) bool {
		return x.cache[i].CreatedAt.Before(info.CreatedAt)
	})
	x.cache = append(x.cache, CheckpointInfo{})
	copy(x.cache[pos+1:], x.cache[pos:])
	x.cache[pos] = info
}

// Snapshot returns a copy of the cache, newest first
func (x *SessionIndex) Snapshot() []CheckpointInfo {
	x.cacheMu.RLock()
	defer x.cacheMu.RUnlock()
	out := make([]CheckpointInfo, len(x.cache))
	copy(out, x.cache)
	return out
}

// Len returns the number of cached records
func (x *SessionIndex) Len() int {
	x.cacheMu.RLock()
	defer x.cacheMu.RUnlock()
	return len(x.cache)
}

// Rebuild replaces the cache and the message index with a decoded store listing
func (x *SessionIndex) Rebuild(decoded []decodedCheckpoint) {
	records, byIndex := buildIndex(x.sessionID, decoded)

	x.cacheMu.Lock()
	x.cache = records
	x.cacheMu.Unlock()

	x.mapMu.Lock()
	x.byIndex = byIndex
	x.mapMu.Unlock()
}

// decodedCheckpoint is a store checkpoint with its description decoded
type decodedCheckpoint struct {
	info     CheckpointInfo
	metadata Metadata
}

func decodeCheckpoint(cp store.Checkpoint) decodedCheckpoint {
	md := DecodeDescription(cp.Description)
	info := CheckpointInfo{
		ID:           cp.ID,
		MessageIndex: md.MessageIndex,
		CreatedAt:    cp.Timestamp,
		Description:  md.Label,
		FileCount:    cp.Metadata.FileCount,
		TotalSize:    cp.Metadata.TotalSize,
	}
	if md.HasSession {
		sid := md.SessionID
		info.SessionID = &sid
	}
	return decodedCheckpoint{info: info, metadata: md}
}

// buildIndex turns a decoded store listing into a newest-first cache and the
// message index of sessionID. When a session reused a message index, the newest
// checkpoint wins.
func buildIndex(sessionID string, decoded []decodedCheckpoint) ([]CheckpointInfo, map[int]string) {
	sorted := make([]decodedCheckpoint, len(decoded))
	copy(sorted, decoded)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].info.CreatedAt.After(sorted[j].info.CreatedAt)
	})

	records := make([]CheckpointInfo, 0, len(sorted))
	byIndex := make(map[int]string)
	// walk oldest first so later checkpoints overwrite earlier ones
	for i := len(sorted) - 1; i >= 0; i-- {
		d := sorted[i]
		if d.metadata.HasIndex && d.info.InSession(sessionID) {
			byIndex[d.info.MessageIndex] = d.info.ID
		}
	}
	for _, d := range sorted {
		records = append(records, d.info)
	}
	return records, byIndex
}

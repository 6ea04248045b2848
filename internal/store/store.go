// Package store is the content-addressable checkpoint store behind the session layer.
//
// Store is the contract the session layer depends on. Local implements it on disk:
// a SQLite catalog plus a pool of BLAKE2b-addressed, optionally zstd-compressed objects.
package store

import (
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrCheckpointNotFound is returned for an unknown checkpoint id
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Store is a content-addressable checkpoint store for one project.
// Implementations need not be safe for concurrent use; callers serialize access.
type Store interface {
	Checkpoint(description string) (*Checkpoint, error)
	Restore(id string) (*RestoreResult, error)
	Fork(id, description string) (*Checkpoint, error)
	ListCheckpoints() ([]Checkpoint, error)
	Diff(fromID, toID string) (*CheckpointDiff, error)
	DiffDetailed(fromID, toID string, opts DiffOptions) (*DetailedCheckpointDiff, error)
	Verify(id string) (*VerificationReport, error)
	GC() (*GCStats, error)
	Timeline() (*Timeline, error)
	Close() error
}

// Watchable is implemented by stores whose changes are visible as file system events
type Watchable interface {
	Dir() string
}

// Opener opens the store of a project, creating it when absent
type Opener interface {
	OpenOrCreate(projectPath string) (Store, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(projectPath string) (Store, error)

// OpenOrCreate calls f(projectPath)
func (f OpenerFunc) OpenOrCreate(projectPath string) (Store, error) {
	return f(projectPath)
}

// CompressionPolicy is the adaptive compression rule applied to new objects:
// compress when the file is at least MinSize bytes and its extension is not skipped.
type CompressionPolicy struct {
	MinSize        int64    `json:"min_size"`
	SkipExtensions []string `json:"skip_extensions"`
}

// Options configures a Local store
type Options struct {
	// DirName is the store directory inside the project
	DirName          string
	CompressionLevel int
	Compression      CompressionPolicy
	IgnorePatterns   []string
	// GCGrace protects unreferenced objects younger than this from GC, since another
	// handle on the same store may be between writing objects and committing its catalog row.
	GCGrace time.Duration
}

// LocalOpener returns an Opener backed by Local stores
func LocalOpener(opts Options, logger *zap.Logger) Opener {
	return OpenerFunc(func(projectPath string) (Store, error) {
		return OpenOrCreate(projectPath, opts, logger)
	})
}

func storeDir(projectPath string, opts Options) string {
	return filepath.Join(projectPath, opts.DirName)
}

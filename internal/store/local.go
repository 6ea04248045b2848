package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"checkpointd/internal/database"
)

// settings keys persisted in the catalog at creation time
const (
	settingCompression      = "compression_policy"
	settingCompressionLevel = "compression_level"
	settingIgnorePatterns   = "ignore_patterns"
	settingCurrent          = "current_checkpoint"
)

const catalogFile = "catalog.db"

// Local is a Store kept in a directory inside the project
type Local struct {
	projectPath string
	dir         string
	db          *database.Database
	objects     *objectPool
	ignore      *ignoreMatcher
	gcGrace     time.Duration
	lastStamp   time.Time
	log         *zap.Logger
}

var _ Store = (*Local)(nil)

// OpenOrCreate opens the store at projectPath/opts.DirName, creating it when absent
func OpenOrCreate(projectPath string, opts Options, logger *zap.Logger) (*Local, error) {
	dir := storeDir(projectPath, opts)
	if _, err := os.Stat(filepath.Join(dir, catalogFile)); err == nil {
		logger.Info("opening existing checkpoint store", zap.String("dir", dir))
		return Open(projectPath, opts, logger)
	}
	logger.Info("creating new checkpoint store", zap.String("dir", dir))
	return Create(projectPath, opts, logger)
}

// Create initializes a new store, persisting its compression policy and ignore list
func Create(projectPath string, opts Options, logger *zap.Logger) (*Local, error) {
	dir := storeDir(projectPath, opts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := database.Open(filepath.Join(dir, catalogFile))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	policy, _ := json.Marshal(opts.Compression)
	patterns, _ := json.Marshal(opts.IgnorePatterns)
	for key, value := range map[string]string{
		settingCompression:      string(policy),
		settingCompressionLevel: strconv.Itoa(opts.CompressionLevel),
		settingIgnorePatterns:   string(patterns),
	} {
		if err := db.SaveSetting(key, value); err != nil {
			db.Close()
			return nil, fmt.Errorf("save setting %s: %w", key, err)
		}
	}

	return newLocal(projectPath, dir, db, opts, logger)
}

// Open opens an existing store. The compression policy and ignore list recorded at
// creation take precedence over opts.
func Open(projectPath string, opts Options, logger *zap.Logger) (*Local, error) {
	dir := storeDir(projectPath, opts)
	if _, err := os.Stat(filepath.Join(dir, catalogFile)); err != nil {
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}

	db, err := database.Open(filepath.Join(dir, catalogFile))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if value, err := db.GetSetting(settingCompression); err == nil {
		if err := json.Unmarshal([]byte(value), &opts.Compression); err != nil {
			db.Close()
			return nil, fmt.Errorf("decode compression policy: %w", err)
		}
	}
	if value, err := db.GetSetting(settingCompressionLevel); err == nil {
		if level, err := strconv.Atoi(value); err == nil {
			opts.CompressionLevel = level
		}
	}
	if value, err := db.GetSetting(settingIgnorePatterns); err == nil {
		if err := json.Unmarshal([]byte(value), &opts.IgnorePatterns); err != nil {
			db.Close()
			return nil, fmt.Errorf("decode ignore patterns: %w", err)
		}
	}

	return newLocal(projectPath, dir, db, opts, logger)
}

func newLocal(projectPath, dir string, db *database.Database, opts Options, logger *zap.Logger) (*Local, error) {
	objects, err := newObjectPool(filepath.Join(dir, "objects"), opts.CompressionLevel, opts.Compression)
	if err != nil {
		db.Close()
		return nil, err
	}

	ignore, err := newIgnoreMatcher(projectPath, opts.IgnorePatterns, opts.DirName)
	if err != nil {
		objects.close()
		db.Close()
		return nil, fmt.Errorf("read ignore patterns: %w", err)
	}

	s := &Local{
		projectPath: projectPath,
		dir:         dir,
		db:          db,
		objects:     objects,
		ignore:      ignore,
		gcGrace:     opts.GCGrace,
		log:         logger,
	}

	// new checkpoints must sort after everything already in the catalog
	rows, err := db.ListCheckpoints()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	if len(rows) > 0 {
		s.lastStamp = rows[len(rows)-1].Timestamp
	}
	return s, nil
}

// Dir returns the store directory
func (s *Local) Dir() string {
	return s.dir
}

// Close releases the catalog and codecs
func (s *Local) Close() error {
	s.objects.close()
	return s.db.Close()
}

// scan lists the tracked regular files of the working tree, slash-separated and sorted
func (s *Local) scan() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.projectPath {
			return nil
		}
		rel, err := filepath.Rel(s.projectPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if s.ignore.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, rel)
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

// snapshot stores every tracked file in the object pool
func (s *Local) snapshot() ([]database.FileRow, error) {
	paths, err := s.scan()
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	files := make([]database.FileRow, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for i, rel := range paths {
		g.Go(func() error {
			full := filepath.Join(s.projectPath, filepath.FromSlash(rel))
			info, err := os.Stat(full)
			if err != nil {
				return fmt.Errorf("stat %s: %w", rel, err)
			}
			content, err := os.ReadFile(full)
			if err != nil {
				return fmt.Errorf("read %s: %w", rel, err)
			}
			hash, err := s.objects.put(rel, content)
			if err != nil {
				return fmt.Errorf("store %s: %w", rel, err)
			}
			files[i] = database.FileRow{
				Path: rel,
				Hash: hash,
				Size: int64(len(content)),
				Mode: uint32(info.Mode().Perm()),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// nextTimestamp keeps timestamps from this handle strictly increasing
func (s *Local) nextTimestamp() time.Time {
	now := time.Now()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

func (s *Local) currentID() string {
	id, err := s.db.GetSetting(settingCurrent)
	if err != nil {
		return ""
	}
	return id
}

// Checkpoint snapshots the working tree
func (s *Local) Checkpoint(description string) (*Checkpoint, error) {
	files, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	row := &database.CheckpointRow{
		ID:          uuid.New().String(),
		ParentID:    s.currentID(),
		Timestamp:   s.nextTimestamp(),
		Description: description,
		FileCount:   len(files),
		TotalSize:   totalSize(files),
		MerkleRoot:  merkleRoot(files),
	}
	if err := s.db.InsertCheckpoint(row, files); err != nil {
		return nil, fmt.Errorf("record checkpoint: %w", err)
	}
	if err := s.db.SaveSetting(settingCurrent, row.ID); err != nil {
		return nil, fmt.Errorf("update current checkpoint: %w", err)
	}

	s.log.Debug("checkpoint created",
		zap.String("id", row.ID),
		zap.Int("files", row.FileCount),
		zap.Int64("bytes", row.TotalSize))

	cp := toCheckpoint(row)
	return &cp, nil
}

// Restore makes the working tree match a checkpoint. Files that fail to restore or
// delete become warnings rather than errors.
func (s *Local) Restore(id string) (*RestoreResult, error) {
	if _, err := s.getCheckpoint(id); err != nil {
		return nil, err
	}
	files, err := s.db.ListFiles(id)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	current, err := s.scan()
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	target := make(map[string]database.FileRow, len(files))
	for _, f := range files {
		target[f.Path] = f
	}

	result := &RestoreResult{Warnings: []string{}}

	for _, rel := range current {
		if _, keep := target[rel]; keep {
			continue
		}
		if err := os.Remove(filepath.Join(s.projectPath, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to remove %s: %v", rel, err))
			continue
		}
		result.FilesDeleted++
	}

	for _, f := range files {
		full := filepath.Join(s.projectPath, filepath.FromSlash(f.Path))
		if existing, err := os.ReadFile(full); err == nil && HashContent(existing) == f.Hash {
			continue
		}

		content, err := s.objects.get(f.Hash)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to load %s: %v", f.Path, err))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to create dir for %s: %v", f.Path, err))
			continue
		}
		if err := os.WriteFile(full, content, os.FileMode(f.Mode)); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to restore %s: %v", f.Path, err))
			continue
		}
		result.FilesRestored++
		result.BytesWritten += int64(len(content))
	}

	if err := s.db.SaveSetting(settingCurrent, id); err != nil {
		return nil, fmt.Errorf("update current checkpoint: %w", err)
	}
	return result, nil
}

// Fork creates a new checkpoint branching from id with the same file tree
func (s *Local) Fork(id, description string) (*Checkpoint, error) {
	source, err := s.getCheckpoint(id)
	if err != nil {
		return nil, err
	}
	files, err := s.db.ListFiles(id)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}

	row := &database.CheckpointRow{
		ID:          uuid.New().String(),
		ParentID:    id,
		Timestamp:   s.nextTimestamp(),
		Description: description,
		FileCount:   source.FileCount,
		TotalSize:   source.TotalSize,
		MerkleRoot:  source.MerkleRoot,
	}
	if err := s.db.InsertCheckpoint(row, files); err != nil {
		return nil, fmt.Errorf("record fork: %w", err)
	}

	cp := toCheckpoint(row)
	return &cp, nil
}

// ListCheckpoints returns every checkpoint, oldest first
func (s *Local) ListCheckpoints() ([]Checkpoint, error) {
	rows, err := s.db.ListCheckpoints()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	checkpoints := make([]Checkpoint, 0, len(rows))
	for _, row := range rows {
		checkpoints = append(checkpoints, toCheckpoint(row))
	}
	return checkpoints, nil
}

// Verify re-reads and re-hashes every object of a checkpoint
func (s *Local) Verify(id string) (*VerificationReport, error) {
	row, err := s.getCheckpoint(id)
	if err != nil {
		return nil, err
	}
	files, err := s.db.ListFiles(id)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}

	report := &VerificationReport{CheckpointID: id, Errors: []string{}}
	for _, f := range files {
		report.FilesChecked++
		content, err := s.objects.get(f.Hash)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", f.Path, err))
			continue
		}
		if got := HashContent(content); got != f.Hash {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: hash mismatch (stored %s, computed %s)", f.Path, f.Hash, got))
		}
	}
	report.MerkleRootValid = merkleRoot(files) == row.MerkleRoot
	return report, nil
}

// GC deletes objects no checkpoint references
func (s *Local) GC() (*GCStats, error) {
	start := time.Now()
	referenced, err := s.db.ReferencedHashes()
	if err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}

	stats := &GCStats{ObjectsReferenced: len(referenced)}
	cutoff := start.Add(-s.gcGrace)
	err = s.objects.walk(func(hash, path string, size int64, modTime time.Time) error {
		stats.ObjectsExamined++
		if referenced[hash] || modTime.After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		stats.ObjectsDeleted++
		stats.BytesReclaimed += size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep objects: %w", err)
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	s.log.Info("gc finished",
		zap.Int("examined", stats.ObjectsExamined),
		zap.Int("deleted", stats.ObjectsDeleted),
		zap.Int64("reclaimed", stats.BytesReclaimed))
	return stats, nil
}

// Timeline links checkpoints into a tree by parent id. Checkpoints whose parent
// is missing become roots. Children are ordered oldest first.
func (s *Local) Timeline() (*Timeline, error) {
	checkpoints, err := s.ListCheckpoints()
	if err != nil {
		return nil, err
	}

	timeline := &Timeline{
		CurrentCheckpointID: s.currentID(),
		Roots:               []*TimelineNode{},
		TotalCheckpoints:    len(checkpoints),
	}

	nodeMap := make(map[string]*TimelineNode, len(checkpoints))
	for _, cp := range checkpoints {
		nodeMap[cp.ID] = &TimelineNode{Checkpoint: cp, Children: []*TimelineNode{}}
	}

	// checkpoints are oldest first, so appending keeps children ordered
	for _, cp := range checkpoints {
		node := nodeMap[cp.ID]
		if parent, ok := nodeMap[cp.ParentID]; ok && cp.ParentID != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		timeline.Roots = append(timeline.Roots, node)
	}

	return timeline, nil
}

func (s *Local) getCheckpoint(id string) (*database.CheckpointRow, error) {
	row, err := s.db.GetCheckpoint(id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return row, nil
}

func toCheckpoint(row *database.CheckpointRow) Checkpoint {
	return Checkpoint{
		ID:          row.ID,
		ParentID:    row.ParentID,
		Timestamp:   row.Timestamp,
		Description: row.Description,
		Metadata: CheckpointMetadata{
			FileCount:  row.FileCount,
			TotalSize:  row.TotalSize,
			MerkleRoot: row.MerkleRoot,
		},
	}
}

func totalSize(files []database.FileRow) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}

// merkleRoot hashes sorted (path, hash) leaves pairwise up to a single root
func merkleRoot(files []database.FileRow) string {
	sorted := make([]database.FileRow, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	level := make([]string, 0, len(sorted))
	for _, f := range sorted {
		level = append(level, HashContent([]byte(f.Path+"\x00"+f.Hash)))
	}
	if len(level) == 0 {
		return HashContent(nil)
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashContent([]byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

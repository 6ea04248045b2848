package store

import "time"

// Checkpoint is an immutable snapshot of a project's tracked files
type Checkpoint struct {
	ID          string             `json:"id"`
	ParentID    string             `json:"parent_id,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Description string             `json:"description,omitempty"`
	Metadata    CheckpointMetadata `json:"metadata"`
}

// CheckpointMetadata summarizes the file tree of a checkpoint
type CheckpointMetadata struct {
	FileCount  int    `json:"file_count"`
	TotalSize  int64  `json:"total_size"`
	MerkleRoot string `json:"merkle_root"`
}

// RestoreResult reports what a restore changed in the working tree
type RestoreResult struct {
	FilesRestored int      `json:"files_restored"`
	FilesDeleted  int      `json:"files_deleted"`
	BytesWritten  int64    `json:"bytes_written"`
	Warnings      []string `json:"warnings"`
}

// FileEntry is one tracked file inside a checkpoint
type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
	Mode uint32 `json:"mode"`
}

// ModifiedFile pairs the old and new entry of a changed path
type ModifiedFile struct {
	Old FileEntry `json:"old"`
	New FileEntry `json:"new"`
}

// DiffStats aggregates a CheckpointDiff
type DiffStats struct {
	FilesAdded    int   `json:"files_added"`
	FilesModified int   `json:"files_modified"`
	FilesDeleted  int   `json:"files_deleted"`
	BytesAdded    int64 `json:"bytes_added"`
	BytesModified int64 `json:"bytes_modified"`
	BytesDeleted  int64 `json:"bytes_deleted"`
}

// CheckpointDiff is the file-level comparison of two checkpoints
type CheckpointDiff struct {
	FromID        string         `json:"from_id"`
	ToID          string         `json:"to_id"`
	AddedFiles    []FileEntry    `json:"added_files"`
	ModifiedFiles []ModifiedFile `json:"modified_files"`
	DeletedFiles  []FileEntry    `json:"deleted_files"`
	Stats         DiffStats      `json:"stats"`
}

// DiffOptions controls DiffDetailed
type DiffOptions struct {
	ContextLines     int   `json:"context_lines"`
	IgnoreWhitespace bool  `json:"ignore_whitespace"`
	ShowLineNumbers  bool  `json:"show_line_numbers"`
	MaxFileSize      int64 `json:"max_file_size"`
}

// DefaultDiffOptions returns 3 context lines, whitespace-sensitive, line numbers, 10 MiB
func DefaultDiffOptions() DiffOptions {
	return DiffOptions{
		ContextLines:     3,
		IgnoreWhitespace: false,
		ShowLineNumbers:  true,
		MaxFileSize:      10 * 1024 * 1024,
	}
}

// LineKind tags a line inside a hunk
type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineDeleted
)

func (k LineKind) String() string {
	switch k {
	case LineAdded:
		return "added"
	case LineDeleted:
		return "deleted"
	default:
		return "context"
	}
}

// LineChange is one line of a hunk. LineNumber refers to the old file for deleted
// lines and to the new file otherwise; it is 0 when line numbers are disabled.
type LineChange struct {
	Kind       LineKind `json:"kind"`
	LineNumber int      `json:"line_number"`
	Content    string   `json:"content"`
}

// Hunk is a contiguous run of changes with surrounding context
type Hunk struct {
	FromLine  int          `json:"from_line"`
	FromCount int          `json:"from_count"`
	ToLine    int          `json:"to_line"`
	ToCount   int          `json:"to_count"`
	Changes   []LineChange `json:"changes"`
}

// FileDiff holds the hunks of one path
type FileDiff struct {
	Path     string `json:"path"`
	IsBinary bool   `json:"is_binary"`
	Hunks    []Hunk `json:"hunks"`
}

// DetailedCheckpointDiff adds line-level hunks to a CheckpointDiff
type DetailedCheckpointDiff struct {
	BasicDiff         CheckpointDiff `json:"basic_diff"`
	FileDiffs         []FileDiff     `json:"file_diffs"`
	TotalLinesAdded   int            `json:"total_lines_added"`
	TotalLinesDeleted int            `json:"total_lines_deleted"`
}

// VerificationReport is the result of checking a checkpoint's objects
type VerificationReport struct {
	CheckpointID    string   `json:"checkpoint_id"`
	FilesChecked    int      `json:"files_checked"`
	MerkleRootValid bool     `json:"merkle_root_valid"`
	Errors          []string `json:"errors"`
}

// IsValid reports whether every object and the merkle root checked out
func (r *VerificationReport) IsValid() bool {
	return r.MerkleRootValid && len(r.Errors) == 0
}

// GCStats reports a garbage collection pass
type GCStats struct {
	ObjectsExamined   int   `json:"objects_examined"`
	ObjectsDeleted    int   `json:"objects_deleted"`
	ObjectsReferenced int   `json:"objects_referenced"`
	BytesReclaimed    int64 `json:"bytes_reclaimed"`
	DurationMs        int64 `json:"duration_ms"`
}

// Timeline is the checkpoint tree of a store
type Timeline struct {
	CurrentCheckpointID string          `json:"current_checkpoint_id,omitempty"`
	Roots               []*TimelineNode `json:"roots"`
	TotalCheckpoints    int             `json:"total_checkpoints"`
}

// TimelineNode represents a node in the checkpoint tree
type TimelineNode struct {
	Checkpoint Checkpoint      `json:"checkpoint"`
	Children   []*TimelineNode `json:"children"`
}

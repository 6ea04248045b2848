// internal/checkpoint/models.go
package checkpoint

import (
	"time"

	"checkpointd/internal/store"
)

// CheckpointInfo is the decoded view of one store checkpoint
type CheckpointInfo struct {
	ID           string    `json:"checkpointId"`
	MessageIndex int       `json:"messageIndex"`
	CreatedAt    time.Time `json:"timestamp"`
	// SessionID is nil when the description could not be decoded
	SessionID   *string `json:"sessionId"`
	Description string  `json:"description"`
	FileCount   int     `json:"fileCount"`
	TotalSize   int64   `json:"totalSize"`
}

// InSession reports whether the checkpoint decodes to sessionID
func (c CheckpointInfo) InSession(sessionID string) bool {
	return c.SessionID != nil && *c.SessionID == sessionID
}

// RestoreResult is returned by Manager.Restore
type RestoreResult struct {
	FilesRestored int      `json:"filesRestored"`
	FilesDeleted  int      `json:"filesDeleted"`
	BytesWritten  int64    `json:"bytesWritten"`
	DurationMs    int64    `json:"durationMs"`
	Warnings      []string `json:"warnings"`
	// MessageIndex is the session's index of the restored checkpoint, 0 if unknown
	MessageIndex int `json:"messageIndex"`
}

// TimelineInfo combines the store's checkpoint tree with the cached listing
type TimelineInfo struct {
	CurrentCheckpointID *string          `json:"currentCheckpointId"`
	Checkpoints         []CheckpointInfo `json:"checkpoints"`
	TimelineTree        *store.Timeline  `json:"timelineTree,omitempty"`
}

// DiffResponse is the transport shape of a file-level diff
type DiffResponse struct {
	FromID        string               `json:"fromId"`
	ToID          string               `json:"toId"`
	AddedFiles    []store.FileEntry    `json:"addedFiles"`
	ModifiedFiles []store.ModifiedFile `json:"modifiedFiles"`
	DeletedFiles  []store.FileEntry    `json:"deletedFiles"`
	Stats         store.DiffStats      `json:"stats"`
}

// LineChangeResponse is one line of a hunk; ChangeType is added, deleted or context
type LineChangeResponse struct {
	ChangeType string `json:"changeType"`
	LineNumber int    `json:"lineNumber"`
	Content    string `json:"content"`
}

// HunkResponse is a contiguous run of line changes
type HunkResponse struct {
	FromLine  int                  `json:"fromLine"`
	FromCount int                  `json:"fromCount"`
	ToLine    int                  `json:"toLine"`
	ToCount   int                  `json:"toCount"`
	Changes   []LineChangeResponse `json:"changes"`
}

// FileDiffResponse holds the hunks of one file
type FileDiffResponse struct {
	Path     string         `json:"path"`
	IsBinary bool           `json:"isBinary"`
	Hunks    []HunkResponse `json:"hunks"`
}

// DetailedDiffResponse is the transport shape of a line-level diff
type DetailedDiffResponse struct {
	BasicDiff         DiffResponse       `json:"basicDiff"`
	FileDiffs         []FileDiffResponse `json:"fileDiffs"`
	TotalLinesAdded   int                `json:"totalLinesAdded"`
	TotalLinesDeleted int                `json:"totalLinesDeleted"`
}

// GCResponse wraps the store's garbage collection stats
type GCResponse struct {
	Stats store.GCStats `json:"stats"`
}

func newDiffResponse(d *store.CheckpointDiff) *DiffResponse {
	resp := &DiffResponse{
		FromID:        d.FromID,
		ToID:          d.ToID,
		AddedFiles:    d.AddedFiles,
		ModifiedFiles: d.ModifiedFiles,
		DeletedFiles:  d.DeletedFiles,
		Stats:         d.Stats,
	}
	if resp.AddedFiles == nil {
		resp.AddedFiles = []store.FileEntry{}
	}
	if resp.ModifiedFiles == nil {
		resp.ModifiedFiles = []store.ModifiedFile{}
	}
	if resp.DeletedFiles == nil {
		resp.DeletedFiles = []store.FileEntry{}
	}
	return resp
}

func newDetailedDiffResponse(d *store.DetailedCheckpointDiff) *DetailedDiffResponse {
	resp := &DetailedDiffResponse{
		BasicDiff:         *newDiffResponse(&d.BasicDiff),
		FileDiffs:         make([]FileDiffResponse, 0, len(d.FileDiffs)),
		TotalLinesAdded:   d.TotalLinesAdded,
		TotalLinesDeleted: d.TotalLinesDeleted,
	}

	for _, fd := range d.FileDiffs {
		file := FileDiffResponse{
			Path:     fd.Path,
			IsBinary: fd.IsBinary,
			Hunks:    make([]HunkResponse, 0, len(fd.Hunks)),
		}
		for _, h := range fd.Hunks {
			hunk := HunkResponse{
				FromLine:  h.FromLine,
				FromCount: h.FromCount,
				ToLine:    h.ToLine,
				ToCount:   h.ToCount,
				Changes:   make([]LineChangeResponse, 0, len(h.Changes)),
			}
			for _, c := range h.Changes {
				hunk.Changes = append(hunk.Changes, LineChangeResponse{
					ChangeType: c.Kind.String(),
					LineNumber: c.LineNumber,
					Content:    c.Content,
				})
			}
			file.Hunks = append(file.Hunks, hunk)
		}
		resp.FileDiffs = append(resp.FileDiffs, file)
	}
	return resp
}

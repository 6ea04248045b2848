// internal/database/models.go
package database

import "time"

// CheckpointRow is one checkpoint in the catalog
type CheckpointRow struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
	FileCount   int       `json:"file_count"`
	TotalSize   int64     `json:"total_size"`
	MerkleRoot  string    `json:"merkle_root"`
}

// FileRow is one tracked file of a checkpoint
type FileRow struct {
	CheckpointID string `json:"checkpoint_id"`
	Path         string `json:"path"`
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	Mode         uint32 `json:"mode"`
}

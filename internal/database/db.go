// internal/database/db.go
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a checkpoint or setting does not exist
var ErrNotFound = errors.New("not found")

// Database wraps the SQLite catalog of a checkpoint store
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		created_at INTEGER NOT NULL,
		description TEXT,
		file_count INTEGER NOT NULL DEFAULT 0,
		total_size INTEGER NOT NULL DEFAULT 0,
		merkle_root TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoint_files (
		checkpoint_id TEXT NOT NULL,
		path TEXT NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		mode INTEGER NOT NULL,
		PRIMARY KEY (checkpoint_id, path),
		FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
	CREATE INDEX IF NOT EXISTS idx_checkpoint_files_hash ON checkpoint_files(hash);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// InsertCheckpoint writes a checkpoint and its files in one transaction
func (d *Database) InsertCheckpoint(cp *CheckpointRow, files []FileRow) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO checkpoints (id, parent_id, created_at, description, file_count, total_size, merkle_root)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, nullableString(cp.ParentID), cp.Timestamp.UnixNano(), nullableString(cp.Description),
		cp.FileCount, cp.TotalSize, cp.MerkleRoot)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO checkpoint_files (checkpoint_id, path, hash, size, mode)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(cp.ID, f.Path, f.Hash, f.Size, f.Mode); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

// GetCheckpoint retrieves a checkpoint by ID
func (d *Database) GetCheckpoint(id string) (*CheckpointRow, error) {
	row := d.db.QueryRow(`
		SELECT id, parent_id, created_at, description, file_count, total_size, merkle_root
		FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	return cp, err
}

// ListCheckpoints returns every checkpoint, oldest first
func (d *Database) ListCheckpoints() ([]*CheckpointRow, error) {
	rows, err := d.db.Query(`
		SELECT id, parent_id, created_at, description, file_count, total_size, merkle_root
		FROM checkpoints ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*CheckpointRow
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// ListFiles returns the tracked files of a checkpoint ordered by path
func (d *Database) ListFiles(checkpointID string) ([]FileRow, error) {
	rows, err := d.db.Query(`
		SELECT checkpoint_id, path, hash, size, mode
		FROM checkpoint_files WHERE checkpoint_id = ? ORDER BY path`, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileRow
	for rows.Next() {
		var f FileRow
		if err := rows.Scan(&f.CheckpointID, &f.Path, &f.Hash, &f.Size, &f.Mode); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ReferencedHashes returns every object hash referenced by any checkpoint
func (d *Database) ReferencedHashes() (map[string]bool, error) {
	rows, err := d.db.Query(`SELECT DISTINCT hash FROM checkpoint_files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes[hash] = true
	}
	return hashes, rows.Err()
}

// SaveSetting saves a setting value
func (d *Database) SaveSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)`, key, value, time.Now())
	return err
}

// GetSetting retrieves a setting value, ErrNotFound when unset
func (d *Database) GetSetting(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(s scanner) (*CheckpointRow, error) {
	var (
		cp          CheckpointRow
		parentID    sql.NullString
		description sql.NullString
		createdAt   int64
	)
	if err := s.Scan(&cp.ID, &parentID, &createdAt, &description, &cp.FileCount, &cp.TotalSize, &cp.MerkleRoot); err != nil {
		return nil, err
	}
	cp.ParentID = parentID.String
	cp.Description = description.String
	cp.Timestamp = time.Unix(0, createdAt)
	return &cp, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

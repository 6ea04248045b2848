// bindings.go
package main

import (
	"checkpointd/internal/checkpoint"
	"checkpointd/internal/eventhub"
	"checkpointd/internal/store"
)

// ===== Session Bindings =====

// InitSession creates the session's manager, opening the project's store if needed
func (a *App) InitSession(projectPath, sessionID string) error {
	registry, err := a.sessions()
	if err != nil {
		return err
	}
	m, err := registry.GetOrCreate(projectPath, sessionID)
	if err != nil {
		return err
	}
	records, err := m.List()
	if err != nil {
		return err
	}
	a.eventHub.EmitSessionInitialized(sessionID, m.ProjectPath(), len(records))
	return nil
}

// ListSessions returns the initialized session ids
func (a *App) ListSessions() ([]string, error) {
	registry, err := a.sessions()
	if err != nil {
		return nil, err
	}
	return registry.Sessions(), nil
}

func (a *App) manager(sessionID string) (*checkpoint.Manager, error) {
	registry, err := a.sessions()
	if err != nil {
		return nil, err
	}
	return registry.Get(sessionID)
}

// ===== Checkpoint Bindings =====

// CheckpointMessage snapshots the project for a message of the session
func (a *App) CheckpointMessage(sessionID string, messageIndex int, message string) (string, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return "", err
	}
	id, err := m.Checkpoint(messageIndex, message)
	if err != nil {
		return "", err
	}
	a.eventHub.EmitCheckpointCreated(sessionID, id, messageIndex)
	return id, nil
}

// GetCheckpointAtMessage returns the checkpoint recorded at messageIndex, or nil
func (a *App) GetCheckpointAtMessage(sessionID string, messageIndex int) (*string, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}
	id, ok := m.CheckpointAt(messageIndex)
	if !ok {
		return nil, nil
	}
	return &id, nil
}

// RestoreCheckpoint makes the project match a checkpoint
func (a *App) RestoreCheckpoint(sessionID, checkpointID string) (*checkpoint.RestoreResult, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}
	result, err := m.Restore(checkpointID)
	if err != nil {
		return nil, err
	}
	a.eventHub.EmitCheckpointRestored(eventhub.CheckpointRestoredEvent{
		SessionID:     sessionID,
		CheckpointID:  checkpointID,
		MessageIndex:  result.MessageIndex,
		FilesRestored: result.FilesRestored,
		FilesDeleted:  result.FilesDeleted,
		Warnings:      len(result.Warnings),
	})
	return result, nil
}

// GetTimeline returns the checkpoint tree of the session's project
func (a *App) GetTimeline(sessionID string) (*checkpoint.TimelineInfo, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}
	return m.Timeline()
}

// ListCheckpoints returns the session's own checkpoints, newest first
func (a *App) ListCheckpoints(sessionID string) ([]checkpoint.CheckpointInfo, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}
	records, err := m.List()
	if err != nil {
		return nil, err
	}

	own := make([]checkpoint.CheckpointInfo, 0, len(records))
	for _, r := range records {
		if r.InSession(sessionID) {
			own = append(own, r)
		}
	}
	return own, nil
}

// ListAllCheckpoints returns every checkpoint of a project without initializing a session
func (a *App) ListAllCheckpoints(projectPath string) ([]checkpoint.CheckpointInfo, error) {
	registry, err := a.sessions()
	if err != nil {
		return nil, err
	}
	return registry.ListProject(projectPath)
}

// ForkCheckpoint branches from a checkpoint
func (a *App) ForkCheckpoint(sessionID, checkpointID, description string) (string, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return "", err
	}
	id, err := m.Fork(checkpointID, description)
	if err != nil {
		return "", err
	}
	a.eventHub.EmitCheckpointForked(sessionID, checkpointID, id)
	return id, nil
}

// RefreshCheckpoints reloads the session's cache from the store
func (a *App) RefreshCheckpoints(sessionID string) error {
	m, err := a.manager(sessionID)
	if err != nil {
		return err
	}
	return m.Refresh()
}

// ===== Diff Bindings =====

// DiffCheckpoints compares two checkpoints file by file
func (a *App) DiffCheckpoints(sessionID, fromID, toID string) (*checkpoint.DiffResponse, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}
	return m.Diff(fromID, toID)
}

// DiffCheckpointsDetailed compares two checkpoints line by line. Nil options fall
// back to the configured defaults.
func (a *App) DiffCheckpointsDetailed(sessionID, fromID, toID string, contextLines *int, ignoreWhitespace *bool) (*checkpoint.DetailedDiffResponse, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}

	opts := a.diffOptions()
	if contextLines != nil {
		opts.ContextLines = *contextLines
	}
	if ignoreWhitespace != nil {
		opts.IgnoreWhitespace = *ignoreWhitespace
	}
	return m.DiffDetailed(fromID, toID, opts)
}

func (a *App) diffOptions() store.DiffOptions {
	return store.DiffOptions{
		ContextLines:     a.config.Diff.ContextLines,
		IgnoreWhitespace: a.config.Diff.IgnoreWhitespace,
		ShowLineNumbers:  a.config.Diff.ShowLineNumbers,
		MaxFileSize:      a.config.Diff.MaxFileSize,
	}
}

// ===== Maintenance Bindings =====

// VerifyCheckpoint reports whether a checkpoint's objects are intact
func (a *App) VerifyCheckpoint(sessionID, checkpointID string) (bool, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return false, err
	}
	return m.Verify(checkpointID)
}

// GC removes objects no checkpoint of the session's project references
func (a *App) GC(sessionID string) (*checkpoint.GCResponse, error) {
	m, err := a.manager(sessionID)
	if err != nil {
		return nil, err
	}
	stats, err := m.GC()
	if err != nil {
		return nil, err
	}
	return &checkpoint.GCResponse{Stats: *stats}, nil
}

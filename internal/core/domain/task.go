package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeChunksUpserted re-derives index entries for changed chunks
	TaskTypeChunksUpserted TaskType = "chunks_upserted"
	// TaskTypeChunksDeleted removes index entries for deleted chunks
	TaskTypeChunksDeleted TaskType = "chunks_deleted"
	// TaskTypeReindex rebuilds the keyword index for a scope
	TaskTypeReindex TaskType = "reindex"
)

// Task is a message consumed by workers
type Task struct {
	ID        string     `json:"id"`
	Type      TaskType   `json:"type"`
	ChunkIDs  []string   `json:"chunk_ids,omitempty"`
	ProjectID string     `json:"project_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewChunkTask creates a task for chunk upserts or deletes
func NewChunkTask(taskType TaskType, chunkIDs []string) *Task {
	return &Task{
		ID:        GenerateID(),
		Type:      taskType,
		ChunkIDs:  chunkIDs,
		CreatedAt: time.Now(),
	}
}

// NewReindexTask creates a task to rebuild a scope
func NewReindexTask(req ReindexRequest) *Task {
	return &Task{
		ID:        GenerateID(),
		Type:      TaskTypeReindex,
		ProjectID: req.ProjectID,
		Since:     req.Since,
		CreatedAt: time.Now(),
	}
}

// ReindexRequest extracts the reindex parameters
func (t *Task) ReindexRequest() ReindexRequest {
	return ReindexRequest{ProjectID: t.ProjectID, Since: t.Since}
}

// Validate checks the task carries what its type needs
func (t *Task) Validate() error {
	switch t.Type {
	case TaskTypeChunksUpserted, TaskTypeChunksDeleted:
		if len(t.ChunkIDs) == 0 {
			return fmt.Errorf("%w: %s task without chunk ids", ErrInvalidInput, t.Type)
		}
	case TaskTypeReindex:
	default:
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidInput, t.Type)
	}
	return nil
}

// ScheduledTask represents a recurring task configuration
type ScheduledTask struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`

	// LastRun is when the task was last triggered
	LastRun *time.Time `json:"last_run,omitempty"`

	// NextRun is when the task should next be triggered
	NextRun time.Time `json:"next_run"`

	// LastError contains the last error if the scheduled task failed
	LastError string `json:"last_error,omitempty"`
}

// NewScheduledTask creates a new scheduled task
func NewScheduledTask(id, name string, interval time.Duration) *ScheduledTask {
	return &ScheduledTask{
		ID:       id,
		Name:     name,
		Interval: interval,
		Enabled:  true,
		NextRun:  time.Now().Add(interval),
	}
}

// IsDue returns true if the scheduled task should be triggered
func (s *ScheduledTask) IsDue() bool {
	return s.Enabled && time.Now().After(s.NextRun)
}

// UpdateNextRun calculates the next run time after execution
func (s *ScheduledTask) UpdateNextRun() {
	now := time.Now()
	s.LastRun = &now
	s.NextRun = now.Add(s.Interval)
}

// Window returns the since timestamp for an incremental run: everything
// modified since the last run, with overlap so that late commits are not missed.
func (s *ScheduledTask) Window(now time.Time, overlap time.Duration) time.Time {
	if s.LastRun == nil {
		return now.Add(-s.Interval - overlap)
	}
	return s.LastRun.Add(-overlap)
}

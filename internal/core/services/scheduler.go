package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
)

// Ensure Scheduler implements the driving port
var _ driving.Scheduler = (*Scheduler)(nil)

const schedulerLockName = "scheduler:incremental-reindex"

// Scheduler runs periodic incremental reindexing on worker nodes.
//
// For multi-worker deployments, configure a DistributedLock to prevent
// duplicate runs across instances.
type Scheduler struct {
	sync      driving.IndexSyncService
	lock      driven.DistributedLock
	logger    *slog.Logger
	projectID string
	overlap   time.Duration

	// Internal state
	mu       sync.RWMutex
	task     *domain.ScheduledTask
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	// Lock configuration
	lockTTL      time.Duration
	lockRequired bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Sync         driving.IndexSyncService
	Lock         driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger       *slog.Logger
	ProjectID    string        // Optional: restrict incremental runs to one project
	Interval     time.Duration // How often an incremental run is due (default: 1h)
	Overlap      time.Duration // Extra look-back added to each window (default: 5m)
	PollInterval time.Duration // How often to check whether a run is due (default: 30s)
	LockTTL      time.Duration // TTL for the scheduler lock (default: 60s)
	LockRequired bool          // If true, skip the cycle when the lock backend errors (default: true)
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = time.Hour
	}

	poll := cfg.PollInterval
	if poll == 0 {
		poll = 30 * time.Second
	}

	overlap := cfg.Overlap
	if overlap == 0 {
		overlap = 5 * time.Minute
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 60 * time.Second
	}

	// Default to requiring lock if one is provided
	lockRequired := cfg.LockRequired
	if cfg.Lock != nil && !cfg.LockRequired {
		lockRequired = true
	}

	return &Scheduler{
		sync:         cfg.Sync,
		lock:         cfg.Lock,
		logger:       logger,
		projectID:    cfg.ProjectID,
		overlap:      overlap,
		task:         domain.NewScheduledTask("incremental-reindex", "Incremental keyword reindex", interval),
		interval:     poll,
		lockTTL:      lockTTL,
		lockRequired: lockRequired,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "poll_interval", s.interval, "interval", s.task.Interval)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for the scheduler to finish
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.isDue() {
				_, _ = s.runIncremental(ctx)
			}
		}
	}
}

func (s *Scheduler) isDue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.task.IsDue()
}

// TriggerNow runs an incremental reindex immediately, ignoring the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) (*domain.ReindexResult, error) {
	return s.runIncremental(ctx)
}

// Task returns a snapshot of the scheduled task state.
func (s *Scheduler) Task() domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.task
}

// runIncremental reindexes the window since the last run and logs drift.
// If a distributed lock is configured, it is held for the whole run.
func (s *Scheduler) runIncremental(ctx context.Context) (*domain.ReindexResult, error) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			if s.lockRequired {
				return nil, err
			}
			// Fall through if lock not required (single-instance mode)
		} else if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return nil, domain.ErrLockNotAcquired
		} else {
			defer func() {
				if err := s.lock.Release(ctx, schedulerLockName); err != nil {
					s.logger.Warn("failed to release scheduler lock", "error", err)
				}
			}()
		}
	}

	s.mu.RLock()
	since := s.task.Window(time.Now(), s.overlap)
	s.mu.RUnlock()

	result, err := s.sync.ReindexSince(ctx, since, s.projectID)

	s.mu.Lock()
	s.task.UpdateNextRun()
	s.task.LastError = ""
	if err != nil {
		s.task.LastError = err.Error()
	} else if result.Status != domain.SyncStatusCompleted {
		s.task.LastError = string(result.Status)
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			s.logger.Debug("reindex already running, skipping cycle")
		} else {
			s.logger.Error("incremental reindex failed", "since", since, "error", err)
		}
		return nil, err
	}

	s.logger.Info("incremental reindex completed",
		"since", since,
		"status", result.Status,
		"indexed", result.Indexed,
		"failed", result.Failed)

	// Drift is logged, never repaired here
	if drift, derr := s.sync.DriftStatus(ctx, s.projectID); derr != nil {
		s.logger.Warn("drift check failed", "error", derr)
	} else {
		s.logger.Info("drift status",
			"relational_count", drift.RelationalCount,
			"index_count", drift.IndexCount,
			"drift", drift.Drift,
			"in_sync", drift.InSync)
	}
	return result, nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
)

// Worker consumes chunk-change events and reindex requests from NSQ and
// runs the incremental reindex scheduler.
type Worker struct {
	sync      driving.IndexSyncService
	scheduler driving.Scheduler
	logger    *slog.Logger

	// Configuration
	lookupd     string
	nsqd        string
	channel     string
	maxInFlight int
	taskTimeout time.Duration

	// Internal state
	mu        sync.RWMutex
	running   bool
	consumers []*nsq.Consumer
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Sync        driving.IndexSyncService
	Scheduler   driving.Scheduler // Optional
	Logger      *slog.Logger
	NSQLookupd  string // Preferred; falls back to NSQD when empty
	NSQD        string
	Channel     string        // Default: "retrieval"
	MaxInFlight int           // Messages processed concurrently per topic (default: 4)
	TaskTimeout time.Duration // Per-task deadline (default: 30m)
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "retrieval"
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}

	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Minute
	}

	return &Worker{
		sync:        cfg.Sync,
		scheduler:   cfg.Scheduler,
		logger:      logger,
		lookupd:     cfg.NSQLookupd,
		nsqd:        cfg.NSQD,
		channel:     channel,
		maxInFlight: maxInFlight,
		taskTimeout: taskTimeout,
	}
}

// Start subscribes to the task topics and starts the scheduler.
// It returns once the consumers are connected.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	w.logger.Info("worker starting",
		"channel", w.channel,
		"max_in_flight", w.maxInFlight,
	)

	for _, topic := range []string{driven.TopicChunks, driven.TopicReindex} {
		consumer, err := w.subscribe(ctx, topic)
		if err != nil {
			w.stopConsumers()
			return err
		}
		w.consumers = append(w.consumers, consumer)
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	w.running = true
	return nil
}

func (w *Worker) subscribe(ctx context.Context, topic string) (*nsq.Consumer, error) {
	cfg := nsq.NewConfig()
	cfg.MaxInFlight = w.maxInFlight
	cfg.MsgTimeout = w.taskTimeout

	consumer, err := nsq.NewConsumer(topic, w.channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", topic, err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
		return w.HandleMessage(ctx, m)
	}), w.maxInFlight)

	if w.lookupd != "" {
		err = consumer.ConnectToNSQLookupd(w.lookupd)
	} else {
		err = consumer.ConnectToNSQD(w.nsqd)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("%w: connect consumer for %s: %w", domain.ErrServiceUnavailable, topic, err)
	}
	return consumer, nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.stopConsumers()
	w.running = false
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	w.logger.Info("worker stopped")
}

// stopConsumers waits for in-flight messages. Caller holds mu.
func (w *Worker) stopConsumers() {
	for _, c := range w.consumers {
		c.Stop()
	}
	for _, c := range w.consumers {
		<-c.StopChan
	}
	w.consumers = nil
}

// HandleMessage decodes and runs one task. Undecodable or invalid messages
// are acked and dropped; processing errors requeue the message.
func (w *Worker) HandleMessage(ctx context.Context, m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task domain.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		w.logger.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if err := task.Validate(); err != nil {
		w.logger.Error("dropping invalid task", "task_id", task.ID, "error", err)
		return nil
	}

	return w.processTask(ctx, &task)
}

// processTask processes a single task.
func (w *Worker) processTask(ctx context.Context, task *domain.Task) error {
	logger := w.logger.With("task_id", task.ID, "task_type", task.Type)
	logger.Info("processing task")

	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeChunksUpserted:
		err = w.handleUpserted(ctx, task, logger)
	case domain.TaskTypeChunksDeleted:
		err = w.sync.RemoveChunks(ctx, task.ChunkIDs)
	case domain.TaskTypeReindex:
		err = w.handleReindex(ctx, task, logger)
	default:
		err = fmt.Errorf("unknown task type: %s", task.Type)
	}

	duration := time.Since(startTime)
	if err != nil {
		logger.Error("task failed", "duration", duration, "error", err)
		return err
	}

	logger.Info("task completed", "duration", duration)
	return nil
}

func (w *Worker) handleUpserted(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	res, err := w.sync.IndexChunks(ctx, task.ChunkIDs)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		// Requeue so the failed documents are retried; upserts are idempotent
		return fmt.Errorf("%w: %d of %d chunks failed", domain.ErrSyncBatchFailure, res.Failed, len(task.ChunkIDs))
	}
	logger.Debug("chunks indexed", "indexed", res.Indexed)
	return nil
}

func (w *Worker) handleReindex(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	result, err := w.sync.Reindex(ctx, task.ReindexRequest())
	if err != nil {
		return err
	}

	// Failed batches are reported, not retried; the next incremental run
	// picks the rows up again
	if result.Status != domain.SyncStatusCompleted {
		logger.Warn("reindex finished with failures",
			"status", result.Status,
			"indexed", result.Indexed,
			"failed", result.Failed,
			"failed_batches", result.FailedBatches(),
		)
	}
	return nil
}

// Health returns health status of the worker.
type Health struct {
	Running     bool `json:"running"`
	Connections int  `json:"connections"`
}

// Health returns the health status of the worker.
func (w *Worker) Health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()

	health := Health{Running: w.running}
	for _, c := range w.consumers {
		health.Connections += c.Stats().Connections
	}
	return health
}

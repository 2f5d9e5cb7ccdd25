package driven

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// Topics consumed by the worker
const (
	TopicChunks  = "knowledge.chunks"
	TopicReindex = "knowledge.reindex"
)

// TaskPublisher hands tasks to workers over the message bus (NSQ).
type TaskPublisher interface {
	// Publish sends a task to a topic
	Publish(ctx context.Context, topic string, task *domain.Task) error

	// Ping checks if the bus is reachable
	Ping(ctx context.Context) error

	// Close stops the publisher
	Close() error
}

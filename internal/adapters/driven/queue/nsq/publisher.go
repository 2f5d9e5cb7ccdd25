package nsq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TaskPublisher = (*Publisher)(nil)

// Publisher implements TaskPublisher with an NSQ producer.
// Tasks are JSON encoded; consumers ack or requeue them.
type Publisher struct {
	producer *nsq.Producer
	logger   *slog.Logger
}

// NewPublisher creates a publisher for the nsqd at addr
func NewPublisher(addr string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	return &Publisher{producer: producer, logger: logger}, nil
}

// Publish sends a task to a topic
func (p *Publisher) Publish(ctx context.Context, topic string, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := p.producer.Publish(topic, body); err != nil {
		return fmt.Errorf("%w: publish to %s: %w", domain.ErrServiceUnavailable, topic, err)
	}

	p.logger.DebugContext(ctx, "task published", "topic", topic, "task_id", task.ID, "task_type", task.Type)
	return nil
}

// Ping checks if nsqd is reachable
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.producer.Ping(); err != nil {
		return fmt.Errorf("%w: nsqd: %w", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// Close stops the producer
func (p *Publisher) Close() error {
	p.producer.Stop()
	return nil
}

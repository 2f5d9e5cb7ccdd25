package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

var _ driven.TaskPublisher = (*MockTaskPublisher)(nil)

// PublishedTask records one Publish call
type PublishedTask struct {
	Topic string
	Task  *domain.Task
}

// MockTaskPublisher records published tasks in memory
type MockTaskPublisher struct {
	mu        sync.Mutex
	published []PublishedTask

	PublishErr error
}

// NewMockTaskPublisher creates a new MockTaskPublisher
func NewMockTaskPublisher() *MockTaskPublisher {
	return &MockTaskPublisher{}
}

func (m *MockTaskPublisher) Publish(ctx context.Context, topic string, task *domain.Task) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedTask{Topic: topic, Task: task})
	return nil
}

func (m *MockTaskPublisher) Ping(ctx context.Context) error {
	return nil
}

func (m *MockTaskPublisher) Close() error {
	return nil
}

func (m *MockTaskPublisher) Published() []PublishedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedTask(nil), m.published...)
}

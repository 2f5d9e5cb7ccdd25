package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConversationStore = (*ConversationStore)(nil)

const (
	conversationPrefix     = "conversation:"
	conversationMetaSuffix = ":meta"

	// DefaultConversationTTL is how long an idle thread is kept
	DefaultConversationTTL = 30 * 24 * time.Hour
)

// ConversationStore implements driven.ConversationStore with one Redis list
// of JSON messages per thread plus a meta hash. Every append refreshes the TTL.
type ConversationStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewConversationStore creates a Redis-backed ConversationStore
func NewConversationStore(client redis.UniversalClient, ttl time.Duration) *ConversationStore {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &ConversationStore{client: client, ttl: ttl}
}

// Append adds messages to a thread, creating it if needed
func (s *ConversationStore) Append(ctx context.Context, threadID, projectID string, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := conversationPrefix + threadID
	metaKey := key + conversationMetaSuffix

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.HSetNX(ctx, metaKey, "project_id", projectID)
	pipe.HSet(ctx, metaKey, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, s.ttl)
	pipe.Expire(ctx, metaKey, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.ClassifyStoreError("conversation", "append", err)
	}
	return nil
}

// Get returns the thread, or domain.ErrNotFound
func (s *ConversationStore) Get(ctx context.Context, threadID string) (*domain.Conversation, error) {
	key := conversationPrefix + threadID

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, domain.ClassifyStoreError("conversation", "get", err)
	}
	if len(raw) == 0 {
		return nil, domain.ErrNotFound
	}

	meta, err := s.client.HGetAll(ctx, key+conversationMetaSuffix).Result()
	if err != nil {
		return nil, domain.ClassifyStoreError("conversation", "get", err)
	}

	conv := &domain.Conversation{
		ThreadID:  threadID,
		ProjectID: meta["project_id"],
		Messages:  make([]domain.Message, 0, len(raw)),
	}
	if at, err := time.Parse(time.RFC3339Nano, meta["updated_at"]); err == nil {
		conv.UpdatedAt = at
	}
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, nil
}

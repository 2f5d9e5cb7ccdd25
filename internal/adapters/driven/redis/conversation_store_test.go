package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

func TestConversationStore_AppendAndGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewConversationStore(client, time.Hour)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	err := store.Append(ctx, "t1", "P1", []domain.Message{
		{Role: domain.RoleUser, Content: "What is REQ-1?", CreatedAt: at},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	err = store.Append(ctx, "t1", "P2", []domain.Message{
		{Role: domain.RoleAssistant, Content: "A braking requirement.", CreatedAt: at.Add(time.Second)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	conv, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != domain.RoleUser || conv.Messages[1].Content != "A braking requirement." {
		t.Errorf("unexpected message order: %+v", conv.Messages)
	}
	if !conv.Messages[0].CreatedAt.Equal(at) {
		t.Errorf("expected timestamp to round trip, got %v", conv.Messages[0].CreatedAt)
	}
	// The first append owns the project binding
	if conv.ProjectID != "P1" {
		t.Errorf("expected project P1, got %q", conv.ProjectID)
	}
	if conv.UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}

	if ttl := mr.TTL("conversation:t1"); ttl != time.Hour {
		t.Errorf("expected ttl of 1h, got %v", ttl)
	}
}

func TestConversationStore_GetMissing(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewConversationStore(client, 0)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationStore_Expiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewConversationStore(client, time.Minute)
	ctx := context.Background()

	_ = store.Append(ctx, "t1", "", []domain.Message{{Role: domain.RoleUser, Content: "hi"}})
	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected thread to expire, got %v", err)
	}
}

func TestConversationStore_BackendDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewConversationStore(client, 0)
	mr.Close()

	err := store.Append(context.Background(), "t1", "", []domain.Message{{Role: domain.RoleUser, Content: "hi"}})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected store unavailable, got %v", err)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConversationStore = (*ConversationStore)(nil)

// ConversationStore implements driven.ConversationStore using PostgreSQL.
// Used when Redis is not configured.
type ConversationStore struct {
	db *DB
}

// NewConversationStore creates a new ConversationStore
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Append adds messages to a thread, creating it if needed
func (s *ConversationStore) Append(ctx context.Context, threadID, projectID string, messages []domain.Message) error {
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (thread_id, project_id)
			VALUES ($1, $2)
			ON CONFLICT (thread_id) DO UPDATE SET updated_at = NOW()`,
			threadID, projectID)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO conversation_messages (thread_id, role, content, created_at)
			VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range messages {
			if _, err := stmt.ExecContext(ctx, threadID, string(m.Role), m.Content, m.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ClassifyStoreError("conversation", "append", err)
	}
	return nil
}

// Get returns the thread with messages in insertion order
func (s *ConversationStore) Get(ctx context.Context, threadID string) (*domain.Conversation, error) {
	conv := &domain.Conversation{ThreadID: threadID}
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, updated_at FROM conversations WHERE thread_id = $1`, threadID).
		Scan(&conv.ProjectID, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ClassifyStoreError("conversation", "get", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM conversation_messages
		WHERE thread_id = $1
		ORDER BY id`, threadID)
	if err != nil {
		return nil, domain.ClassifyStoreError("conversation", "get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m    domain.Message
			role string
			at   time.Time
		)
		if err := rows.Scan(&role, &m.Content, &at); err != nil {
			return nil, domain.ClassifyStoreError("conversation", "get", err)
		}
		m.Role = domain.MessageRole(role)
		m.CreatedAt = at
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ClassifyStoreError("conversation", "get", err)
	}
	return conv, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.KnowledgeStore = (*KnowledgeStore)(nil)

const storeName = "relational"

// chunkColumns are selected by every chunk listing, joined with the owning asset
const chunkColumns = `
	c.id, c.asset_id, c.content, a.knowledge_type, COALESCE(a.project_id, ''),
	a.source_id, a.title, a.file_id, a.collection_id, a.collection_name, a.domain,
	c.sequence_number, c.token_count, c.updated_at`

// KnowledgeStore implements driven.KnowledgeStore using PostgreSQL
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore creates a new KnowledgeStore
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// FetchContentByIDs returns authoritative content for ids in one query
func (s *KnowledgeStore) FetchContentByIDs(ctx context.Context, ids []string) (map[string]domain.ChunkContent, error) {
	out := make(map[string]domain.ChunkContent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT id, asset_id, content FROM knowledge_chunks WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "fetch_content", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.ChunkContent
		if err := rows.Scan(&c.ChunkID, &c.AssetID, &c.Content); err != nil {
			return nil, domain.ClassifyStoreError(storeName, "fetch_content", err)
		}
		out[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ClassifyStoreError(storeName, "fetch_content", err)
	}
	return out, nil
}

// GetChunks returns full chunk rows for ids, ordered by id
func (s *KnowledgeStore) GetChunks(ctx context.Context, ids []string) ([]*domain.ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + chunkColumns + `
		FROM knowledge_chunks c
		JOIN knowledge_assets a ON a.id = c.asset_id
		WHERE c.id = ANY($1)
		ORDER BY c.id`

	chunks, err := s.queryChunks(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "get_chunks", err)
	}
	return chunks, nil
}

// ListChunks returns one keyset page ordered by chunk id
func (s *KnowledgeStore) ListChunks(ctx context.Context, page domain.ChunkPage) ([]*domain.ChunkRecord, error) {
	conditions := []string{"c.id > $1"}
	args := []any{page.AfterID}

	if page.ProjectID != "" {
		args = append(args, page.ProjectID)
		conditions = append(conditions, fmt.Sprintf("a.project_id = $%d", len(args)))
	}
	if page.Since != nil {
		args = append(args, *page.Since)
		conditions = append(conditions, fmt.Sprintf("GREATEST(c.updated_at, a.updated_at) >= $%d", len(args)))
	}
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + chunkColumns + `
		FROM knowledge_chunks c
		JOIN knowledge_assets a ON a.id = c.asset_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY c.id
		LIMIT $` + fmt.Sprint(len(args))

	chunks, err := s.queryChunks(ctx, query, args...)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "list_chunks", err)
	}
	return chunks, nil
}

func (s *KnowledgeStore) queryChunks(ctx context.Context, query string, args ...any) ([]*domain.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.ChunkRecord
	for rows.Next() {
		var (
			c        domain.ChunkRecord
			kt       string
			seq, tok sql.NullInt64
		)
		err := rows.Scan(
			&c.ChunkID,
			&c.AssetID,
			&c.Content,
			&kt,
			&c.ProjectID,
			&c.SourceID,
			&c.Title,
			&c.FileID,
			&c.CollectionID,
			&c.CollectionName,
			&c.Domain,
			&seq,
			&tok,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		c.KnowledgeType = domain.KnowledgeType(kt)
		c.SequenceNumber = IntPtr(seq)
		c.TokenCount = IntPtr(tok)
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// CountChunks returns the number of chunks, optionally for one project
func (s *KnowledgeStore) CountChunks(ctx context.Context, projectID string) (int64, error) {
	var (
		count int64
		err   error
	)
	if projectID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM knowledge_chunks c
			JOIN knowledge_assets a ON a.id = c.asset_id
			WHERE a.project_id = $1`, projectID).Scan(&count)
	}
	if err != nil {
		return 0, domain.ClassifyStoreError(storeName, "count_chunks", err)
	}
	return count, nil
}

// HasProjectAccess reports whether the user is a member of the project
func (s *KnowledgeStore) HasProjectAccess(ctx context.Context, userID, projectID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID).Scan(&ok)
	if err != nil {
		return false, domain.ClassifyStoreError(storeName, "has_project_access", err)
	}
	return ok, nil
}

// ListUserProjects returns the ids of projects the user is a member of
func (s *KnowledgeStore) ListUserProjects(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id FROM project_members WHERE user_id = $1 ORDER BY project_id`, userID)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "list_user_projects", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ClassifyStoreError(storeName, "list_user_projects", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ClassifyStoreError(storeName, "list_user_projects", err)
	}
	return ids, nil
}

// GetProject retrieves a project by ID
func (s *KnowledgeStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "get_project", err)
	}
	return &p, nil
}

// ListRecentTopics returns recently updated asset titles, newest first
func (s *KnowledgeStore) ListRecentTopics(ctx context.Context, projectID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title
		FROM knowledge_assets
		WHERE project_id = $1 AND title <> ''
		ORDER BY updated_at DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, domain.ClassifyStoreError(storeName, "list_recent_topics", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, domain.ClassifyStoreError(storeName, "list_recent_topics", err)
		}
		topics = append(topics, title)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ClassifyStoreError(storeName, "list_recent_topics", err)
	}
	return topics, nil
}

// Ping checks the database connection
func (s *KnowledgeStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return domain.ClassifyStoreError(storeName, "ping", err)
	}
	return nil
}

// SaveProject upserts a project and its members
func (s *KnowledgeStore) SaveProject(ctx context.Context, p domain.Project, members ...string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				updated_at = NOW()`,
			p.ID, p.Name, p.Description)
		if err != nil {
			return err
		}
		for _, userID := range members {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO project_members (project_id, user_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, p.ID, userID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveChunks upserts chunks and their owning assets in one transaction
func (s *KnowledgeStore) SaveChunks(ctx context.Context, chunks []*domain.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, c := range chunks {
			var projectID sql.NullString
			if c.ProjectID != "" {
				projectID = sql.NullString{String: c.ProjectID, Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO knowledge_assets (id, title, knowledge_type, project_id, source_id, file_id, collection_id, collection_name, domain)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (id) DO UPDATE SET
					title = EXCLUDED.title,
					knowledge_type = EXCLUDED.knowledge_type,
					project_id = EXCLUDED.project_id,
					updated_at = NOW()`,
				c.AssetID, c.Title, string(c.KnowledgeType), projectID, c.SourceID,
				c.FileID, c.CollectionID, c.CollectionName, c.Domain)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO knowledge_chunks (id, asset_id, content, sequence_number, token_count)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET
					asset_id = EXCLUDED.asset_id,
					content = EXCLUDED.content,
					sequence_number = EXCLUDED.sequence_number,
					token_count = EXCLUDED.token_count,
					updated_at = NOW()`,
				c.ChunkID, c.AssetID, c.Content, NullInt(c.SequenceNumber), NullInt(c.TokenCount))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

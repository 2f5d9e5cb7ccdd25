package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &DB{DB: db}, mock
}

var chunkRowColumns = []string{
	"id", "asset_id", "content", "knowledge_type", "project_id", "source_id", "title",
	"file_id", "collection_id", "collection_name", "domain", "sequence_number", "token_count", "updated_at",
}

func TestKnowledgeStore_FetchContentByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`SELECT id, asset_id, content FROM knowledge_chunks WHERE id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "asset_id", "content"}).
			AddRow("c1", "A", "first").
			AddRow("c2", "B", "second"))

	got, err := store.FetchContentByIDs(context.Background(), []string{"c1", "c2", "gone"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "A", got["c1"].AssetID)
	assert.Equal(t, "second", got["c2"].Content)
	_, ok := got["gone"]
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_FetchContentByIDs_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	got, err := store.FetchContentByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_FetchContentByIDs_Error(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`FROM knowledge_chunks`).WillReturnError(errors.New("connection refused"))

	_, err := store.FetchContentByIDs(context.Background(), []string{"c1"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "relational", se.Store)
	assert.Equal(t, "fetch_content", se.Op)
}

func TestKnowledgeStore_ListChunks(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	updated := since.Add(time.Hour)

	mock.ExpectQuery(`WHERE c.id > \$1 AND a.project_id = \$2 AND GREATEST\(c.updated_at, a.updated_at\) >= \$3\s+ORDER BY c.id\s+LIMIT \$4`).
		WithArgs("c0", "P1", since, 2).
		WillReturnRows(sqlmock.NewRows(chunkRowColumns).
			AddRow("c1", "A", "text", "project", "P1", "S", "Spec", "", "", "", "rail", 3, nil, updated).
			AddRow("c2", "A", "more", "project", "P1", "S", "Spec", "", "", "", "rail", nil, 120, updated))

	got, err := store.ListChunks(context.Background(), domain.ChunkPage{
		ProjectID: "P1",
		Since:     &since,
		AfterID:   "c0",
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.KnowledgeTypeProject, got[0].KnowledgeType)
	require.NotNil(t, got[0].SequenceNumber)
	assert.Equal(t, 3, *got[0].SequenceNumber)
	assert.Nil(t, got[0].TokenCount)
	assert.Nil(t, got[1].SequenceNumber)
	assert.Equal(t, 120, *got[1].TokenCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Moving or retyping an asset only touches the asset row; its chunks must
// still be picked up by an incremental page.
func TestKnowledgeStore_ListChunks_SinceIncludesAssetChanges(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	chunkUpdated := since.Add(-48 * time.Hour)

	mock.ExpectQuery(`WHERE c.id > \$1 AND GREATEST\(c.updated_at, a.updated_at\) >= \$2\s+ORDER BY c.id\s+LIMIT \$3`).
		WithArgs("", since, 100).
		WillReturnRows(sqlmock.NewRows(chunkRowColumns).
			AddRow("c1", "A", "text", "project", "P2", "S", "Spec", "", "", "", "rail", nil, nil, chunkUpdated))

	got, err := store.ListChunks(context.Background(), domain.ChunkPage{Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P2", got[0].ProjectID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_ListChunks_AllProjects(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`WHERE c.id > \$1\s+ORDER BY c.id\s+LIMIT \$2`).
		WithArgs("", 100).
		WillReturnRows(sqlmock.NewRows(chunkRowColumns))

	got, err := store.ListChunks(context.Background(), domain.ChunkPage{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_CountChunks(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM knowledge_chunks$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(150))
	mock.ExpectQuery(`WHERE a.project_id = \$1`).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))

	n, err := store.CountChunks(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(150), n)

	n, err = store.CountChunks(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_HasProjectAccess(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("P1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasProjectAccess(context.Background(), "alice", "P1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_ListUserProjects(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`SELECT project_id FROM project_members`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow("P1").AddRow("P2"))

	ids, err := store.ListUserProjects(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, ids)
}

func TestKnowledgeStore_GetProject(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`FROM projects WHERE id = \$1`).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).AddRow("P1", "Orion", "lander"))
	mock.ExpectQuery(`FROM projects WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}))

	p, err := store.GetProject(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "Orion", p.Name)

	_, err = store.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKnowledgeStore_ListRecentTopics(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectQuery(`SELECT title\s+FROM knowledge_assets`).
		WithArgs("P1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("Hazard log").AddRow("Braking spec"))

	topics, err := store.ListRecentTopics(context.Background(), "P1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hazard log", "Braking spec"}, topics)
}

func TestKnowledgeStore_SaveChunks(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)
	seq := 1

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO knowledge_assets`).
		WithArgs("A", "Spec", "training", nil, "", "", "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO knowledge_chunks`).
		WithArgs("c1", "A", "text", 1, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SaveChunks(context.Background(), []*domain.ChunkRecord{{
		ChunkID:        "c1",
		AssetID:        "A",
		Content:        "text",
		KnowledgeType:  domain.KnowledgeTypeTraining,
		Title:          "Spec",
		SequenceNumber: &seq,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeStore_SaveChunksRollback(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKnowledgeStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO knowledge_assets`).WillReturnError(errors.New("check violation"))
	mock.ExpectRollback()

	err := store.SaveChunks(context.Background(), []*domain.ChunkRecord{{ChunkID: "c1", AssetID: "A", KnowledgeType: "bogus"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

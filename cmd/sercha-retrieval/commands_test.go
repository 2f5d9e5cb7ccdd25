package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-retrieval/internal/config"
	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

type stubRetrieval struct {
	text  string
	scope domain.QueryScope
}

func (s *stubRetrieval) Query(_ context.Context, text string, scope domain.QueryScope) domain.Context {
	s.text = text
	s.scope = scope
	return domain.NewContext(text, []domain.Chunk{{ChunkID: "c1", Content: "braking", RelevanceScore: 0.9}}, 1, nil)
}

func (s *stubRetrieval) GetSuggestions(context.Context, domain.QueryScope) ([]string, error) {
	return nil, nil
}

func (s *stubRetrieval) StoreConversation(context.Context, string, []domain.Message, string) error {
	return nil
}

type stubSync struct {
	req    domain.ReindexRequest
	status domain.SyncStatus
}

func (s *stubSync) Reindex(_ context.Context, req domain.ReindexRequest) (*domain.ReindexResult, error) {
	s.req = req
	return &domain.ReindexResult{Scope: req.Scope(), Since: req.Since, Status: s.status, Indexed: 3}, nil
}

func (s *stubSync) ReindexSince(ctx context.Context, since time.Time, projectID string) (*domain.ReindexResult, error) {
	return s.Reindex(ctx, domain.ReindexRequest{ProjectID: projectID, Since: &since})
}

func (s *stubSync) DriftStatus(_ context.Context, projectID string) (*domain.DriftRecord, error) {
	r := domain.NewDriftRecord(projectID, 10, 8)
	return &r, nil
}

func (s *stubSync) IndexChunks(context.Context, []string) (*domain.BulkResult, error) {
	return &domain.BulkResult{}, nil
}

func (s *stubSync) RemoveChunks(context.Context, []string) error { return nil }
func (s *stubSync) EnsureIndexes(context.Context) error          { return nil }

// setupCmdTest replaces config loading and wiring with stubs
func setupCmdTest(t *testing.T) (*stubRetrieval, *stubSync) {
	t.Helper()
	ret := &stubRetrieval{}
	sync := &stubSync{status: domain.SyncStatusCompleted}

	oldLoad, oldBuild := loadConfig, buildApp
	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogFormat: "text", LogLevel: "error"}, nil
	}
	buildApp = func(context.Context, *config.Config, *slog.Logger) (*app, error) {
		return &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Retrieval: ret, Sync: sync}, nil
	}
	t.Cleanup(func() {
		loadConfig, buildApp = oldLoad, oldBuild
		resetFlags(rootCmd)
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	return ret, sync
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	setupCmdTest(t)
	loadConfig = func() (*config.Config, error) {
		t.Fatal("version must not load configuration")
		return nil, nil
	}

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sercha-retrieval "+version)
}

func TestQueryCmd(t *testing.T) {
	ret, _ := setupCmdTest(t)

	out, err := execute(t, "query", "-p", "P1", "-u", "alice", "-n", "5", "--threshold", "0.2", "braking", "distance")
	require.NoError(t, err)

	assert.Equal(t, "braking distance", ret.text)
	assert.Equal(t, domain.QueryScope{ProjectID: "P1", UserID: "alice", MaxChunks: 5, SimilarityThreshold: 0.2}, ret.scope)

	var got domain.Context
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, "c1", got.Chunks[0].ChunkID)
}

func TestQueryCmd_RequiresText(t *testing.T) {
	setupCmdTest(t)
	_, err := execute(t, "query")
	assert.Error(t, err)
}

func TestReindexCmd_Full(t *testing.T) {
	_, sync := setupCmdTest(t)

	out, err := execute(t, "reindex", "--project", "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", sync.req.ProjectID)
	assert.Nil(t, sync.req.Since)
	assert.Contains(t, out, `"status": "completed"`)
}

func TestReindexCmd_Incremental(t *testing.T) {
	_, sync := setupCmdTest(t)

	_, err := execute(t, "reindex", "--incremental")
	require.NoError(t, err)
	require.NotNil(t, sync.req.Since)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), *sync.req.Since, time.Minute)
}

func TestReindexCmd_Since(t *testing.T) {
	_, sync := setupCmdTest(t)

	_, err := execute(t, "reindex", "--since", "2026-01-02T03:04:05Z")
	require.NoError(t, err)
	require.NotNil(t, sync.req.Since)
	assert.True(t, sync.req.Since.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestReindexCmd_InvalidSince(t *testing.T) {
	setupCmdTest(t)
	_, err := execute(t, "reindex", "--since", "yesterday")
	assert.ErrorContains(t, err, "invalid --since")
}

func TestReindexCmd_PartialIsAnError(t *testing.T) {
	_, sync := setupCmdTest(t)
	sync.status = domain.SyncStatusPartial

	out, err := execute(t, "reindex")
	assert.ErrorContains(t, err, "partial")
	assert.Contains(t, out, `"status": "partial"`)
}

func TestDriftCmd(t *testing.T) {
	setupCmdTest(t)

	out, err := execute(t, "drift", "--project", "P1")
	require.NoError(t, err)

	var got domain.DriftRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "P1", got.ProjectID)
	assert.Equal(t, int64(2), got.Drift)
}

func TestConfigErrorStopsCommand(t *testing.T) {
	setupCmdTest(t)
	loadConfig = func() (*config.Config, error) {
		return nil, config.ErrMissingRequired
	}

	_, err := execute(t, "drift")
	assert.True(t, errors.Is(err, config.ErrMissingRequired))
}

func TestServeCmd_RequiresJWTSecret(t *testing.T) {
	setupCmdTest(t)
	_, err := execute(t, "serve")
	assert.ErrorContains(t, err, "JWT_SECRET")
}

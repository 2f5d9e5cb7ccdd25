package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// ErrSyncUnavailable is returned by drift_status when no sync service is wired.
var ErrSyncUnavailable = errors.New("mcp: drift status is not available")

// QueryInput is the input schema for the query_knowledge tool.
type QueryInput struct {
	Query     string `json:"query" jsonschema:"the question or identifier to retrieve knowledge for"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"restrict project knowledge to this project"`
	MaxChunks int    `json:"max_chunks,omitempty" jsonschema:"maximum number of chunks to return (default 10)"`
}

// QueryOutput is the output schema for the query_knowledge tool.
type QueryOutput struct {
	Chunks []ChunkOutput `json:"chunks"`
	Count  int           `json:"count"`
	// Error is set when retrieval degraded to an empty result
	Error string `json:"error,omitempty"`
}

// ChunkOutput represents a single retrieved chunk.
type ChunkOutput struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Type    string  `json:"knowledge_type"`
}

// DriftInput is the input schema for the drift_status tool.
type DriftInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"limit the comparison to one project"`
}

// DriftOutput is the output schema for the drift_status tool.
type DriftOutput struct {
	ProjectID       string  `json:"project_id,omitempty"`
	RelationalCount int64   `json:"relational_count"`
	IndexCount      int64   `json:"index_count"`
	Drift           int64   `json:"drift"`
	DriftPercentage float64 `json:"drift_percentage"`
	InSync          bool    `json:"in_sync"`
	Timestamp       string  `json:"timestamp"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query_knowledge",
		Description: "Retrieve the most relevant project, training and system knowledge for a question",
	}, s.handleQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "drift_status",
		Description: "Compare chunk counts between the relational store and the keyword index",
	}, s.handleDrift)
}

// handleQuery handles the query_knowledge tool invocation.
func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	scope := domain.QueryScope{
		ProjectID: input.ProjectID,
		UserID:    s.ports.UserID,
		MaxChunks: input.MaxChunks,
	}
	result := s.ports.Retrieval.Query(ctx, input.Query, scope)

	output := QueryOutput{
		Chunks: make([]ChunkOutput, len(result.Chunks)),
		Count:  len(result.Chunks),
	}
	output.Error = result.Err()
	for i, c := range result.Chunks {
		output.Chunks[i] = ChunkOutput{
			ChunkID: c.ChunkID,
			Title:   c.Source.Title,
			Content: c.Content,
			Score:   c.RelevanceScore,
			Type:    string(c.Source.SourceType),
		}
	}

	return nil, output, nil
}

// handleDrift handles the drift_status tool invocation.
func (s *Server) handleDrift(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DriftInput,
) (*mcp.CallToolResult, DriftOutput, error) {
	if s.ports.Sync == nil {
		return nil, DriftOutput{}, ErrSyncUnavailable
	}
	record, err := s.ports.Sync.DriftStatus(ctx, input.ProjectID)
	if err != nil {
		return nil, DriftOutput{}, err
	}
	return nil, DriftOutput{
		ProjectID:       record.ProjectID,
		RelationalCount: record.RelationalCount,
		IndexCount:      record.IndexCount,
		Drift:           record.Drift,
		DriftPercentage: record.DriftPercentage,
		InSync:          record.InSync,
		Timestamp:       record.Timestamp.Format(time.RFC3339),
	}, nil
}

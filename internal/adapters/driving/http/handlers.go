package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings every configured store. 503 when any is unreachable.
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      503  {object}  map[string]any
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.pingers))
	status := http.StatusOK
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Retrieval endpoints

type queryRequest struct {
	Query               string   `json:"query"`
	ProjectID           string   `json:"project_id,omitempty"`
	MaxChunks           int      `json:"max_chunks,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// handleQuery godoc
// @Summary      Retrieve context
// @Description  Returns the chunks relevant to a query. Retrieval failures degrade to an empty context with an error key in query_metadata.
// @Tags         Retrieval
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      queryRequest  true  "Query"
// @Success      200      {object}  domain.Context
// @Failure      400      {object}  ErrorResponse  "Invalid request or missing query"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Router       /query [post]
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	scope := s.scope(r, req.ProjectID)
	scope.MaxChunks = req.MaxChunks
	if req.SimilarityThreshold != nil {
		if *req.SimilarityThreshold < 0 || *req.SimilarityThreshold > 1 {
			writeError(w, http.StatusBadRequest, "similarity_threshold must be within [0,1]")
			return
		}
		scope.SimilarityThreshold = *req.SimilarityThreshold
	}

	writeJSON(w, http.StatusOK, s.retrievalService.Query(r.Context(), req.Query, scope))
}

// handleSuggestions godoc
// @Summary      Starter questions
// @Tags         Retrieval
// @Produce      json
// @Security     BearerAuth
// @Param        project_id  query     string  false  "Project scope"
// @Success      200         {object}  map[string][]string
// @Router       /suggestions [get]
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	scope := s.scope(r, r.URL.Query().Get("project_id"))

	suggestions, err := s.retrievalService.GetSuggestions(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load suggestions")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

type conversationRequest struct {
	ProjectID string           `json:"project_id,omitempty"`
	Messages  []domain.Message `json:"messages"`
}

// handleStoreConversation godoc
// @Summary      Append conversation messages
// @Tags         Retrieval
// @Accept       json
// @Security     BearerAuth
// @Param        thread   path  string               true  "Thread ID"
// @Param        request  body  conversationRequest  true  "Messages"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Router       /conversations/{thread} [post]
func (s *Server) handleStoreConversation(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")

	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	projectID := s.scope(r, req.ProjectID).ProjectID
	if err := s.retrievalService.StoreConversation(r.Context(), threadID, req.Messages, projectID); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrServiceUnavailable):
			writeError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store conversation")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync endpoints

// handleDrift godoc
// @Summary      Index drift
// @Description  Compares relational and keyword index counts. Never repairs.
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        project_id  query     string  false  "Project scope"
// @Success      200         {object}  domain.DriftRecord
// @Failure      503         {object}  ErrorResponse
// @Router       /sync/drift [get]
func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	record, err := s.syncService.DriftStatus(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		s.logger.ErrorContext(r.Context(), "drift check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "drift check failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type reindexRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	// Since limits the run to rows modified after it (RFC 3339)
	Since *time.Time `json:"since,omitempty"`
	// Incremental without Since means the default 24h window
	Incremental bool `json:"incremental,omitempty"`
}

// handleReindex godoc
// @Summary      Trigger reindex
// @Description  Queues a reindex for the worker, or runs it inline when no message bus is configured.
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      reindexRequest  false  "Scope"
// @Success      200      {object}  domain.ReindexResult
// @Success      202      {object}  map[string]string
// @Failure      409      {object}  ErrorResponse  "Reindex already running"
// @Router       /sync/reindex [post]
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	reindex := domain.ReindexRequest{ProjectID: req.ProjectID, Since: req.Since}
	if req.Incremental && reindex.Since == nil {
		since := time.Now().Add(-domain.DefaultIncrementalWindow)
		reindex.Since = &since
	}

	if s.publisher != nil {
		task := domain.NewReindexTask(reindex)
		if err := s.publisher.Publish(r.Context(), driven.TopicReindex, task); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to queue reindex", "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue reindex")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID, "status": "queued"})
		return
	}

	result, err := s.syncService.Reindex(r.Context(), reindex)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			writeError(w, http.StatusConflict, "reindex already running for this scope")
			return
		}
		s.logger.ErrorContext(r.Context(), "reindex failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reindex failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// scope builds the query scope. The user always comes from the verified token;
// the project falls back to the token's default project.
func (s *Server) scope(r *http.Request, projectID string) domain.QueryScope {
	var scope domain.QueryScope
	if authCtx := GetAuthContext(r.Context()); authCtx != nil {
		scope.UserID = authCtx.UserID
		if projectID == "" {
			projectID = authCtx.ProjectID
		}
	}
	scope.ProjectID = projectID
	return scope
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

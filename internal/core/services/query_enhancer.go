package services

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// ProjectLookup resolves scope-derived context for query enhancement
type ProjectLookup interface {
	GetProject(ctx context.Context, id string) (*domain.Project, error)
}

// EnhancedQuery is the query text and threshold actually used for retrieval
type EnhancedQuery struct {
	Text      string
	Threshold float64
	Vague     bool
	Lowered   bool // Threshold was dropped to the vague-query floor
}

// QueryEnhancer biases vague queries toward recall. Matching is a tunable
// heuristic on the query opening, not a hard rule.
type QueryEnhancer struct {
	vague       *regexp.Regexp
	floor       float64
	appendScope bool
	projects    ProjectLookup
	logger      *slog.Logger
}

// NewQueryEnhancer creates an enhancer from the retrieval config.
// projects may be nil, which disables scope context.
func NewQueryEnhancer(cfg domain.RetrievalConfig, projects ProjectLookup, logger *slog.Logger) *QueryEnhancer {
	if logger == nil {
		logger = slog.Default()
	}
	prefixes := cfg.VaguePrefixes
	if len(prefixes) == 0 {
		prefixes = domain.DefaultVaguePrefixes
	}
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(p))), " ", `\s+`)
	}
	return &QueryEnhancer{
		vague:       regexp.MustCompile(`(?i)^\s*(?:` + strings.Join(quoted, "|") + `)\b`),
		floor:       cfg.VagueQueryFloor,
		appendScope: cfg.AppendScopeContext,
		projects:    projects,
		logger:      logger,
	}
}

// IsVague reports whether the query opens with a vague-intent phrase
func (e *QueryEnhancer) IsVague(query string) bool {
	return e.vague.MatchString(query)
}

// Enhance returns the effective query for scope. Project lookups are best
// effort; a failure leaves the text unchanged.
func (e *QueryEnhancer) Enhance(ctx context.Context, query string, scope domain.QueryScope) EnhancedQuery {
	out := EnhancedQuery{Text: query, Threshold: scope.SimilarityThreshold}
	if !e.IsVague(query) {
		return out
	}
	out.Vague = true
	if e.floor < out.Threshold {
		out.Threshold = e.floor
		out.Lowered = true
	}

	if !e.appendScope || !scope.IsScoped() || e.projects == nil {
		return out
	}
	project, err := e.projects.GetProject(ctx, scope.ProjectID)
	if err != nil {
		e.logger.Debug("scope context unavailable", "project_id", scope.ProjectID, "error", err)
		return out
	}
	extra := strings.TrimSpace(project.Name + " " + project.Description)
	if extra != "" {
		out.Text = query + " " + extra
	}
	return out
}

package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// MembershipChecker answers project membership questions
type MembershipChecker interface {
	HasProjectAccess(ctx context.Context, userID, projectID string) (bool, error)
}

// ProjectLister lists every project a user belongs to in one call
type ProjectLister interface {
	ListUserProjects(ctx context.Context, userID string) ([]string, error)
}

// AccessPolicy applies scope partitioning and access checks to candidates
type AccessPolicy struct {
	members  MembershipChecker
	unscoped domain.UnscopedPolicy
}

// NewAccessPolicy creates an access policy
func NewAccessPolicy(members MembershipChecker, unscoped domain.UnscopedPolicy) *AccessPolicy {
	if unscoped == "" {
		unscoped = domain.UnscopedNone
	}
	return &AccessPolicy{members: members, unscoped: unscoped}
}

// InScope partitions by knowledge type:
//   - training is always kept
//   - project is kept when it matches the caller's project; unscoped queries
//     follow the unscoped policy
//   - system is kept when unscoped, unpinned, or pinned to the caller's project
func (p *AccessPolicy) InScope(c domain.Candidate, scope domain.QueryScope) bool {
	switch c.KnowledgeType {
	case domain.KnowledgeTypeTraining:
		return true
	case domain.KnowledgeTypeProject:
		if scope.IsScoped() {
			return c.ProjectID == scope.ProjectID
		}
		return p.unscoped == domain.UnscopedMember
	case domain.KnowledgeTypeSystem:
		return !scope.IsScoped() || c.ProjectID == "" || c.ProjectID == scope.ProjectID
	default:
		// Untyped index entries are treated as project data without an owner
		return false
	}
}

// Partition keeps the in-scope candidates, preserving order
func (p *AccessPolicy) Partition(cands []domain.Candidate, scope domain.QueryScope) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if p.InScope(c, scope) {
			out = append(out, c)
		}
	}
	return out
}

// AccessCache memoises membership answers for a single query. A complete
// cache holds every project the caller belongs to, so misses are denials.
type AccessCache struct {
	projects map[string]bool
	complete bool
}

func (c *AccessCache) lookup(projectID string) (ok, known bool) {
	if ok, known = c.projects[projectID]; known {
		return ok, true
	}
	return false, c.complete
}

func (c *AccessCache) set(projectID string, ok bool) {
	if c.projects == nil {
		c.projects = make(map[string]bool)
	}
	c.projects[projectID] = ok
}

// HasAccess checks one candidate. Training always passes, project requires
// membership, system passes unless pinned to a project other than the scope.
func (p *AccessPolicy) HasAccess(ctx context.Context, c domain.Candidate, scope domain.QueryScope, cache *AccessCache) (bool, error) {
	switch c.KnowledgeType {
	case domain.KnowledgeTypeTraining:
		return true, nil
	case domain.KnowledgeTypeSystem:
		return !scope.IsScoped() || c.ProjectID == "" || c.ProjectID == scope.ProjectID, nil
	case domain.KnowledgeTypeProject:
		if scope.UserID == "" || c.ProjectID == "" || p.members == nil {
			return false, nil
		}
		if ok, known := cache.lookup(c.ProjectID); known {
			return ok, nil
		}
		ok, err := p.members.HasProjectAccess(ctx, scope.UserID, c.ProjectID)
		if err != nil {
			return false, fmt.Errorf("check project access: %w", err)
		}
		cache.set(c.ProjectID, ok)
		return ok, nil
	default:
		return false, nil
	}
}

// Filter keeps candidates the caller may see and returns the number denied
func (p *AccessPolicy) Filter(ctx context.Context, cands []domain.Candidate, scope domain.QueryScope) ([]domain.Candidate, int, error) {
	cache := &AccessCache{}
	if err := p.preload(ctx, cands, scope, cache); err != nil {
		return nil, 0, err
	}
	out := make([]domain.Candidate, 0, len(cands))
	denied := 0
	for _, c := range cands {
		ok, err := p.HasAccess(ctx, c, scope, cache)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			denied++
			continue
		}
		out = append(out, c)
	}
	return out, denied, nil
}

// preload fetches the caller's full membership list when an unscoped member
// query spans more than one project, replacing per-project lookups.
func (p *AccessPolicy) preload(ctx context.Context, cands []domain.Candidate, scope domain.QueryScope, cache *AccessCache) error {
	if scope.IsScoped() || p.unscoped != domain.UnscopedMember || scope.UserID == "" {
		return nil
	}
	lister, ok := p.members.(ProjectLister)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	for _, c := range cands {
		if c.KnowledgeType == domain.KnowledgeTypeProject && c.ProjectID != "" {
			seen[c.ProjectID] = struct{}{}
		}
	}
	if len(seen) < 2 {
		return nil
	}

	projects, err := lister.ListUserProjects(ctx, scope.UserID)
	if err != nil {
		return fmt.Errorf("list user projects: %w", err)
	}
	for _, id := range projects {
		cache.set(id, true)
	}
	cache.complete = true
	return nil
}

package domain

import "testing"

func TestCandidateFromHitPrefersOriginalID(t *testing.T) {
	hit := SearchHit{
		ID:    "native-abc",
		Score: 3.2,
		Payload: map[string]any{
			PayloadChunkID:        "chunk-stale",
			PayloadOriginalID:     "chunk-1",
			PayloadAssetID:        "asset-1",
			PayloadKnowledgeType:  "project",
			PayloadProjectID:      "p1",
			PayloadTitle:          "Requirements",
			PayloadSequenceNumber: float64(4),
			"page":                7,
		},
	}

	c := CandidateFromHit(hit, SearchTypeKeyword)

	if c.CanonicalID() != "chunk-1" {
		t.Errorf("expected canonical id chunk-1, got %s", c.CanonicalID())
	}
	if c.StoreID != "native-abc" {
		t.Errorf("expected store id native-abc, got %s", c.StoreID)
	}
	if c.KnowledgeType != KnowledgeTypeProject || c.Source.SourceType != KnowledgeTypeProject {
		t.Errorf("expected project knowledge type, got %s", c.KnowledgeType)
	}
	if c.SequenceNumber == nil || *c.SequenceNumber != 4 {
		t.Errorf("expected sequence number 4, got %v", c.SequenceNumber)
	}
	if c.TokenCount != nil {
		t.Errorf("expected nil token count, got %v", *c.TokenCount)
	}
	if c.Source.Metadata["page"] != "7" {
		t.Errorf("expected unknown payload keys in metadata, got %v", c.Source.Metadata)
	}
	if c.SearchType != SearchTypeKeyword {
		t.Errorf("expected keyword search type, got %s", c.SearchType)
	}
}

func TestCandidateFromHitFallsBackToStoreID(t *testing.T) {
	c := CandidateFromHit(SearchHit{ID: "local-1", Score: 0.5}, SearchTypeVector)

	if c.CanonicalID() != "local-1" {
		t.Errorf("expected canonical id local-1, got %s", c.CanonicalID())
	}
	if c.Source.Metadata != nil {
		t.Errorf("expected nil metadata, got %v", c.Source.Metadata)
	}
}

func TestCandidateFromHitUsesChunkID(t *testing.T) {
	c := CandidateFromHit(SearchHit{
		ID:      "uuid-1",
		Payload: map[string]any{PayloadChunkID: "chunk-9"},
	}, SearchTypeVector)

	if c.CanonicalID() != "chunk-9" {
		t.Errorf("expected canonical id chunk-9, got %s", c.CanonicalID())
	}
}

func TestQueryScopeIsScoped(t *testing.T) {
	if (QueryScope{}).IsScoped() {
		t.Error("expected empty scope to be unscoped")
	}
	if !(QueryScope{ProjectID: "p1"}).IsScoped() {
		t.Error("expected project scope to be scoped")
	}
}

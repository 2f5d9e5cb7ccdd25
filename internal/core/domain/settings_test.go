package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultRetrievalConfig(t *testing.T) {
	cfg := DefaultRetrievalConfig()

	if cfg.DefaultThreshold != 0.3 {
		t.Errorf("expected default threshold 0.3, got %v", cfg.DefaultThreshold)
	}
	if cfg.VagueQueryFloor != 0.1 {
		t.Errorf("expected vague floor 0.1, got %v", cfg.VagueQueryFloor)
	}
	if cfg.AssetCap != 3 {
		t.Errorf("expected asset cap 3, got %d", cfg.AssetCap)
	}
	if cfg.RRFK != 60 {
		t.Errorf("expected rrf k 60, got %d", cfg.RRFK)
	}
	if cfg.OverfetchMultiplier != 2 {
		t.Errorf("expected overfetch 2, got %d", cfg.OverfetchMultiplier)
	}
	if cfg.UnscopedPolicy != UnscopedNone {
		t.Errorf("expected unscoped policy none, got %s", cfg.UnscopedPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestRetrievalConfigWithDefaults(t *testing.T) {
	cfg := RetrievalConfig{HybridEnabled: false, AssetCap: 5}.WithDefaults()

	if cfg.HybridEnabled {
		t.Error("expected boolean toggle to be left as given")
	}
	if cfg.AssetCap != 5 {
		t.Errorf("expected asset cap 5, got %d", cfg.AssetCap)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("expected store timeout 5s, got %v", cfg.StoreTimeout)
	}
	if cfg.Reranker != RerankerRRF {
		t.Errorf("expected reranker rrf, got %s", cfg.Reranker)
	}
}

func TestRetrievalConfigAssetCapAlwaysOn(t *testing.T) {
	for _, in := range []int{0, -1} {
		cfg := RetrievalConfig{AssetCap: in}.WithDefaults()
		if cfg.AssetCap != 3 {
			t.Errorf("asset cap %d: expected fallback to 3, got %d", in, cfg.AssetCap)
		}
	}
}

func TestRetrievalConfigValidate(t *testing.T) {
	cfg := DefaultRetrievalConfig()
	cfg.Reranker = "bogus"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	cfg = DefaultRetrievalConfig()
	cfg.VagueQueryFloor = 1.5
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAIProvider(t *testing.T) {
	if AIProviderOllama.RequiresAPIKey() {
		t.Error("expected ollama not to require an api key")
	}
	if !AIProviderGemini.IsValid() {
		t.Error("expected gemini to be valid")
	}
	if AIProvider("anthropic").IsValid() {
		t.Error("expected anthropic to be invalid for embeddings")
	}

	s := &EmbeddingSettings{Provider: AIProviderOpenAI}
	if s.IsConfigured() {
		t.Error("expected openai without key to be unconfigured")
	}
}

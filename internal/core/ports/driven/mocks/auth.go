package mocks

import (
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

var _ driven.AuthAdapter = (*MockAuthAdapter)(nil)

// MockAuthAdapter hands out opaque tokens backed by an in-memory claims
// table. Expiry is left to the caller, as with the JWT adapter's claims.
type MockAuthAdapter struct {
	mu     sync.Mutex
	tokens map[string]domain.TokenClaims
	seq    int

	// ParseErr, when set, is returned for every token
	ParseErr error
}

func NewMockAuthAdapter() *MockAuthAdapter {
	return &MockAuthAdapter{tokens: make(map[string]domain.TokenClaims)}
}

func (m *MockAuthAdapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims == nil {
		return "", domain.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	token := fmt.Sprintf("mock-token-%d", m.seq)
	m.tokens[token] = *claims
	return token, nil
}

func (m *MockAuthAdapter) ParseToken(token string) (*domain.TokenClaims, error) {
	if m.ParseErr != nil {
		return nil, m.ParseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	claims, ok := m.tokens[token]
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return &claims, nil
}

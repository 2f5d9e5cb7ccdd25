package driven

import "github.com/custodia-labs/sercha-retrieval/internal/core/domain"

// AuthAdapter handles token cryptographic operations.
// Tokens are issued by the identity service; GenerateToken exists for
// operator tooling and tests.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}

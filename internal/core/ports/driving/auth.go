package driving

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// AuthService verifies caller tokens issued by the identity service
type AuthService interface {
	// ValidateToken validates a token and returns the caller's auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)
}

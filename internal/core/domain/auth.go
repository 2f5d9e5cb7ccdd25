package domain

// AuthContext contains the authenticated caller for request context
type AuthContext struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	ProjectID string `json:"project_id,omitempty"` // Default project scope carried by the token
}

// TokenClaims represents the JWT token payload issued by the identity service
type TokenClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ProjectID string `json:"project_id,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// ToAuthContext converts verified claims into a request auth context
func (c *TokenClaims) ToAuthContext() *AuthContext {
	return &AuthContext{
		UserID:    c.UserID,
		Email:     c.Email,
		ProjectID: c.ProjectID,
	}
}

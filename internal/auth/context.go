package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AuthContextKey is the key for storing AuthContext in request and gin contexts
	AuthContextKey ContextKey = "authContext"
)

// AuthContext is the identity of the caller, injected by RequireAuth.
type AuthContext struct {
	UserID  int64
	TokenID string
}

// WithAuthContext returns a copy of ctx carrying authCtx.
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, authCtx)
}

// GetAuthContext extracts the AuthContext from a request context.
// Returns nil if the request was not authenticated.
func GetAuthContext(ctx context.Context) *AuthContext {
	authCtx, ok := ctx.Value(AuthContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// CurrentUserID returns the authenticated user of a gin request.
func CurrentUserID(c *gin.Context) (int64, bool) {
	authCtx := GetAuthContext(c.Request.Context())
	if authCtx == nil {
		return 0, false
	}
	return authCtx.UserID, true
}

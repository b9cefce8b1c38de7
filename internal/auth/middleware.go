package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireAuth validates the bearer token and injects the AuthContext into the request context.
// Requests without a valid token are answered with 401.
func RequireAuth(authService *AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "no authorization token provided")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(c, "invalid authorization header format")
			return
		}

		authCtx, err := authService.ValidateToken(token)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rejected bearer token",
				"error", err,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Request = c.Request.WithContext(WithAuthContext(c.Request.Context(), authCtx))
		c.Set(string(AuthContextKey), authCtx)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHORIZED",
		"message": message,
	})
}

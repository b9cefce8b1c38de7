package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMonday/inv-sub000/internal/config"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	s, err := NewAuthService(config.AuthConfig{JWTSecret: "test-secret", Issuer: "inv-test"})
	require.NoError(t, err)
	return s
}

func TestNewAuthService_RequiresSecret(t *testing.T) {
	_, err := NewAuthService(config.AuthConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestAuthService_RoundTrip(t *testing.T) {
	s := newTestService(t)

	token, err := s.IssueToken(42)
	require.NoError(t, err)

	authCtx, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), authCtx.UserID)
	assert.NotEmpty(t, authCtx.TokenID)
}

func TestAuthService_ValidateToken_Rejects(t *testing.T) {
	s := newTestService(t)

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		str, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return str
	}
	valid := jwt.RegisteredClaims{
		Subject:   "7",
		Issuer:    "inv-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	badSubject := valid
	badSubject.Subject = "alice"

	tests := []struct {
		name  string
		token string
	}{
		{"Garbage", "not-a-token"},
		{"Wrong Secret", sign(jwt.SigningMethodHS256, []byte("other-secret"), valid)},
		{"Wrong Algorithm", sign(jwt.SigningMethodHS512, []byte("test-secret"), valid)},
		{"Expired", sign(jwt.SigningMethodHS256, []byte("test-secret"), expired)},
		{"Wrong Issuer", sign(jwt.SigningMethodHS256, []byte("test-secret"), wrongIssuer)},
		{"Non Numeric Subject", sign(jwt.SigningMethodHS256, []byte("test-secret"), badSubject)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)

	router := gin.New()
	router.GET("/me", RequireAuth(s), func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"userId": userID})
	})

	token, err := s.IssueToken(9)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"Valid Token", "Bearer " + token, http.StatusOK},
		{"Lowercase Scheme", "bearer " + token, http.StatusOK},
		{"Missing Header", "", http.StatusUnauthorized},
		{"Wrong Scheme", "Basic " + token, http.StatusUnauthorized},
		{"Invalid Token", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"userId":9}`, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"UNAUTHORIZED"`)
			}
		})
	}
}

func TestGetAuthContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetAuthContext(req.Context()))
}

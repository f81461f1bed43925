package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func signToken(t *testing.T, key string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	claims := JWTClaims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	valid := signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{name: "BearerHeader", target: "/", header: "Bearer " + valid, status: http.StatusOK, body: "alice"},
		{name: "QueryToken", target: "/?token=" + valid, status: http.StatusOK, body: "alice"},
		{name: "Missing", target: "/", status: http.StatusUnauthorized},
		{name: "BadScheme", target: "/", header: "Basic " + valid, status: http.StatusUnauthorized},
		{name: "WrongKey", target: "/", header: "Bearer " + signToken(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour)), status: http.StatusUnauthorized},
		{name: "Expired", target: "/", header: "Bearer " + signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), status: http.StatusUnauthorized},
	}

	r := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

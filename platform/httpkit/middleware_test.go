package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salesops_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jwtConfig string

func (c jwtConfig) GetJWTAccessSecret() string { return string(c) }

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func adminEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	admin := engine.Group("/admin", AuthRequired(jwtConfig(testSecret)), RequireRole("admin"))
	admin.GET("/ping", func(c *gin.Context) {
		id, _ := GetIdentity(c)
		c.String(http.StatusOK, id.UserID.String())
	})
	return engine
}

func TestAuthRequiredAndRole(t *testing.T) {
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", jwt.MapClaims{"sub": userID.String(), "type": "access", "roles": []string{"admin"}, "exp": exp}), want: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": userID.String(), "type": "refresh", "roles": []string{"admin"}, "exp": exp}), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": userID.String(), "type": "access", "roles": []string{"admin"}, "exp": time.Now().Add(-time.Hour).Unix()}), want: http.StatusUnauthorized},
		{name: "not admin", header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": userID.String(), "type": "access", "roles": []string{"sales"}, "exp": exp}), want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": userID.String(), "type": "access", "roles": []string{"admin"}, "exp": exp}), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			adminEngine().ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want == http.StatusOK {
				assert.Equal(t, userID.String(), rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(NewIPRateLimiter(1, 2, logger.Discard()).RateLimit())
	engine.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabledAtZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(NewIPRateLimiter(0, 0, nil).RateLimit())
	engine.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 5 {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

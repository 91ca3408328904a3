package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/emilythestrangee/forum/backend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	id, ok := c.Get(UserIDKey)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"user_id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id})
}

func serve(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Hour)
	r := gin.New()
	r.GET("/", AuthMiddleware(issuer), whoami)

	token, err := issuer.GenerateToken(42, "alice")
	require.NoError(t, err)

	w := serve(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42}`, w.Body.String())

	w = serve(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := auth.NewIssuer("other", time.Hour).GenerateToken(42, "alice")
	require.NoError(t, err)
	w = serve(r, other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Hour)
	r := gin.New()
	r.GET("/", OptionalAuth(issuer), whoami)

	token, err := issuer.GenerateToken(7, "bob")
	require.NoError(t, err)

	w := serve(r, token)
	assert.JSONEq(t, `{"user_id":7}`, w.Body.String())

	w = serve(r, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":null}`, w.Body.String())

	w = serve(r, "garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":null}`, w.Body.String())
}

func TestRequestIDAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, "")
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("Request handled").All()
	require.Len(t, entries, 2)
	fields := entries[1].ContextMap()
	assert.Equal(t, "abc-123", fields["request_id"])
	assert.EqualValues(t, http.StatusNoContent, fields["status"])
	assert.Equal(t, "/", fields["path"])
}

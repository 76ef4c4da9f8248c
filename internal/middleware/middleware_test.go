package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/models"
)

type stubVerifier struct {
	userID uuid.UUID
	role   models.Role
	err    error
}

func (s stubVerifier) Verify(string) (uuid.UUID, models.Role, error) {
	return s.userID, s.role, s.err
}

func newRouter(v Verifier, roles ...models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()), Logger(zap.NewNop()), JWT(v))
	r.GET("/me", RequireRole(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, c.MustGet(ContextUserID).(uuid.UUID).String())
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	id := uuid.New()
	r := newRouter(stubVerifier{userID: id, role: models.RoleUser}, models.RoleUser)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Token abc").Code)

	w := do(r, "/me", "Bearer abc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())
}

func TestJWTMiddlewareRejectsInvalidToken(t *testing.T) {
	r := newRouter(stubVerifier{err: errors.New("expired")}, models.RoleUser)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Bearer abc").Code)
}

func TestRequireRole(t *testing.T) {
	r := newRouter(stubVerifier{userID: uuid.New(), role: models.RoleUser}, models.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, do(r, "/me", "Bearer abc").Code)
}

func TestRecovery(t *testing.T) {
	r := newRouter(stubVerifier{userID: uuid.New(), role: models.RoleUser})
	w := do(r, "/panic", "Bearer abc")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("bearer xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://a.test"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://a.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://a.test", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

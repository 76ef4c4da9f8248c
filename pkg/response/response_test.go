package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevote/backend/internal/apperr"
)

func TestError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"conflict", apperr.NewConflict("already voted"), http.StatusConflict, "conflict", "already voted"},
		{"not found", apperr.NewNotFound("session not found"), http.StatusNotFound, "not_found", "session not found"},
		{"validation", apperr.NewValidation("no active session"), http.StatusBadRequest, "validation", "no active session"},
		{"internal", errors.New("dial tcp: refused"), http.StatusInternalServerError, "internal", "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			Error(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tc.code, body.Code)
			assert.Equal(t, tc.msg, body.Error)
		})
	}
}

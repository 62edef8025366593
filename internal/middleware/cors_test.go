package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newCORSEngine(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins, []string{"authorization", "apikey", "content-type"}))
	r.POST("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestCORSAllowList(t *testing.T) {
	r := newCORSEngine([]string{"https://yatri.example"})

	tests := []struct {
		origin     string
		wantOrigin string
	}{
		{"https://yatri.example", "https://yatri.example"},
		{"https://evil.example", ""},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set("Origin", tc.origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"), tc.origin)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	r := newCORSEngine([]string{"*"})

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "authorization, apikey, content-type", w.Header().Get("Access-Control-Allow-Headers"))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveview/internal/logger"
)

func TestLoggingMiddleware(t *testing.T) {
	dir := t.TempDir()
	l, err := logger.New(dir, logger.LevelInfo, nil, nil)
	require.NoError(t, err)
	defer l.Close()

	handler := LoggingMiddleware(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/api/status", "/missing", "/logs/info"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	data, err := os.ReadFile(filepath.Join(dir, logger.InfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "GET /api/status 200")
	assert.Contains(t, string(data), "GET /missing 404")
	assert.NotContains(t, string(data), "/logs/info")
}

func TestStatusRecorder_Hijack(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}

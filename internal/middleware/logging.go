package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"liveview/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// LoggingMiddleware logs every request with its status and duration. Log file views are
// logged at debug level so polling them does not flood the info log.
func LoggingMiddleware(logger *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if strings.HasPrefix(r.URL.Path, "/logs/") && r.Method == http.MethodGet {
			logger.Debug("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
			return
		}
		logger.Info("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

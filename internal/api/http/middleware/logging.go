package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dtroode/faceid-server/internal/logger"
)

// Logging logs HTTP requests and results.
type Logging struct {
	logger *logger.Logger
}

// NewLogging creates a new Logging middleware.
func NewLogging(logger *logger.Logger) *Logging {
	return &Logging{logger: logger}
}

// Handle logs method, path, duration and status for each request.
func (l *Logging) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		l.logger.Info("HTTP request started",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"start_time", start.Format(time.RFC3339))

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		l.logger.Info("HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"bytes", ww.BytesWritten())

		if status >= http.StatusInternalServerError {
			l.logger.Error("HTTP request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID,
				"status", status)
		}
	})
}

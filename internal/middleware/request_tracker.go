package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/admitly/backend/internal/store"
)

// RequestTracker stores request audit rows in the database.
type RequestTracker struct {
	store *store.Store
}

// NewRequestTracker creates a new request tracker middleware
func NewRequestTracker(db *sql.DB) (*RequestTracker, error) {
	s, err := store.New(db)
	if err != nil {
		return nil, err
	}
	return &RequestTracker{store: s}, nil
}

// Middleware returns an HTTP middleware that records method, endpoint, status
// and timing for every request. Writes happen off the request path so a slow
// audit insert never delays a webhook response.
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: 200}

			next.ServeHTTP(rw, r)

			responseTimeMs := int(time.Since(start).Milliseconds())

			requestSizeBytes := int(r.ContentLength)
			if requestSizeBytes < 0 {
				requestSizeBytes = 0
			}
			responseSizeBytes := rw.size

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = rt.store.CreateRequest(
					ctx,
					r.Method,
					r.URL.Path,
					rw.statusCode,
					&responseTimeMs,
					&requestSizeBytes,
					&responseSizeBytes,
					nil,
				)
			}()
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

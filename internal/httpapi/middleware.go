package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/defi_engine/pkg/logger"
)

// LimitMiddleware rejects requests with 503 when no permit can be acquired.
func LimitMiddleware(l *Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Acquire(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			defer l.Release()
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs each request at debug level.
func LoggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			log.WithField("method", r.Method).
				WithField("path", path).
				WithField("status", wrapped.statusCode).
				WithField("duration", time.Since(start)).
				Debug("http request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

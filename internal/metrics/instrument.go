package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument counts and logs every request to the endpoint. Scrapes are
// frequent, so successful ones log at debug.
func (r *Registry) instrument(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		r.addInFlight(1)
		defer r.addInFlight(-1)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		elapsed := time.Since(start)

		r.RecordRequest(req.URL.Path, rec.status, elapsed.Seconds())

		level := zap.DebugLevel
		if rec.status >= http.StatusBadRequest {
			level = zap.WarnLevel
		}
		logger.Log(level, "metrics endpoint request",
			zap.String("request_id", id),
			zap.String("path", req.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
			zap.String("client_ip", clientIP(req)),
		)
	})
}

func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return req.RemoteAddr
}

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/23blocks-OS/ai-maestro/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets SSE responses flush through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath replaces path parameters with placeholders so metric
// cardinality stays bounded.
func normalizePath(path string) string {
	segs := strings.Split(path, "/")
	for i := 0; i < len(segs)-1; i++ {
		switch segs[i] {
		case "agents", "relay", "resolve", "hosts":
			if segs[i+1] != "" && segs[i+1] != "reload" {
				segs[i+1] = ":id"
			}
		case "messages":
			if segs[i+1] != "" {
				segs[i+1] = ":messageID"
			}
		}
	}
	return strings.Join(segs, "/")
}

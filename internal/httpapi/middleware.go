package httpapi

import (
	"log"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// RequestLogger logs one line per request with method, path, status, and
// duration. httpsnoop preserves Flusher and Hijacker on the wrapped writer,
// which the poke stream handlers rely on.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Printf("%s %s status=%d duration=%s", r.Method, r.URL.Path, m.Code, m.Duration)
	})
}

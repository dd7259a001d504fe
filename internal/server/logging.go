// logging.go - Request context plumbing and per-request logging.
//
// The outermost middleware creates the RequestContext (id, identity,
// start timestamp) and emits one structured line per request once the
// response has been written. Log emission is fire-and-forget; it never
// gates the response.
package server

import (
	"context"
	"net/http"
	"time"
)

type ctxKey string

const requestCtxKey ctxKey = "request_context"

// withRequestContext stores the per-request state in the context.
func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, rc)
}

// contextFrom returns the RequestContext, or nil when the request did
// not pass through requestContextMiddleware.
func contextFrom(r *http.Request) *RequestContext {
	v := r.Context().Value(requestCtxKey)
	if v == nil {
		return nil
	}
	rc, ok := v.(*RequestContext)
	if !ok {
		return nil
	}
	return rc
}

// requestContextMiddleware seeds the RequestContext and echoes the
// request id so clients and proxies can correlate.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := newRequestContext(r)
		w.Header().Set("X-Request-Id", rc.ID)
		next.ServeHTTP(w, r.WithContext(withRequestContext(r.Context(), rc)))
	})
}

// loggingMiddleware logs one line per request with id, method, path,
// status, latency and client identity, and feeds the request counters.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := contextFrom(r)

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		fields := map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": lrw.status,
			"bytes":  lrw.size,
			"ua":     r.UserAgent(),
		}
		if rc != nil {
			fields["request_id"] = rc.ID
			fields["ip"] = rc.Identity
			fields["ms"] = time.Since(rc.Start).Milliseconds()
		}
		Log().Info("request", fields)

		GetMetrics().RecordRequest(lrw.status)
	})
}

// loggingResponseWriter captures status and size for the request line.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

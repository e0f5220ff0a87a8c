package middleware

import (
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/cash-advance/pkg/logger"
)

const TraceHeader = "X-Trace-ID"

// Trace reuses the caller's X-Trace-ID or chi's request id, attaches it to the
// context logger and echoes it on the response.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = middleware.GetReqID(r.Context())
		}

		ctx := logger.With(r.Context(), "trace_id", traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

type middleware func(http.Handler) http.Handler

// chain wraps h so the first middleware is outermost.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func applyMiddleware(handler http.Handler, logger *common.Logger) http.Handler {
	return chain(handler,
		withRecovery(logger),
		withCORS,
		withTrace,
		withAccessLog(logger),
	)
}

// requestTrace collects what a request did so the access log can report it.
// Sync handlers attach their batch outcome; safety handlers their symbol count.
type requestTrace struct {
	correlationID string
	runID         string
	dataType      models.DataType
	symbols       int
	updated       int
	failed        int
}

type traceKey struct{}

// traceFrom returns the request's trace. Requests that did not pass through
// withTrace get a detached one.
func traceFrom(r *http.Request) *requestTrace {
	if t, ok := r.Context().Value(traceKey{}).(*requestTrace); ok {
		return t
	}
	return &requestTrace{}
}

func (t *requestTrace) recordBatch(result *models.BatchResult) {
	t.runID = result.RunID
	t.dataType = result.DataType
	t.symbols = result.Total
	t.updated = result.Updated
	t.failed = result.Failed
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// withRecovery turns a handler panic into a 500 JSON error.
func withRecovery(logger *common.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Str("correlation_id", traceFrom(r).correlationID).
						Msg("Handler panicked")
					WriteErrorWithCode(w, http.StatusInternalServerError, "Internal server error", "internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// withCORS lets dashboards on other origins read the API and trigger syncs.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Correlation-ID")
		h.Set("Access-Control-Expose-Headers", "X-Correlation-ID, X-Run-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withTrace attaches a requestTrace carrying the caller's X-Request-ID or
// X-Correlation-ID, or a generated short id, and echoes it back.
func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = r.Header.Get("X-Correlation-ID")
		}
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Correlation-ID", id)

		trace := &requestTrace{correlationID: id}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, trace)))
	})
}

// withAccessLog logs each request once it completes. Requests that ran a
// sync batch log at Info with the batch outcome; other successful requests
// log at Debug.
func withAccessLog(logger *common.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			trace := traceFrom(r)
			event := logger.Debug()
			switch {
			case rec.status >= 500:
				event = logger.Error()
			case rec.status >= 400, trace.runID != "":
				event = logger.Info()
			}

			event = event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Str("elapsed", time.Since(start).String()).
				Str("correlation_id", trace.correlationID)
			if trace.symbols > 0 {
				event = event.Int("symbols", trace.symbols)
			}
			if trace.runID != "" {
				event = event.
					Str("run_id", trace.runID).
					Str("data_type", string(trace.dataType)).
					Int("updated", trace.updated).
					Int("failed", trace.failed)
			}
			event.Msg("HTTP request")
		})
	}
}

package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"loyaltypay/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMetrics counts requests by chi route pattern so path parameters do not
// explode label cardinality.
func withMetrics(next http.Handler) http.Handler {
	metrics := observability.Gateway()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		metrics.Observe(route, r.Method, recorder.status, time.Since(start))
	})
}

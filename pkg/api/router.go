package api

import (
	"github.com/gorilla/mux"

	"github.com/dm-alt/USM-scripts/pkg/ratelimit"
	"github.com/dm-alt/USM-scripts/pkg/tracing"
)

// NewRouter builds the daemon router with tracing and per-IP rate limiting.
// limiter and tracer may be nil.
func NewRouter(h *Handler, limiter *ratelimit.Limiter, tracer *tracing.Provider) *mux.Router {
	r := mux.NewRouter()
	if tracer != nil {
		r.Use(mux.MiddlewareFunc(tracing.HTTPMiddleware(tracer)))
	}
	if limiter != nil {
		r.Use(mux.MiddlewareFunc(limiter.Middleware(ratelimit.IPKeyFunc)))
	}
	h.RegisterRoutes(r)
	return r
}

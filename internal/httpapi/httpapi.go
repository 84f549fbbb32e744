// Package httpapi implements the HTTP surface of spec §6: the /api/print
// route table, a fixed-window rate limiter, per-route hard timeouts, and
// the operator-visibility websocket event stream.
//
// Grounded on server/handlers/deps.go's options-injection handler struct
// and server/handlers/health.go's RegisterRoutes-onto-*http.ServeMux
// pattern, adapted from the teacher's auth/tenancy cross-cutting concerns
// to this server's job/printer domain.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/riveruniversity/mp-print/internal/events"
	"github.com/riveruniversity/mp-print/internal/logger"
	"github.com/riveruniversity/mp-print/internal/metrics"
	"github.com/riveruniversity/mp-print/internal/queue"
	"github.com/riveruniversity/mp-print/internal/registry"
	"github.com/riveruniversity/mp-print/internal/submit"
)

// Config tunes the HTTP layer's cross-cutting behavior.
type Config struct {
	RateLimitWindow    time.Duration // 15 min default
	RateLimitMax       int           // 1000 default
	RouteTimeout       time.Duration // 10s default, spec allows 5-15s
	AllowedOrigins     []string
}

func (c Config) withDefaults() Config {
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 15 * time.Minute
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 1000
	}
	if c.RouteTimeout <= 0 {
		c.RouteTimeout = 10 * time.Second
	}
	return c
}

// API holds every collaborator the HTTP handlers drive. All fields are
// supplied capabilities, constructed and owned by the composition root.
type API struct {
	cfg      Config
	submit   *submit.Adapter
	queue    *queue.Queue
	registry *registry.Registry
	metrics  *metrics.Aggregator
	hub      *events.Hub
	log      *logger.Logger
	limiter  *rateLimiter
	start    time.Time
}

// New creates an API bound to its collaborators.
func New(cfg Config, sub *submit.Adapter, q *queue.Queue, reg *registry.Registry, agg *metrics.Aggregator, hub *events.Hub, log *logger.Logger) *API {
	cfg = cfg.withDefaults()
	return &API{
		cfg:      cfg,
		submit:   sub,
		queue:    q,
		registry: reg,
		metrics:  agg,
		hub:      hub,
		log:      log,
		limiter:  newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		start:    time.Now(),
	}
}

// RegisterRoutes wires every §6 route, plus the additive event stream,
// onto mux. Every §6 route is wrapped with CORS, the rate limiter, and the
// route hard timeout, in that order (outermost to innermost); the event
// stream is registered without these wrappers.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	wrap := func(h http.HandlerFunc) http.Handler {
		return a.withCORS(a.withRateLimit(a.withTimeout(h)))
	}

	mux.Handle("/api/print/submit", wrap(a.handleSubmit))
	mux.Handle("/api/print/status/", wrap(a.handleStatus))
	mux.Handle("/api/print/metrics", wrap(a.handleMetrics))
	mux.Handle("/api/print/printers", wrap(a.handlePrinters))
	mux.Handle("/api/print/zebra/reset-media/", wrap(a.handleZebraReset))
	mux.Handle("/api/print/health", wrap(a.handleHealth))
	mux.HandleFunc("/api/print/ws/events", a.handleEventStream)
}

func (a *API) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && a.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) originAllowed(origin string) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range a.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (a *API) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withTimeout enforces the route's hard deadline (spec §6: "every route
// has a hard timeout (5-15s); exceeding it returns 504"). The handler
// keeps running in its own goroutine past the deadline; callers must
// still honor r.Context() cancellation to actually stop work early.
func (a *API) withTimeout(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.RouteTimeout)
		defer cancel()
		r = r.WithContext(ctx)

		done := make(chan struct{})
		rec := &statusRecorder{ResponseWriter: w}
		go func() {
			defer close(done)
			next(rec, r)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if !rec.wroteHeader {
				writeError(w, http.StatusGatewayTimeout, "request exceeded route timeout")
			}
		}
	})
}

// statusRecorder tracks whether the wrapped handler already wrote a
// header, so a timeout firing after the handler finished doesn't double-
// write a response.
type statusRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

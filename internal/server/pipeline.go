// pipeline.go - Ordered request pipeline with a single error funnel.
//
// Stages run in a fixed order over one RequestContext: security headers,
// CORS, readiness gate, rate limit, dispatch. A stage either passes the
// request on, finishes it, or fails it; every failure, including panics
// and unmatched routes, exits through handle. The order is a correctness
// property: rate limiting happens only after the store is ready and
// always before route work.
package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HandlerFunc is the route handler contract. Handlers either write a
// success response or return an error convertible by toError; they never
// write error statuses themselves, which keeps the funnel the only exit.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// RequestContext is the per-request state threaded through the stages.
type RequestContext struct {
	ID       string
	Identity string
	Start    time.Time

	err       *Error // first error wins
	discarded int
}

// fail records an error in the context. The slot is write-once: the
// first error is kept, later ones are counted, logged and dropped.
func (rc *RequestContext) fail(e *Error) {
	if rc.err == nil {
		rc.err = e
		return
	}
	rc.discarded++
	Log().Warn("request error discarded, slot already set", map[string]interface{}{
		"request_id": rc.ID,
		"kind":       string(e.Kind),
		"discarded":  rc.discarded,
	})
}

// A stage passes the request forward (done=false, err=nil), completes it
// (done=true), or terminates it with an error for the funnel.
type stage struct {
	name string
	run  func(p *Pipeline, w http.ResponseWriter, r *http.Request, rc *RequestContext) (done bool, err *Error)
}

// Pipeline is the fixed stage list plus route table. It holds a
// non-owning reference to the rate limiter: the limiter appears only
// once the bootstrapper has initialized it against a ready store.
type Pipeline struct {
	mux     *http.ServeMux
	origins []string

	// Supplied by the bootstrapper; both must be cheap and safe to call
	// from concurrent request goroutines.
	serving func() bool
	limiter func() *rateLimiter

	stages []stage
}

// NewPipeline builds the pipeline with its fixed stage order.
func NewPipeline(origins []string, serving func() bool, limiter func() *rateLimiter) *Pipeline {
	p := &Pipeline{
		mux:     http.NewServeMux(),
		origins: origins,
		serving: serving,
		limiter: limiter,
	}
	p.stages = []stage{
		{name: "security_headers", run: (*Pipeline).stageSecurityHeaders},
		{name: "cors", run: (*Pipeline).stageCORS},
		{name: "readiness_gate", run: (*Pipeline).stageReadinessGate},
		{name: "rate_limit", run: (*Pipeline).stageRateLimit},
		{name: "dispatch", run: (*Pipeline).stageDispatch},
	}
	return p
}

// Handle registers a route. Method checks belong to the handler.
func (p *Pipeline) Handle(pattern string, fn HandlerFunc) {
	p.mux.Handle(pattern, wrapHandler(fn))
}

func wrapHandler(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := contextFrom(r)
		if err := fn(w, r); err != nil {
			rc.fail(toError(err))
		}
	})
}

// ServeHTTP runs the stages in order. Panics anywhere below are
// recovered here and funneled like any other error.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := contextFrom(r)
	if rc == nil {
		rc = newRequestContext(r)
		r = r.WithContext(withRequestContext(r.Context(), rc))
	}

	defer func() {
		if rec := recover(); rec != nil {
			rc.fail(toError(rec).With("panic", "true"))
			handle(rc.err, rc, w)
		}
	}()

	for _, st := range p.stages {
		done, err := st.run(p, w, r, rc)
		if err != nil {
			if rc.err != err {
				rc.fail(err)
			}
			handle(rc.err, rc, w)
			return
		}
		if done {
			return
		}
	}
}

func (p *Pipeline) stageSecurityHeaders(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, *Error) {
	setSecurityHeaders(w.Header())
	return false, nil
}

func (p *Pipeline) stageCORS(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, *Error) {
	done := applyCORS(w, r, p.origins)
	return done, nil
}

// stageReadinessGate holds back store-dependent work until the
// bootstrapper reaches Serving. Requests arriving earlier never see the
// rate-limit stage.
func (p *Pipeline) stageReadinessGate(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, *Error) {
	if !p.serving() {
		return false, Errf(KindUpstream, "service is starting").With("path", r.URL.Path)
	}
	return false, nil
}

func (p *Pipeline) stageRateLimit(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, *Error) {
	rl := p.limiter()
	if rl == nil {
		// The gate admitted the request, so a missing limiter is a
		// wiring bug rather than a startup race.
		return false, Errf(KindInternal, "rate limiter not initialized")
	}
	if err := rl.check(r.Context(), rc.Identity); err != nil {
		return false, err
	}
	return false, nil
}

// stageDispatch routes the request. An unmatched path becomes NotFound
// here so 404s share the one error exit with everything else.
func (p *Pipeline) stageDispatch(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, *Error) {
	h, pattern := p.mux.Handler(r)
	if pattern == "" {
		return false, Errf(KindNotFound, "no route for %s", r.URL.Path)
	}
	h.ServeHTTP(w, r)
	if rc.err != nil {
		return false, rc.err
	}
	return true, nil
}

// newRequestContext seeds the per-request state. The request id honors a
// client-supplied X-Request-Id, otherwise a fresh UUID.
func newRequestContext(r *http.Request) *RequestContext {
	rid := r.Header.Get("X-Request-Id")
	if rid == "" {
		rid = uuid.NewString()
	}
	return &RequestContext{
		ID:       rid,
		Identity: clientIdentity(r),
		Start:    time.Now(),
	}
}

// Package router chooses a completion backend per request, builds the
// prompt, applies a bounded timeout with one degraded retry, and caches
// rendered answers. Failures surface as user-facing text, never as errors:
// the router is the boundary past which nothing throws.
package router

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"coursemate/internal/backend"
	"coursemate/internal/cache"
	"coursemate/internal/metrics"
)

const (
	answerCacheCapacity = 500
	groundedTimeout     = 30 * time.Second
	degradedTimeout     = 10 * time.Second

	// errorPrefix marks user-facing failure text. Responses carrying it
	// are never cached.
	errorPrefix = "error: "
)

// Request carries everything needed to answer one question.
type Request struct {
	Query   string
	Context string // retrieved material; empty means general-knowledge answering
	Backend backend.Name
	Sources []string
	History []Turn
}

// Router dispatches requests to the configured backends.
type Router struct {
	local  backend.Backend
	hosted backend.Backend // may be nil when no hosted API is configured
	ledger *metrics.Ledger
	logger *slog.Logger

	answers *cache.Cache[string]
	flight  singleflight.Group

	// hostedQuotaExceeded only ever transitions false to true; the hosted
	// backend stays disabled until the process restarts.
	hostedQuotaExceeded atomic.Bool

	timeout      time.Duration
	retryTimeout time.Duration
}

// New creates a Router over the given backends. hosted may be nil.
func New(local, hosted backend.Backend, ledger *metrics.Ledger) *Router {
	return &Router{
		local:        local,
		hosted:       hosted,
		ledger:       ledger,
		logger:       slog.Default(),
		answers:      cache.New[string](answerCacheCapacity),
		timeout:      groundedTimeout,
		retryTimeout: degradedTimeout,
	}
}

// IsErrorText reports whether text is a router-generated failure message.
func IsErrorText(text string) bool {
	return strings.HasPrefix(text, errorPrefix)
}

// ClearCache drops all cached answers.
func (r *Router) ClearCache() {
	r.answers.Clear()
}

// CacheSize reports the number of cached answers.
func (r *Router) CacheSize() int {
	return r.answers.Len()
}

// cacheKey hashes the (query, context, backend) triple. History and
// sources do not participate: they refine presentation, not the material
// identity of the answer.
func cacheKey(req Request) string {
	ctx := req.Context
	if ctx == "" {
		ctx = "no_context"
	}
	sum := md5.Sum(fmt.Appendf(nil, "%s:%s:%s", req.Query, ctx, req.Backend))
	return hex.EncodeToString(sum[:])
}

// Answer resolves the request to answer text. The second return reports
// whether the text was reused: an answer-cache hit, or a coalesced ride on
// a concurrent identical request. The caller whose dispatch produced the
// text is never marked reused. At most one backend dispatch occurs per
// (query, context, backend) at a time.
func (r *Router) Answer(ctx context.Context, req Request) (string, bool) {
	key := cacheKey(req)
	if text, ok := r.answers.Get(key); ok {
		r.ledger.AnswerCacheHit()
		return text, true
	}
	r.ledger.AnswerCacheMiss()

	// leader is set only inside the flight function, which singleflight
	// runs in exactly one caller's goroutine per key.
	var leader bool
	v, _, shared := r.flight.Do(key, func() (any, error) {
		leader = true
		text := r.dispatch(ctx, req)
		if !IsErrorText(text) {
			r.answers.Put(key, text)
		}
		return text, nil
	})
	return v.(string), shared && !leader
}

// dispatch runs the full state machine: backend selection, prompt build,
// bounded call, degraded retry on timeout.
func (r *Router) dispatch(ctx context.Context, req Request) string {
	b := r.selectBackend(req.Backend)
	prompt := buildPrompt(req)
	start := time.Now()

	text, err := r.complete(ctx, b, prompt, optionsFor(b.Name()))
	if errors.Is(err, backend.ErrQuotaExceeded) {
		// Remember the quota condition for the life of the process and
		// serve this caller from the local backend instead.
		r.hostedQuotaExceeded.Store(true)
		r.logger.Warn("hosted backend quota exceeded, failing over to local")
		b = r.local
		text, err = r.complete(ctx, b, prompt, optionsFor(b.Name()))
	}
	// Checked after the failover so a substituted local call that times
	// out still gets its one degraded retry.
	if errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("backend timed out, retrying with degraded prompt", "backend", b.Name())
		text, err = r.degradedRetry(ctx, b, req.Query)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return errorPrefix + "the model took too long to respond; try a simpler question or try again"
		}
		return errorPrefix + fmt.Sprintf("the %s backend failed: %v", b.Name(), err)
	}

	r.ledger.ObserveAnswer(string(b.Name()), time.Since(start))

	if req.Context != "" {
		return finishGrounded(text, req.Sources)
	}
	return finishUngrounded(text)
}

// degradedRetry issues exactly one shorter, context-free attempt after a
// timeout.
func (r *Router) degradedRetry(ctx context.Context, b backend.Backend, query string) (string, error) {
	retryCtx, cancel := context.WithTimeout(ctx, r.retryTimeout)
	defer cancel()
	return b.Complete(retryCtx, degradedPrompt(query), degradedOptions)
}

// complete runs one bounded backend call.
func (r *Router) complete(ctx context.Context, b backend.Backend, prompt string, opts backend.Options) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return b.Complete(callCtx, prompt, opts)
}

// selectBackend maps the requested name onto a live backend, silently
// substituting local when hosted is unavailable or over quota.
func (r *Router) selectBackend(name backend.Name) backend.Backend {
	if name == backend.Hosted && r.hosted != nil && !r.hostedQuotaExceeded.Load() {
		return r.hosted
	}
	return r.local
}

// Per-backend sampling profiles. The local profile trades quality for
// latency on modest hardware; the hosted profile allows longer output.
func optionsFor(name backend.Name) backend.Options {
	if name == backend.Hosted {
		return backend.Options{
			Temperature: 0.3,
			MaxTokens:   1000,
			TopK:        40,
			TopP:        0.9,
		}
	}
	return backend.Options{
		Temperature: 0.05,
		MaxTokens:   100,
		TopK:        5,
		TopP:        0.7,
	}
}

var degradedOptions = backend.Options{
	Temperature: 0.1,
	MaxTokens:   100,
}

// Package governor wraps every outbound platform call with retry, backoff
// and proactive pacing. Many platform limits are bucketed per route and only
// become visible once exceeded, so a fixed inter-call delay is applied after
// each successful call in addition to reactive rate-limit handling.
package governor

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dyadbot/replica/internal/platform"
)

// Route selects which proactive delay applies after a successful call.
type Route int

const (
	// RouteMutation covers structural guild mutations and reads.
	RouteMutation Route = iota
	// RouteWebhook covers relay message sends, which live in a separate,
	// tighter bucket.
	RouteWebhook
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 60 * time.Second
)

// Options configure a Governor. Zero values fall back to defaults; Sleep is
// injectable so tests run without wall-clock waits.
type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MutationDelay time.Duration
	WebhookDelay  time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error
	Logger        *slog.Logger
}

// Governor applies the retry/backoff/pacing policy. Safe for concurrent use;
// the proactive delays can be retuned at runtime by the config command.
type Governor struct {
	mu            sync.RWMutex
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	mutationDelay time.Duration
	webhookDelay  time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	log           *slog.Logger
}

// New builds a Governor, filling unset options with defaults.
func New(opts Options) *Governor {
	g := &Governor{
		maxAttempts:   opts.MaxAttempts,
		baseDelay:     opts.BaseDelay,
		maxDelay:      opts.MaxDelay,
		mutationDelay: opts.MutationDelay,
		webhookDelay:  opts.WebhookDelay,
		sleep:         opts.Sleep,
		log:           opts.Logger,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.baseDelay <= 0 {
		g.baseDelay = DefaultBaseDelay
	}
	if g.maxDelay <= 0 {
		g.maxDelay = DefaultMaxDelay
	}
	if g.sleep == nil {
		g.sleep = sleepWithContext
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// SetDelays retunes the proactive inter-call delays.
func (g *Governor) SetDelays(webhook, mutation time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.webhookDelay = webhook
	g.mutationDelay = mutation
}

// Delays reports the current proactive delays (webhook, mutation).
func (g *Governor) Delays() (time.Duration, time.Duration) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.webhookDelay, g.mutationDelay
}

// Do runs fn under the governed policy.
//
// Rate-limit errors sleep for the server-advised delay scaled by 2^attempt,
// capped at MaxDelay. Transient errors back off from BaseDelay with jitter.
// Any other error propagates immediately: the item-level and step-level
// handling above the governor owns those. After a successful call the
// route's proactive delay is applied before returning.
func (g *Governor) Do(ctx context.Context, route Route, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return g.pace(ctx, route)
		}
		lastErr = err

		if retryAfter, ok := platform.RetryAfterOf(err); ok {
			wait := capDelay(retryAfter<<attempt, g.maxDelay)
			g.log.Debug("rate limited, backing off", "attempt", attempt, "wait", wait)
			if serr := g.sleep(ctx, wait); serr != nil {
				return serr
			}
			continue
		}
		if platform.IsTransient(err) {
			wait := capDelay(jitter(g.baseDelay<<attempt), g.maxDelay)
			g.log.Debug("transient failure, backing off", "attempt", attempt, "wait", wait, "error", err)
			if serr := g.sleep(ctx, wait); serr != nil {
				return serr
			}
			continue
		}
		return err
	}
	return lastErr
}

// pace applies the fixed inter-call delay for a route.
func (g *Governor) pace(ctx context.Context, route Route) error {
	g.mu.RLock()
	d := g.mutationDelay
	if route == RouteWebhook {
		d = g.webhookDelay
	}
	g.mu.RUnlock()

	if d <= 0 {
		return nil
	}
	return g.sleep(ctx, d)
}

func capDelay(d, ceiling time.Duration) time.Duration {
	if d > ceiling {
		return ceiling
	}
	return d
}

// jitter spreads retries from concurrent workers by up to 10%.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

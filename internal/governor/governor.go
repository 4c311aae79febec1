// Package governor tracks per-provider request budgets and gates connector
// calls so no provider ever exceeds its quota.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/choices-civics/repsync/internal/model"
)

// ErrThrottled is returned by Acquire when no token becomes available within
// the provider's wait timeout. Callers treat it as quota exhaustion for the
// current run, not as a failure.
var ErrThrottled = errors.New("governor: provider throttled")

// Policy declares a provider's request budget.
type Policy struct {
	// DailyBudget caps cumulative requests: a bucket with capacity
	// DailyBudget, refilled evenly over 24 hours. Zero means uncapped.
	DailyBudget int
	// RequestsPerSec is the short-term refill rate. When unset it is derived
	// from DailyBudget spread over the day.
	RequestsPerSec float64
	// Burst bounds short spikes. Defaults to 1.
	Burst int
	// MinDelay is a fixed inter-request delay floor, enforced independently
	// of the token bucket.
	MinDelay time.Duration
	// WaitTimeout bounds how long Acquire blocks before returning
	// ErrThrottled. Defaults to 60s.
	WaitTimeout time.Duration
}

// bucket is the per-provider state. Owned by the Governor, never global, so
// tests can run simulated providers concurrently without cross-talk.
type bucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	// daily enforces the cumulative budget: capacity DailyBudget, refilled
	// over 24 hours. Nil when the provider declares no budget.
	daily       *rate.Limiter
	minDelay    time.Duration
	waitTimeout time.Duration
	lastRequest time.Time

	// penalty backoff applied after a RateLimited signal. penaltyUntil zeroes
	// availability for one window; the window doubles on repeated signals up
	// to maxPenalty and resets after a clean success.
	penaltyUntil time.Time
	penalty      time.Duration
	basePenalty  time.Duration
	maxPenalty   time.Duration
}

// Governor gates connector calls against per-provider token buckets.
type Governor struct {
	mu      sync.RWMutex
	buckets map[model.Provider]*bucket

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an empty Governor. Providers declare their policies via
// Register before any Acquire call.
func New() *Governor {
	return &Governor{
		buckets: make(map[model.Provider]*bucket),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// WithClock overrides time functions for tests.
func (g *Governor) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Governor {
	g.now = now
	g.sleep = sleep
	return g
}

// Register declares a provider's quota policy, replacing any previous one.
func (g *Governor) Register(p model.Provider, pol Policy) {
	if pol.Burst <= 0 {
		pol.Burst = 1
	}
	if pol.WaitTimeout <= 0 {
		pol.WaitTimeout = 60 * time.Second
	}
	limit := rate.Limit(pol.RequestsPerSec)
	if pol.RequestsPerSec <= 0 && pol.DailyBudget > 0 {
		limit = rate.Limit(float64(pol.DailyBudget) / (24 * 60 * 60))
	}
	var daily *rate.Limiter
	if pol.DailyBudget > 0 {
		daily = rate.NewLimiter(rate.Limit(float64(pol.DailyBudget)/(24*60*60)), pol.DailyBudget)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.buckets[p] = &bucket{
		limiter:     rate.NewLimiter(limit, pol.Burst),
		daily:       daily,
		minDelay:    pol.MinDelay,
		waitTimeout: pol.WaitTimeout,
		basePenalty: 30 * time.Second,
		maxPenalty:  15 * time.Minute,
	}
}

func (g *Governor) bucketFor(p model.Provider) *bucket {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.buckets[p]
}

// Acquire blocks until the provider has a daily-budget token and a rate token
// available, its penalty window has elapsed, and the inter-request delay floor
// is satisfied. Returns ErrThrottled when the combined wait would exceed the
// provider's wait timeout, or the context error on cancellation.
func (g *Governor) Acquire(ctx context.Context, p model.Provider) error {
	b := g.bucketFor(p)
	if b == nil {
		return fmt.Errorf("governor: provider %s not registered", p)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := g.now().Add(b.waitTimeout)

	// Penalty window first: tokens are zeroed until it passes.
	b.mu.Lock()
	wait := b.penaltyUntil.Sub(g.now())
	b.mu.Unlock()
	if wait > 0 {
		if g.now().Add(wait).After(deadline) {
			return ErrThrottled
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}

	// Daily budget before the short-term rate, so a spent budget throttles
	// even when burst tokens remain.
	if b.daily != nil {
		if err := g.waitLimiter(ctx, b.daily, deadline); err != nil {
			return err
		}
	}
	if err := g.waitLimiter(ctx, b.limiter, deadline); err != nil {
		return err
	}

	// Inter-request delay floor, independent of the buckets.
	b.mu.Lock()
	floorWait := b.minDelay - g.now().Sub(b.lastRequest)
	b.mu.Unlock()
	if floorWait > 0 {
		if g.now().Add(floorWait).After(deadline) {
			return ErrThrottled
		}
		if err := g.sleep(ctx, floorWait); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.lastRequest = g.now()
	b.mu.Unlock()
	return nil
}

// waitLimiter reserves one token against lim, sleeping out the reservation
// delay. A delay that would run past the deadline cancels the reservation and
// reports ErrThrottled so the token is not burned.
func (g *Governor) waitLimiter(ctx context.Context, lim *rate.Limiter, deadline time.Time) error {
	now := g.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return ErrThrottled
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if now.Add(delay).After(deadline) {
		r.CancelAt(now)
		return ErrThrottled
	}
	if err := g.sleep(ctx, delay); err != nil {
		r.CancelAt(g.now())
		return err
	}
	return nil
}

// ReportRateLimited zeroes the provider's availability for one backoff window
// and doubles the next window on repeated signals, capped.
func (g *Governor) ReportRateLimited(p model.Provider) {
	b := g.bucketFor(p)
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.penalty <= 0 {
		b.penalty = b.basePenalty
	} else {
		b.penalty *= 2
		if b.penalty > b.maxPenalty {
			b.penalty = b.maxPenalty
		}
	}
	b.penaltyUntil = g.now().Add(b.penalty)

	zap.L().Warn("governor: provider rate limited, applying penalty window",
		zap.String("provider", string(p)),
		zap.Duration("penalty", b.penalty),
	)
}

// ReportSuccess resets the penalty escalation after a clean request.
func (g *Governor) ReportSuccess(p model.Provider) {
	b := g.bucketFor(p)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.penalty = 0
	b.mu.Unlock()
}

// PenaltyActive reports whether the provider is currently inside a penalty
// window. Used by run summaries.
func (g *Governor) PenaltyActive(p model.Provider) bool {
	b := g.bucketFor(p)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return g.now().Before(b.penaltyUntil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

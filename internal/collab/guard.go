// Package collab provides the HTTP clients for the external collaborators
// (funds manager, risk controller, scoring service, transaction executor)
// and the resilience guard every outbound call goes through: rate limiting,
// circuit breaking, and retry with bounded per-attempt timeouts. A timeout
// or transport failure surfaces as a plain error; the scheduler treats it as
// a transient fault for that agent only.
package collab

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig tunes one collaborator's guard.
type GuardConfig struct {
	Name           string
	Attempts       uint          // retry attempts per call
	AttemptTimeout time.Duration // per-attempt deadline
	RateLimit      float64       // requests/sec; 0 disables the limiter
	Burst          int
}

// Guard wraps outbound calls in limiter → breaker → retry order.
type Guard struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     GuardConfig
}

// NewGuard creates a guard for one collaborator.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Guard{name: cfg.Name, cb: cb, limiter: limiter, cfg: cfg}
}

// Do runs fn through the guard. fn receives a context bounded by the
// per-attempt timeout.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(g.cfg.Attempts),
		)
		return nil, r.Do(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
			defer cancel()
			return fn(attemptCtx)
		})
	})
	return err
}

// BreakerState exposes the breaker state for metrics.
func (g *Guard) BreakerState() gobreaker.State {
	return g.cb.State()
}

// Name returns the collaborator name the guard was created with.
func (g *Guard) Name() string { return g.name }

// Package governor throttles outbound document store requests with a minimum
// inter-request interval and a consecutive-failure circuit breaker.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ex-feedsync/pkg/feed"
)

const (
	defaultMinInterval      = 2 * time.Second
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

// Option mutates governor configuration.
type Option func(*Governor)

// WithMinInterval sets the minimum spacing between admitted requests.
//
// Zero disables throttling.
func WithMinInterval(interval time.Duration) Option {
	return func(governor *Governor) {
		if interval >= 0 {
			governor.minInterval = interval
		}
	}
}

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(threshold uint32) Option {
	return func(governor *Governor) {
		if threshold > 0 {
			governor.threshold = threshold
		}
	}
}

// WithCooldown sets how long the circuit stays open.
func WithCooldown(cooldown time.Duration) Option {
	return func(governor *Governor) {
		if cooldown > 0 {
			governor.cooldown = cooldown
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(governor *Governor) {
		if clock != nil {
			governor.clock = clock
		}
	}
}

// WithLogger injects the governor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(governor *Governor) {
		if logger != nil {
			governor.logger = logger
		}
	}
}

// Governor gates outbound requests.
//
// It is safe for concurrent use.
type Governor struct {
	minInterval time.Duration
	threshold   uint32
	cooldown    time.Duration
	clock       func() time.Time
	logger      *slog.Logger

	mu                  sync.Mutex
	limiter             *rate.Limiter
	lastRequestAt       time.Time
	consecutiveFailures uint32
	circuitOpenUntil    *time.Time
}

// New creates a governor with a closed circuit.
func New(options ...Option) *Governor {
	governor := &Governor{
		minInterval: defaultMinInterval,
		threshold:   defaultFailureThreshold,
		cooldown:    defaultCooldown,
		clock:       time.Now,
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(governor)
	}

	limit := rate.Inf
	if governor.minInterval > 0 {
		limit = rate.Every(governor.minInterval)
	}
	governor.limiter = rate.NewLimiter(limit, 1)

	return governor
}

// TryAcquire reports whether a request may be issued now and, if so, records
// it as the last request.
func (g *Governor) TryAcquire() bool {
	return g.acquire() == nil
}

// Acquire is TryAcquire reporting why a request was refused.
//
// It returns feed.ErrCircuitOpen or feed.ErrThrottled.
func (g *Governor) Acquire() error {
	return g.acquire()
}

func (g *Governor) acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if g.isOpenLocked(now) {
		governorDeniedTotal.WithLabelValues(denyReasonCircuit).Inc()
		return feed.ErrCircuitOpen
	}
	if !g.limiter.AllowN(now, 1) {
		governorDeniedTotal.WithLabelValues(denyReasonInterval).Inc()
		return feed.ErrThrottled
	}
	g.lastRequestAt = now

	return nil
}

// RecordFailure counts one failed request and opens the circuit at the
// configured threshold.
func (g *Governor) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFailures++
	if g.consecutiveFailures < g.threshold {
		return
	}

	until := g.clock().Add(g.cooldown)
	g.circuitOpenUntil = &until
	g.consecutiveFailures = 0
	governorCircuitOpensTotal.Inc()
	g.logger.WarnContext(context.Background(),
		"request governor circuit opened",
		"threshold", g.threshold,
		"cooldown", g.cooldown,
		"open_until", until,
	)
}

// RecordSuccess resets the consecutive failure count.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFailures = 0
}

// Record routes one request outcome to RecordSuccess or RecordFailure.
func (g *Governor) Record(err error) {
	if err != nil {
		g.RecordFailure()
		return
	}
	g.RecordSuccess()
}

// IsOpen reports whether the circuit is open, closing it once the cooldown
// has elapsed.
func (g *Governor) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.isOpenLocked(g.clock())
}

func (g *Governor) isOpenLocked(now time.Time) bool {
	if g.circuitOpenUntil == nil {
		return false
	}
	if !now.Before(*g.circuitOpenUntil) {
		g.circuitOpenUntil = nil
		return false
	}

	return true
}

// State returns a copy of the governor bookkeeping.
func (g *Governor) State() feed.GovernorState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := feed.GovernorState{
		LastRequestAt:       g.lastRequestAt,
		ConsecutiveFailures: g.consecutiveFailures,
	}
	if g.circuitOpenUntil != nil {
		until := *g.circuitOpenUntil
		state.CircuitOpenUntil = &until
	}

	return state
}

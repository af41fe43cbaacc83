package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/logging"
)

// ErrExecutorUnavailable is returned for an invocation skipped because the
// provider's circuit breaker is open.
var ErrExecutorUnavailable = errors.New("executor unavailable")

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	ConsecutiveFailures uint32        // Failures in a row that open the breaker (default 5)
	OpenTimeout         time.Duration // How long the breaker stays open (default 30s)
	HalfOpenRequests    uint32        // Probe invocations allowed while half-open (default 1)
}

// CircuitBreakerRegistry manages per-provider circuit breakers. Loops that
// share a provider share its breaker, so a broken CLI stops being invoked
// by every agent at once.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   *slog.Logger
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(settings BreakerSettings, logger *slog.Logger) *CircuitBreakerRegistry {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		logger:   logging.OrDiscard(logger),
	}
}

// Get returns the circuit breaker for the given provider.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	threshold := r.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: r.settings.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a provider failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	r.breakers[provider] = cb
	return cb
}

// invoker runs one executor invocation with a per-call timeout, through a
// circuit breaker when one is set.
type invoker struct {
	backend backend.Backend
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// invoke returns the transcript even when the invocation failed, so partial
// output still reaches the iteration log. timedOut reports that the per-call
// timeout, not the caller, ended the invocation.
func (inv invoker) invoke(ctx context.Context, msg backend.Message) (resp backend.Response, timedOut bool, err error) {
	callCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	if inv.breaker == nil {
		resp, err = inv.backend.Send(callCtx, msg)
	} else {
		var result any
		result, err = inv.breaker.Execute(func() (any, error) {
			return inv.backend.Send(callCtx, msg)
		})
		if r, ok := result.(backend.Response); ok {
			resp = r
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
		}
	}

	timedOut = err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	return resp, timedOut, err
}

// pauser spaces out loop iterations: a fixed delay after a clean iteration,
// exponential backoff after consecutive executor errors.
type pauser struct {
	delay time.Duration
	bo    *backoff.ExponentialBackOff
}

func newPauser(delay time.Duration) *pauser {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = delay
	bo.MaxInterval = 30 * delay
	bo.MaxElapsedTime = 0 // Never give up; the iteration budget bounds the loop
	bo.Reset()
	return &pauser{delay: delay, bo: bo}
}

// wait sleeps before the next iteration. It returns early with the context
// error when ctx ends.
func (p *pauser) wait(ctx context.Context, afterError bool) error {
	d := p.delay
	if afterError {
		d = p.bo.NextBackOff()
	} else {
		p.bo.Reset()
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

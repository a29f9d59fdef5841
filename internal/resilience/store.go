// Package resilience guards calls to external dependencies.
//
// GuardedStore puts a circuit breaker and a per-call deadline in front of a
// record store. RateLimitedLLM throttles calls to the generative model.
// Neither retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/knoguchi/supportrag/internal/repository"
)

const (
	DefaultStoreTimeout    = 5 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// StoreOptions configures a GuardedStore.
type StoreOptions struct {
	// Timeout bounds every store call.
	Timeout time.Duration

	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32

	// OpenTimeout is how long the breaker stays open before a probe call.
	OpenTimeout time.Duration

	Logger *slog.Logger
}

// GuardedStore wraps a RecordStore with a circuit breaker and a deadline.
// Every error it returns wraps repository.ErrUnavailable.
type GuardedStore struct {
	store   repository.RecordStore
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuardedStore wraps store.
func NewGuardedStore(store repository.RecordStore, opts StoreOptions) *GuardedStore {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStoreTimeout
	}
	if opts.Failures == 0 {
		opts.Failures = DefaultBreakerFailures
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultBreakerTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	failures := opts.Failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "record-store",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up says nothing about the store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &GuardedStore{
		store:   store,
		cb:      cb,
		timeout: opts.Timeout,
	}
}

// NearestNeighbors runs the query through the breaker under the store timeout.
func (g *GuardedStore) NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]repository.Candidate, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.store.NearestNeighbors(ctx, vector, limit)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	candidates, _ := out.([]repository.Candidate)
	return candidates, nil
}

// Ping checks the store under the store timeout. It bypasses the breaker so
// health probes keep observing the store while the breaker is open.
func (g *GuardedStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Open reports whether the breaker is rejecting calls.
func (g *GuardedStore) Open() bool {
	return g.cb.State() == gobreaker.StateOpen
}

// State returns the breaker state name.
func (g *GuardedStore) State() string {
	return g.cb.State().String()
}

func unavailable(err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", repository.ErrUnavailable, err)
}

var _ repository.RecordStore = (*GuardedStore)(nil)

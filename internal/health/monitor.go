// Package health tracks record store reachability for the search pipeline
// and the health endpoints.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Pinger is anything that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Breaker reports whether a circuit breaker is rejecting calls.
type Breaker interface {
	Open() bool
}

// Monitor periodically pings the record store and publishes the result.
// Available is safe to call from any goroutine.
type Monitor struct {
	store    Pinger
	breaker  Breaker
	interval time.Duration
	timeout  time.Duration
	grpc     *grpchealth.Server
	logger   *slog.Logger

	reachable atomic.Bool
}

// Option is a functional option for configuring Monitor.
type Option func(*Monitor)

// WithBreaker makes the monitor report unavailable while the breaker is open.
func WithBreaker(b Breaker) Option {
	return func(m *Monitor) {
		m.breaker = b
	}
}

// WithInterval sets how often Run pings the store.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithTimeout bounds each ping.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

// WithGRPCHealth publishes store availability as the overall serving status
// of a gRPC health server.
func WithGRPCHealth(s *grpchealth.Server) Option {
	return func(m *Monitor) {
		m.grpc = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// NewMonitor creates a monitor. The store is considered unavailable until the
// first Check.
func NewMonitor(store Pinger, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish(false)
	return m
}

// Available reports whether the store answered the last ping and the breaker,
// if any, is not open.
func (m *Monitor) Available() bool {
	if !m.reachable.Load() {
		return false
	}
	if m.breaker != nil && m.breaker.Open() {
		return false
	}
	return true
}

// Reachable reports whether the store answered the last ping.
func (m *Monitor) Reachable() bool {
	return m.reachable.Load()
}

// Check pings the store once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.store.Ping(ctx)
	ok := err == nil

	if prev := m.reachable.Swap(ok); prev != ok {
		if ok {
			m.logger.Info("record store reachable")
		} else {
			m.logger.Warn("record store unreachable", "error", err)
		}
	}
	m.publish(ok)
	return ok
}

// Run checks the store every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) publish(ok bool) {
	if m.grpc == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.grpc.SetServingStatus("", status)
}

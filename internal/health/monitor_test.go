package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct {
	err   atomic.Pointer[error]
	calls atomic.Int32
}

func (f *fakePinger) set(err error) { f.err.Store(&err) }

func (f *fakePinger) Ping(context.Context) error {
	f.calls.Add(1)
	if p := f.err.Load(); p != nil {
		return *p
	}
	return nil
}

type fakeBreaker struct{ open bool }

func (b fakeBreaker) Open() bool { return b.open }

func servingStatus(t *testing.T, s *grpchealth.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func TestMonitor_UnavailableUntilChecked(t *testing.T) {
	m := NewMonitor(&fakePinger{})
	if m.Available() {
		t.Error("expected unavailable before first check")
	}
}

func TestMonitor_Check(t *testing.T) {
	p := &fakePinger{}
	hs := grpchealth.NewServer()
	m := NewMonitor(p, WithGRPCHealth(hs))

	if got := servingStatus(t, hs); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING initially, got %v", got)
	}

	if !m.Check(context.Background()) {
		t.Fatal("expected check to succeed")
	}
	if !m.Available() {
		t.Error("expected available")
	}
	if got := servingStatus(t, hs); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", got)
	}

	p.set(errors.New("connection refused"))
	if m.Check(context.Background()) {
		t.Fatal("expected check to fail")
	}
	if m.Available() {
		t.Error("expected unavailable")
	}
	if got := servingStatus(t, hs); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING, got %v", got)
	}
}

func TestMonitor_OpenBreakerMeansUnavailable(t *testing.T) {
	m := NewMonitor(&fakePinger{}, WithBreaker(fakeBreaker{open: true}))
	m.Check(context.Background())

	if !m.Reachable() {
		t.Error("expected reachable")
	}
	if m.Available() {
		t.Error("expected unavailable while breaker is open")
	}
}

func TestMonitor_Run(t *testing.T) {
	p := &fakePinger{}
	m := NewMonitor(p, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("monitor did not ping periodically")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !m.Available() {
		t.Error("expected available after successful pings")
	}
}

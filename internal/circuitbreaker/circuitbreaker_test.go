package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errProvider = errors.New("provider unavailable")

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:            "test",
		MaxFailures:     maxFailures,
		RecoveryTimeout: recovery,
	}, zap.NewNop())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errProvider }); !errors.Is(err, errProvider) {
			t.Fatalf("call %d: got %v, want provider error", i, err)
		}
	}

	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("function was invoked while circuit open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.Execute(func() error { return errProvider })
	cb.Execute(func() error { return errProvider })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errProvider })
	cb.Execute(func() error { return errProvider })

	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestProbeClosesAfterRecovery(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.Execute(func() error { return errProvider })
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", got)
	}
}

func TestProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.Execute(func() error { return errProvider })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return errProvider }); !errors.Is(err, errProvider) {
		t.Fatalf("probe: got %v, want provider error", err)
	}
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state = %v, want re-opened", got)
	}
}

func TestSetCreatesPerChannelBreakers(t *testing.T) {
	set := NewSet(zap.NewNop())

	email := set.For("email")
	chat := set.For("chat")
	if email == chat {
		t.Fatal("channels share a breaker")
	}
	if set.For("email") != email {
		t.Fatal("second lookup returned a different breaker")
	}
}

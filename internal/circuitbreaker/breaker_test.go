package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *clock) {
	clk := &clock{t: time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.now = clk.now
	return b, clk
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("gemini")
	b.RecordFailure("gemini")
	if !b.Allow("gemini") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("gemini")
	if b.Allow("gemini") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("gemini") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("gemini"))
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute)
	b.RecordFailure("weather")

	if b.Allow("weather") {
		t.Fatal("expected open circuit to reject")
	}
	clk.advance(time.Minute)
	if !b.Allow("weather") {
		t.Fatal("expected trial call after cool-down")
	}
	if b.State("weather") != StateHalfOpen {
		t.Fatalf("expected half_open, got %v", b.State("weather"))
	}
	if b.Allow("weather") {
		t.Fatal("only one trial call may run at a time")
	}

	b.RecordSuccess("weather")
	if b.State("weather") != StateClosed {
		t.Fatalf("expected closed after successful trial call, got %v", b.State("weather"))
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute)
	b.RecordFailure("gemini")
	clk.advance(2 * time.Minute)
	b.Allow("gemini")
	b.RecordFailure("gemini")
	if b.State("gemini") != StateOpen {
		t.Fatalf("expected open, got %v", b.State("gemini"))
	}
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2, time.Hour)
	boom := errors.New("upstream 503")

	for i := 0; i < 2; i++ {
		if err := b.Execute("gemini", func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}

	called := false
	err := b.Execute("gemini", func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}

	// Other upstreams are unaffected.
	if err := b.Execute("weather", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure("gemini")
	b.RecordFailure("gemini")
	b.RecordSuccess("gemini")
	b.RecordFailure("gemini")
	b.RecordFailure("gemini")
	if b.State("gemini") != StateClosed {
		t.Fatalf("success should reset the count, got %v", b.State("gemini"))
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	got := make(chan [2]State, 1)
	b.OnTransition(func(upstream string, from, to State) {
		got <- [2]State{from, to}
	})
	b.RecordFailure("gemini")

	select {
	case tr := <-got:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Errorf("unexpected transition %v -> %v", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(42):     "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

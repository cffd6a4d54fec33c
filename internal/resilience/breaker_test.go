package resilience

import (
	"errors"
	"testing"
	"time"
)

var (
	errProviderDown = errors.New("provider returned 503")
	errBusiness     = errors.New("duplicate invoice number")
)

// step is one call against the breaker: advance the clock, run a call that
// returns err, and expect the returned error and the resulting state.
type step struct {
	advance   time.Duration
	err       error
	wantErr   error
	wantState State
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name        string
		maxFailures int
		steps       []step
	}{
		{
			name:        "success keeps closed",
			maxFailures: 3,
			steps:       []step{{wantState: StateClosed}},
		},
		{
			name:        "opens after max failures and rejects",
			maxFailures: 3,
			steps: []step{
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateOpen},
				{wantErr: ErrCircuitOpen, wantState: StateOpen},
			},
		},
		{
			name:        "success resets the failure count",
			maxFailures: 3,
			steps: []step{
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
			},
		},
		{
			name:        "half-open probe success closes",
			maxFailures: 2,
			steps: []step{
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateOpen},
				{advance: 500 * time.Millisecond, wantErr: ErrCircuitOpen, wantState: StateOpen},
				{advance: 2 * time.Second, wantState: StateClosed},
			},
		},
		{
			name:        "half-open probe failure reopens",
			maxFailures: 2,
			steps: []step{
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateClosed},
				{err: errProviderDown, wantErr: errProviderDown, wantState: StateOpen},
				{advance: 2 * time.Second, err: errProviderDown, wantErr: errProviderDown, wantState: StateOpen},
				{wantErr: ErrCircuitOpen, wantState: StateOpen},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			b := NewBreaker(tt.maxFailures, time.Second)
			b.now = func() time.Time { return now }

			for i, s := range tt.steps {
				now = now.Add(s.advance)
				called := false
				err := b.Execute(func() error {
					called = true
					return s.err
				})
				if !errors.Is(err, s.wantErr) || (s.wantErr == nil && err != nil) {
					t.Fatalf("step %d: error = %v, want %v", i, err, s.wantErr)
				}
				if errors.Is(s.wantErr, ErrCircuitOpen) == called {
					t.Fatalf("step %d: call ran = %v while circuit open = %v", i, called, errors.Is(s.wantErr, ErrCircuitOpen))
				}
				if got := b.State(); got != s.wantState {
					t.Fatalf("step %d: state = %s, want %s", i, got, s.wantState)
				}
			}
		})
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errProviderDown })
	now = now.Add(2 * time.Second)

	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", got)
	}

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A second caller during the probe is rejected.
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen during probe, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after probe, got %s", got)
	}
}

func TestFailurePredicateIgnoresOtherErrors(t *testing.T) {
	b := NewBreaker(2, time.Second, WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, errBusiness)
	}))

	for range 5 {
		if err := b.Execute(func() error { return errBusiness }); !errors.Is(err, errBusiness) {
			t.Fatalf("expected business error returned, got %v", err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("non-failures must not open the breaker, got %s", got)
	}

	_ = b.Execute(func() error { return errProviderDown })
	_ = b.Execute(func() error { return errProviderDown })
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open"} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}

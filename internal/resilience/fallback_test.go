package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

type namedFn func() (string, error)

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	ok := func(s string) namedFn { return func() (string, error) { return s, nil } }
	bad := func() (string, error) { return "", errTest }

	tests := []struct {
		name    string
		entries []namedFn
		want    string
		wantErr bool
		calls   []int
	}{
		{name: "primary success", entries: []namedFn{ok("a"), ok("b")}, want: "a", calls: []int{0}},
		{name: "failover", entries: []namedFn{bad, ok("b")}, want: "b", calls: []int{0, 1}},
		{name: "all fail", entries: []namedFn{bad, bad}, wantErr: true, calls: []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls []int
			wrap := func(i int) namedFn {
				return func() (string, error) {
					calls = append(calls, i)
					return tt.entries[i]()
				}
			}
			fg := NewFallbackGroup(wrap(0), "p0", FallbackConfig{})
			for i := 1; i < len(tt.entries); i++ {
				fg.AddFallback("p"+string(rune('0'+i)), wrap(i))
			}

			got, err := ExecuteWithResult(context.Background(), fg, func(f namedFn) (string, error) { return f() })
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Errorf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
			} else if err != nil || got != tt.want {
				t.Errorf("got (%q, %v), want %q", got, err, tt.want)
			}
			if !slices.Equal(calls, tt.calls) {
				t.Errorf("calls = %v, want %v", calls, tt.calls)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenCircuit(t *testing.T) {
	t.Parallel()
	primaryCalls := 0
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	run := func() error {
		return fg.Execute(context.Background(), func(name string) error {
			if name == "primary" {
				primaryCalls++
				return errTest
			}
			return nil
		})
	}
	for range 3 {
		if err := run(); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if primaryCalls != 1 {
		t.Errorf("primary called %d times, want 1 (circuit open after first failure)", primaryCalls)
	}
	if st := fg.States()["primary"]; st != StateOpen {
		t.Errorf("primary state = %v, want open", st)
	}
	if got := fg.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestFallbackGroup_StopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	fg := NewFallbackGroup(1, "a", FallbackConfig{})
	fg.AddFallback("b", 2)

	var tried []int
	err := fg.Execute(ctx, func(v int) error {
		tried = append(tried, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !slices.Equal(tried, []int{1}) {
		t.Errorf("tried = %v, want [1]", tried)
	}
}

func TestFallbackGroup_OnProviderError(t *testing.T) {
	t.Parallel()
	var failed []string
	fg := NewFallbackGroup("a", "a", FallbackConfig{
		OnProviderError: func(name string, _ error) { failed = append(failed, name) },
	})
	fg.AddFallback("b", "b")
	_ = fg.Execute(context.Background(), func(string) error { return errTest })
	if !slices.Equal(failed, []string{"a", "b"}) {
		t.Errorf("failed = %v, want [a b]", failed)
	}
}

func TestFallbackGroup_OnProviderRequest(t *testing.T) {
	t.Parallel()
	type call struct {
		name string
		ok   bool
	}
	var calls []call
	fg := NewFallbackGroup("a", "a", FallbackConfig{
		CircuitBreaker:    CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		OnProviderRequest: func(name string, err error) { calls = append(calls, call{name, err == nil}) },
	})
	fg.AddFallback("b", "b")

	run := func() {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "a" {
				return errTest
			}
			return nil
		})
	}
	run()
	// a's breaker is now open, so the second run only reaches b.
	run()
	want := []call{{"a", false}, {"b", true}, {"b", true}}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

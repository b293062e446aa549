package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttemptsAndSurfacesLastError(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return errors.New("failure " + string(rune('0'+calls)))
	})
	if calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", calls)
	}
	if err == nil || err.Error() != "failure 3" {
		t.Errorf("expected final failure to be surfaced, got %v", err)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(5), func(_ context.Context) error {
		calls++
		return Permanent(errors.New("bad input"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "invalid" }
func (permanentErr) Permanent() bool { return true }

func TestDo_PermanentMarkerNotRetried(t *testing.T) {
	var calls int
	_ = Do(context.Background(), fastRetry(5), func(_ context.Context) error {
		calls++
		return permanentErr{}
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastRetry(4)
	cfg.ShouldRetry = IsTransient
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("not transient")
	})
	if calls != 1 {
		t.Errorf("expected 1 call with transient-only predicate, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}

	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(_ context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("fail")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestDo_StoppedBeforeFirstAttempt(t *testing.T) {
	var calls int
	cfg := fastRetry(3)
	cfg.Stopped = func() bool { return true }
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no calls, got %d", calls)
	}
}

func TestDo_StopBetweenAttemptsSurfacesLastFailure(t *testing.T) {
	var calls int
	var stopped atomic.Bool
	cfg := fastRetry(5)
	cfg.Stopped = stopped.Load
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		stopped.Store(true)
		return errors.New("first failure")
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if err == nil || err.Error() != "first failure" {
		t.Errorf("expected first failure, got %v", err)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("503"), 503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, delay time.Duration, _ error) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return errors.New("fail")
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retries after attempts [1 2], got %v", attempts)
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("unexpected delays %v", delays)
	}
}

func TestRetryLogger_FlagsTransientFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	logRetry := RetryLogger("search", "search")
	logRetry(1, time.Millisecond, syscall.ECONNRESET)
	logRetry(2, 2*time.Millisecond, errors.New("invalid api key"))

	entries := logs.FilterMessage("resilience: retrying operation").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 retry log entries, got %d", len(entries))
	}
	want := []bool{true, false}
	for i, e := range entries {
		got, ok := e.ContextMap()["transient"].(bool)
		if !ok || got != want[i] {
			t.Errorf("entry %d: transient = %v, want %v", i, e.ContextMap()["transient"], want[i])
		}
		if e.ContextMap()["stage"] != "search" {
			t.Errorf("entry %d: unexpected stage %v", i, e.ContextMap()["stage"])
		}
	}
}

func TestBackoff_Formula(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, Multiplier: 2}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := Backoff(i+1, cfg); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, JitterFraction: 0.5}
	for i := 0; i < 100; i++ {
		d := Backoff(1, cfg)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestStagePresets(t *testing.T) {
	if PlanningRetry().MaxAttempts != 3 {
		t.Error("planning preset should allow 3 attempts")
	}
	if SearchRetry().MaxBackoff != 5*time.Second {
		t.Errorf("unexpected search max backoff %v", SearchRetry().MaxBackoff)
	}
	if WritingRetry().InitialBackoff != 2*time.Second {
		t.Errorf("unexpected writing initial backoff %v", WritingRetry().InitialBackoff)
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(SearchRetry(), 5, 250, 0)
	if cfg.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected preset max backoff to be kept, got %v", cfg.MaxBackoff)
	}
}

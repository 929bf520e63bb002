package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", "retry")
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected MaxAttempts: %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != time.Second {
		t.Fatalf("unexpected BaseDelay: %v", cfg.BaseDelay)
	}
	if cfg.JitterFactor != 0.2 {
		t.Fatalf("unexpected JitterFactor: %v", cfg.JitterFactor)
	}
}

func TestDelayBounds(t *testing.T) {
	base := time.Second
	for _, r := range []float64{0, 0.25, 0.5, 0.999999} {
		r := r
		p := New(Config{MaxAttempts: 5, BaseDelay: base, JitterFactor: 0.2}, WithRand(func() float64 { return r }), WithLogger(testLogger()))
		for n := 1; n <= 6; n++ {
			low := base * time.Duration(1<<(n-1))
			high := time.Duration(float64(low) * 1.2)
			got := p.Delay(n)
			if got < low || got > high {
				t.Fatalf("rand=%v attempt=%d: delay %v not in [%v, %v]", r, n, got, low, high)
			}
		}
	}
}

func TestDelayBoundsRandomJitter(t *testing.T) {
	p := New(DefaultConfig(), WithLogger(testLogger()))
	for i := 0; i < 1000; i++ {
		n := i%4 + 1
		low := time.Second * time.Duration(1<<(n-1))
		high := time.Duration(float64(low) * 1.2)
		if got := p.Delay(n); got < low || got > high {
			t.Fatalf("attempt=%d: delay %v not in [%v, %v]", n, got, low, high)
		}
	}
}

func TestDelayMaxDelay(t *testing.T) {
	p := New(Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 3 * time.Second}, WithLogger(testLogger()))
	if got := p.Delay(5); got != 3*time.Second {
		t.Fatalf("expected capped delay, got %v", got)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	rec := &sleepRecorder{}
	var hookCalls int
	p := New(Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
		WithSleep(rec.sleep),
		WithLogger(testLogger()),
		WithRetryHook(func(string, int, error) { hookCalls++ }),
	)

	attempts := 0
	err := p.Do(context.Background(), "listRows", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &domain.BackendError{StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(rec.delays) != 2 || rec.delays[0] != 10*time.Millisecond || rec.delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", rec.delays)
	}
	if hookCalls != 2 {
		t.Fatalf("expected 2 retry hook calls, got %d", hookCalls)
	}
}

func TestDoNonRetryableAbortsImmediately(t *testing.T) {
	for _, code := range []int{400, 401, 403, 404} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			rec := &sleepRecorder{}
			p := New(DefaultConfig(), WithSleep(rec.sleep), WithLogger(testLogger()))
			orig := &domain.BackendError{StatusCode: code}

			attempts := 0
			err := p.Do(context.Background(), "getRow", func(context.Context) error {
				attempts++
				return orig
			})
			if attempts != 1 {
				t.Fatalf("expected a single attempt, got %d", attempts)
			}
			if err != orig {
				t.Fatalf("expected original error, got %v", err)
			}
			if len(rec.delays) != 0 {
				t.Fatalf("unexpected sleeps: %v", rec.delays)
			}
		})
	}
}

func TestDoExhaustion(t *testing.T) {
	rec := &sleepRecorder{}
	p := New(Config{MaxAttempts: 4, BaseDelay: time.Millisecond}, WithSleep(rec.sleep), WithBackend(domain.BackendWorkbook), WithLogger(testLogger()))

	attempts := 0
	err := p.Do(context.Background(), "appendRow", func(context.Context) error {
		attempts++
		return &domain.BackendError{Op: "appendRow", StatusCode: 429, Err: errors.New("throttled")}
	})
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}

	var be *domain.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T", err)
	}
	if be.StatusCode != 429 || !be.Retryable || be.Attempts != 4 || be.Backend != domain.BackendWorkbook {
		t.Fatalf("unexpected exhaustion error: %+v", be)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("exhausted error must report retryable")
	}
}

func TestDoExhaustionWrapsPlainNetworkError(t *testing.T) {
	p := New(Config{MaxAttempts: 2}, WithSleep((&sleepRecorder{}).sleep), WithLogger(testLogger()))
	netErr := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}

	err := p.Do(context.Background(), "ros.list", func(context.Context) error { return netErr })

	var be *domain.BackendError
	if !errors.As(err, &be) || be.StatusCode != 0 || be.Attempts != 2 {
		t.Fatalf("unexpected error: %#v", err)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("cause must stay reachable")
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{MaxAttempts: 5, BaseDelay: time.Hour}, WithLogger(testLogger()))

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "slow", func(context.Context) error {
			attempts++
			return &domain.BackendError{StatusCode: 503}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "408", err: &domain.BackendError{StatusCode: 408}, want: true},
		{name: "429", err: &domain.BackendError{StatusCode: 429}, want: true},
		{name: "500", err: &domain.BackendError{StatusCode: 500}, want: true},
		{name: "502", err: &domain.BackendError{StatusCode: 502}, want: true},
		{name: "503", err: &domain.BackendError{StatusCode: 503}, want: true},
		{name: "504", err: &domain.BackendError{StatusCode: 504}, want: true},
		{name: "400", err: &domain.BackendError{StatusCode: 400}, want: false},
		{name: "401", err: &domain.BackendError{StatusCode: 401}, want: false},
		{name: "403", err: &domain.BackendError{StatusCode: 403}, want: false},
		{name: "404", err: &domain.BackendError{StatusCode: 404}, want: false},
		{name: "session invalid", err: &domain.BackendError{StatusCode: 404, Err: domain.ErrSessionInvalid}, want: true},
		{name: "bare session invalid", err: fmt.Errorf("close: %w", domain.ErrSessionInvalid), want: true},
		{name: "url error", err: &url.Error{Op: "Get", URL: "http://x", Err: syscall.ECONNRESET}, want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "transport in backend error", err: &domain.BackendError{Err: io.ErrUnexpectedEOF}, want: true},
		{name: "canceled", err: &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, want: false},
		{name: "not found", err: domain.ErrRepairOrderNotFound, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

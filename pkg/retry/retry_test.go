package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

func TestRun_SucceedsAfterTransientFailures(t *testing.T) {
	exec := New(fastConfig(3))

	calls := 0
	result, err := Run(context.Background(), exec, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsOriginalErrorWhenExhausted(t *testing.T) {
	exec := New(fastConfig(3))

	original := errors.New("always fails")
	calls := 0
	err := exec.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return original
	})

	assert.Same(t, original, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	rejected := errors.New("rejected")
	exec := New(fastConfig(5), WithRetryable(func(err error) bool {
		return !errors.Is(err, rejected)
	}))

	calls := 0
	err := exec.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return rejected
	})

	assert.Same(t, rejected, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableOnLastAttempt(t *testing.T) {
	rejected := errors.New("rejected")
	exec := New(fastConfig(2), WithRetryable(func(err error) bool {
		return !errors.Is(err, rejected)
	}))

	calls := 0
	err := exec.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return rejected
	})

	assert.Same(t, rejected, err)
	assert.Equal(t, 2, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	exec := New(fastConfig(1))

	calls := 0
	err := exec.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.Same(t, errTransient, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	exec := New(Config{MaxAttempts: 5, InitialDelay: time.Hour, BackoffMultiplier: 2})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := exec.Do(ctx, "test", func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNew_Defaults(t *testing.T) {
	exec := New(Config{})
	cfg := exec.Config()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.GreaterOrEqual(t, cfg.MaxDelay, cfg.InitialDelay)
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		attempt int
		want    time.Duration
	}{
		{
			name:    "first retry uses base delay",
			config:  Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second},
			attempt: 1,
			want:    100 * time.Millisecond,
		},
		{
			name:    "second retry doubles",
			config:  Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second},
			attempt: 2,
			want:    200 * time.Millisecond,
		},
		{
			name:    "capped at max delay",
			config:  Config{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: 300 * time.Millisecond},
			attempt: 5,
			want:    300 * time.Millisecond,
		},
		{
			name:    "fixed delay",
			config:  Fixed(3, 50*time.Millisecond),
			attempt: 3,
			want:    50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.config).NextDelay(tt.attempt))
		})
	}
}

func TestBackOff_JitterWithinBounds(t *testing.T) {
	e := New(Config{
		MaxAttempts:       8,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	})

	for run := 0; run < 50; run++ {
		b := e.backOff()
		for attempt := 1; attempt < 8; attempt++ {
			nominal := float64(e.NextDelay(attempt))
			got := float64(b.NextBackOff())
			assert.GreaterOrEqual(t, got, nominal*0.8-1, "attempt %d", attempt)
			assert.LessOrEqual(t, got, nominal*1.2+1, "attempt %d", attempt)
		}
	}
}

func TestBackOff_NoJitter(t *testing.T) {
	e := New(Config{
		MaxAttempts:       4,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	})

	b := e.backOff()
	for attempt := 1; attempt < 4; attempt++ {
		assert.Equal(t, e.NextDelay(attempt), b.NextBackOff())
	}
}

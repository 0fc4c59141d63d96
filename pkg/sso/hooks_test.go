package sso

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

func TestHooks_RunInOrderAndIsolateFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	var calls []string
	hooks := NewHooks(logger,
		ObserverFuncs{OnLoginSucceeded: func(context.Context, LoginEvent) error {
			calls = append(calls, "first")
			return errors.New("first failed")
		}},
		ObserverFuncs{OnLoginSucceeded: func(context.Context, LoginEvent) error {
			calls = append(calls, "second")
			panic("second panicked")
		}},
		ObserverFuncs{OnLoginSucceeded: func(context.Context, LoginEvent) error {
			calls = append(calls, "third")
			return nil
		}},
	)

	assert.NotPanics(t, func() {
		hooks.LoginSucceeded(context.Background(), LoginEvent{})
	})
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Contains(t, buf.String(), "first failed")
	assert.Contains(t, buf.String(), "second panicked")
}

func TestHooks_NilSafe(t *testing.T) {
	var hooks *Hooks
	assert.NotPanics(t, func() {
		hooks.LoginFailed(context.Background(), LoginFailureEvent{})
		hooks.LogoutSucceeded(context.Background(), LogoutEvent{})
	})
}

func TestNewAttemptID(t *testing.T) {
	a, b := NewAttemptID(), NewAttemptID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestFailedAttemptTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewFailedAttemptTracker(observability.NewLogger(observability.InfoLevel, &buf))
	ctx := context.Background()

	for i := 0; i < failedAttemptThreshold-1; i++ {
		assert.NoError(t, tracker.LoginFailed(ctx, LoginFailureEvent{RemoteAddr: "10.0.0.1"}))
	}
	assert.Equal(t, failedAttemptThreshold-1, tracker.Count("10.0.0.1"))
	assert.NotContains(t, buf.String(), "Multiple failed SSO login attempts")

	assert.NoError(t, tracker.LoginFailed(ctx, LoginFailureEvent{RemoteAddr: "10.0.0.1"}))
	assert.Contains(t, buf.String(), "Multiple failed SSO login attempts")

	assert.NoError(t, tracker.LoginFailed(ctx, LoginFailureEvent{RemoteAddr: "10.0.0.2"}))
	assert.Equal(t, 1, tracker.Count("10.0.0.2"))
	assert.Zero(t, tracker.Count("10.0.0.3"))
}

func TestFailedAttemptTracker_FixedWindow(t *testing.T) {
	tracker := NewFailedAttemptTracker(nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	// failures spaced inside the window must not extend it
	for i := 0; i < 6; i++ {
		assert.NoError(t, tracker.LoginFailed(ctx, LoginFailureEvent{RemoteAddr: "10.0.0.1"}))
		now = now.Add(10 * time.Minute)
	}
	// last failure happened at 12:50; the window opened at 12:40
	now = now.Add(-10 * time.Minute)
	assert.Equal(t, 2, tracker.Count("10.0.0.1"))

	now = now.Add(failedAttemptWindow + time.Second)
	assert.Zero(t, tracker.Count("10.0.0.1"))

	assert.NoError(t, tracker.LoginFailed(ctx, LoginFailureEvent{RemoteAddr: "10.0.0.1"}))
	assert.Equal(t, 1, tracker.Count("10.0.0.1"))
}

func TestFailedAttemptTracker_Concurrent(t *testing.T) {
	tracker := NewFailedAttemptTracker(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.LoginFailed(ctx, LoginFailureEvent{RemoteAddr: "10.0.0.9"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.Count("10.0.0.9"))
}

func TestFailedAttemptTracker_IgnoresMissingAddress(t *testing.T) {
	tracker := NewFailedAttemptTracker(nil)
	assert.NoError(t, tracker.LoginFailed(context.Background(), LoginFailureEvent{}))
	assert.Zero(t, tracker.Count(""))
}

func TestMetricsObserver(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	o := NewMetricsObserver(metrics)
	ctx := context.Background()

	assert.NoError(t, o.LoginSucceeded(ctx, LoginEvent{}))
	assert.NoError(t, o.LoginFailed(ctx, LoginFailureEvent{Err: ssoerr.InvalidState()}))
	assert.NoError(t, o.LogoutSucceeded(ctx, LogoutEvent{IdPRevoked: true}))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues("success", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues("failure", "authentication")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LogoutsTotal.WithLabelValues("true")))
}

func TestLastLoginRecorder(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	user := &User{Email: "a@example.com"}
	assert.NoError(t, store.Create(ctx, user))

	assert.NoError(t, NewLastLoginRecorder(store).LoginSucceeded(ctx, LoginEvent{User: user, At: testNow}))
	stored := store.user(user.ID)
	if assert.NotNil(t, stored.LastLoginAt) {
		assert.Equal(t, testNow, *stored.LastLoginAt)
	}

	store.saveErr = errors.New("db down")
	assert.Error(t, NewLastLoginRecorder(store).LoginSucceeded(ctx, LoginEvent{User: user, At: testNow}))
}

package sso

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// LoginEvent describes a completed login
type LoginEvent struct {
	AttemptID  string
	User       *User
	Tokens     *TokenSet
	RemoteAddr string
	At         time.Time
}

// LoginFailureEvent describes a failed login
type LoginFailureEvent struct {
	AttemptID  string
	Phase      LoginPhase
	Err        *ssoerr.Error
	RemoteAddr string
	At         time.Time
}

// LogoutEvent describes a completed logout
type LogoutEvent struct {
	User       *User
	IdPRevoked bool
	At         time.Time
}

// Observer reacts to login and logout outcomes. Errors are logged and never
// change the outcome.
type Observer interface {
	LoginSucceeded(ctx context.Context, event LoginEvent) error
	LoginFailed(ctx context.Context, event LoginFailureEvent) error
	LogoutSucceeded(ctx context.Context, event LogoutEvent) error
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are no-ops.
type ObserverFuncs struct {
	OnLoginSucceeded  func(ctx context.Context, event LoginEvent) error
	OnLoginFailed     func(ctx context.Context, event LoginFailureEvent) error
	OnLogoutSucceeded func(ctx context.Context, event LogoutEvent) error
}

func (f ObserverFuncs) LoginSucceeded(ctx context.Context, event LoginEvent) error {
	if f.OnLoginSucceeded == nil {
		return nil
	}
	return f.OnLoginSucceeded(ctx, event)
}

func (f ObserverFuncs) LoginFailed(ctx context.Context, event LoginFailureEvent) error {
	if f.OnLoginFailed == nil {
		return nil
	}
	return f.OnLoginFailed(ctx, event)
}

func (f ObserverFuncs) LogoutSucceeded(ctx context.Context, event LogoutEvent) error {
	if f.OnLogoutSucceeded == nil {
		return nil
	}
	return f.OnLogoutSucceeded(ctx, event)
}

// Hooks runs observers synchronously in registration order.
type Hooks struct {
	observers []Observer
	logger    *observability.Logger
}

// NewHooks creates a hook runner.
func NewHooks(logger *observability.Logger, observers ...Observer) *Hooks {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Hooks{observers: observers, logger: logger}
}

// Register appends an observer. It is not safe to call concurrently with dispatch.
func (h *Hooks) Register(o Observer) {
	h.observers = append(h.observers, o)
}

// NewAttemptID returns an id correlating the log lines of one login attempt.
func NewAttemptID() string {
	return uuid.NewString()
}

func (h *Hooks) LoginSucceeded(ctx context.Context, event LoginEvent) {
	h.dispatch("login_succeeded", func(o Observer) error { return o.LoginSucceeded(ctx, event) })
}

func (h *Hooks) LoginFailed(ctx context.Context, event LoginFailureEvent) {
	h.dispatch("login_failed", func(o Observer) error { return o.LoginFailed(ctx, event) })
}

func (h *Hooks) LogoutSucceeded(ctx context.Context, event LogoutEvent) {
	h.dispatch("logout_succeeded", func(o Observer) error { return o.LogoutSucceeded(ctx, event) })
}

func (h *Hooks) dispatch(hook string, call func(Observer) error) {
	if h == nil {
		return
	}
	for i, o := range h.observers {
		if err := h.safeCall(o, call); err != nil {
			h.logger.WithError(err).WithFields(map[string]interface{}{
				"hook":     hook,
				"observer": i,
			}).Error("Observer failed")
		}
	}
}

func (h *Hooks) safeCall(o Observer, call func(Observer) error) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return call(o)
}

// LastLoginRecorder stores the login time on the user.
type LastLoginRecorder struct {
	users UserStore
}

// NewLastLoginRecorder creates the observer.
func NewLastLoginRecorder(users UserStore) *LastLoginRecorder {
	return &LastLoginRecorder{users: users}
}

func (r *LastLoginRecorder) LoginSucceeded(ctx context.Context, event LoginEvent) error {
	if event.User == nil {
		return nil
	}
	at := event.At
	event.User.LastLoginAt = &at
	if err := r.users.Save(ctx, event.User); err != nil {
		return fmt.Errorf("failed to record last login: %w", err)
	}
	return nil
}

func (r *LastLoginRecorder) LoginFailed(context.Context, LoginFailureEvent) error { return nil }

func (r *LastLoginRecorder) LogoutSucceeded(context.Context, LogoutEvent) error { return nil }

const (
	failedAttemptWindow    = 15 * time.Minute
	failedAttemptThreshold = 5
)

// FailedAttemptTracker counts failed logins per remote address. The window is
// fixed: it opens at the first failure and the count restarts once it closes.
type FailedAttemptTracker struct {
	mu        sync.Mutex
	attempts  *expirable.LRU[string, failedAttempts]
	window    time.Duration
	threshold int
	logger    *observability.Logger
	now       func() time.Time
}

type failedAttempts struct {
	count   int
	started time.Time
}

// NewFailedAttemptTracker creates a tracker with the default window and threshold.
func NewFailedAttemptTracker(logger *observability.Logger) *FailedAttemptTracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FailedAttemptTracker{
		attempts:  expirable.NewLRU[string, failedAttempts](10000, nil, failedAttemptWindow),
		window:    failedAttemptWindow,
		threshold: failedAttemptThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Count returns the failures recorded for addr within the current window.
func (t *FailedAttemptTracker) Count(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.attempts.Peek(addr)
	if !ok || t.now().Sub(entry.started) > t.window {
		return 0
	}
	return entry.count
}

func (t *FailedAttemptTracker) LoginSucceeded(context.Context, LoginEvent) error { return nil }

func (t *FailedAttemptTracker) LoginFailed(_ context.Context, event LoginFailureEvent) error {
	if event.RemoteAddr == "" {
		return nil
	}

	t.mu.Lock()
	now := t.now()
	entry, ok := t.attempts.Peek(event.RemoteAddr)
	if !ok || now.Sub(entry.started) > t.window {
		entry = failedAttempts{started: now}
	}
	entry.count++
	t.attempts.Add(event.RemoteAddr, entry)
	t.mu.Unlock()

	if entry.count >= t.threshold {
		t.logger.WithFields(map[string]interface{}{
			"remote_addr": event.RemoteAddr,
			"attempts":    entry.count,
			"window":      t.window.String(),
		}).Warn("Multiple failed SSO login attempts")
	}
	return nil
}

func (t *FailedAttemptTracker) LogoutSucceeded(context.Context, LogoutEvent) error { return nil }

// MetricsObserver records login and logout counters.
type MetricsObserver struct {
	metrics *observability.Metrics
}

// NewMetricsObserver creates the observer.
func NewMetricsObserver(metrics *observability.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

func (m *MetricsObserver) LoginSucceeded(context.Context, LoginEvent) error {
	m.metrics.RecordLogin("success", "")
	return nil
}

func (m *MetricsObserver) LoginFailed(_ context.Context, event LoginFailureEvent) error {
	kind := string(ssoerr.KindUnknown)
	if event.Err != nil {
		kind = string(event.Err.Kind)
	}
	m.metrics.RecordLogin("failure", kind)
	return nil
}

func (m *MetricsObserver) LogoutSucceeded(_ context.Context, event LogoutEvent) error {
	m.metrics.RecordLogout(event.IdPRevoked)
	return nil
}

var (
	_ Observer = ObserverFuncs{}
	_ Observer = (*LastLoginRecorder)(nil)
	_ Observer = (*FailedAttemptTracker)(nil)
	_ Observer = (*MetricsObserver)(nil)
)


package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/ssobridge/pkg/observability"
)

// TokenSweeper periodically clears refresh tokens whose access token expired.
type TokenSweeper struct {
	store    ExpiredTokenStore
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewTokenSweeper creates a sweeper. An empty schedule defaults to every 15 minutes.
func NewTokenSweeper(store ExpiredTokenStore, schedule string, logger *observability.Logger, metrics *observability.Metrics) *TokenSweeper {
	if schedule == "" {
		schedule = "@every 15m"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TokenSweeper{
		store:    store,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// RunOnce clears tokens that expired before now.
func (s *TokenSweeper) RunOnce(ctx context.Context) (int64, error) {
	cleared, err := s.store.ClearExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired tokens: %w", err)
	}
	s.metrics.RecordSwept(cleared)
	if cleared > 0 {
		s.logger.WithField("cleared", cleared).Info("Cleared expired SSO tokens")
	}
	return cleared, nil
}

// Start schedules the sweep. It returns an error for an invalid schedule.
func (s *TokenSweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		defer observability.RecoverPanic(s.logger, "token sweep")

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("Token sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.WithField("schedule", s.schedule).Info("Token sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *TokenSweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

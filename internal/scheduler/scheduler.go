// Package scheduler keeps issued tokens warm and surfaces actionable alerts.
// It never fabricates a token on its own: full renewal always requires a
// human-entered verifier, so all it can do is keep-alive calls and noise
// discipline around the states the lifecycle manager reports.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finchsec/tokenward/internal/lifecycle"
	"github.com/finchsec/tokenward/internal/notify"
)

// Defaults per the renewal design: ticks land comfortably inside the idle
// threshold, the daily check runs an hour before market open.
const (
	DefaultTickInterval = 80 * time.Minute
	DefaultDailyCheckAt = "08:30"
)

// Config holds scheduler timing.
type Config struct {
	// TickInterval is the keep-alive loop period per environment.
	TickInterval time.Duration

	// DailyCheckAt is the broker-local wall-clock time ("HH:MM") of the
	// once-daily proactive check.
	DailyCheckAt string
}

func (c *Config) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.DailyCheckAt == "" {
		c.DailyCheckAt = DefaultDailyCheckAt
	}
}

// Scheduler runs one cancellable keep-alive loop per environment plus the
// daily proactive check. All dedup state lives in the shared durable store so
// concurrent replicas do not double-alert.
type Scheduler struct {
	manager  *lifecycle.Manager
	notifier notify.Notifier
	cfg      Config

	dailyHour   int
	dailyMinute int

	// now is injectable for deterministic dedup-date tests.
	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(manager *lifecycle.Manager, notifier notify.Notifier, cfg Config, opts ...Option) (*Scheduler, error) {
	if manager == nil {
		return nil, fmt.Errorf("missing lifecycle manager")
	}
	if notifier == nil {
		return nil, fmt.Errorf("missing notifier")
	}
	cfg.applyDefaults()

	var hour, minute int
	if _, err := fmt.Sscanf(cfg.DailyCheckAt, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid daily check time %q: %w", cfg.DailyCheckAt, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid daily check time %q", cfg.DailyCheckAt)
	}

	s := &Scheduler{
		manager:     manager,
		notifier:    notifier,
		cfg:         cfg,
		dailyHour:   hour,
		dailyMinute: minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts all loops and blocks until ctx is done. Each loop finishes or
// skips its in-flight tick cleanly on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for _, env := range s.manager.Environments() {
		g.Go(func() error {
			s.keepAliveLoop(gCtx, env)
			return nil
		})
	}
	g.Go(func() error {
		s.dailyCheckLoop(gCtx)
		return nil
	})

	return g.Wait()
}

func (s *Scheduler) keepAliveLoop(ctx context.Context, env lifecycle.Environment) {
	slog.InfoContext(ctx, "keep-alive loop started",
		"environment", env, "interval", s.cfg.TickInterval)

	// Evaluate once at startup so a replica booted mid-day doesn't wait a
	// full interval before noticing an expired token.
	s.tick(ctx, env)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "keep-alive loop stopped", "environment", env)
			return
		case <-ticker.C:
			s.tick(ctx, env)
		}
	}
}

// tick evaluates one environment once. A failed tick logs and waits for the
// next one; it is never upgraded to a hard alert on its own.
func (s *Scheduler) tick(ctx context.Context, env lifecycle.Environment) {
	switch state := s.manager.Status(ctx, env); state {
	case lifecycle.StateAccessTokenActive:
		// Warm and recently used.

	case lifecycle.StateIdleWarn:
		ok, err := s.manager.ValidateLive(ctx, env)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "keep-alive call failed, waiting for next tick",
				"environment", env, "error", err)
		case !ok:
			// Time-valid but rejected upstream: the token is gone and a
			// human has to renew, same as expiry.
			s.alertOnce(ctx, env, string(env)+"-expired-alert",
				fmt.Sprintf("%s token was revoked upstream; renewal required", env))
		default:
			s.notify(ctx, notify.SeverityLow, env,
				fmt.Sprintf("%s token was idle; keep-alive issued", env))
		}

	case lifecycle.StateExpired:
		s.alertOnce(ctx, env, string(env)+"-expired-alert",
			fmt.Sprintf("%s token expired at local midnight; renewal required", env))

	case lifecycle.StateError:
		s.alertOnce(ctx, env, string(env)+"-error-alert",
			fmt.Sprintf("%s handshake failed upstream; operator must restart authorization", env))

	case lifecycle.StateRequestTokenIssued:
		// Waiting on the human PIN; nothing to do from here.

	case lifecycle.StateNoCredentials:
		slog.DebugContext(ctx, "no credentials configured, skipping", "environment", env)
	}
}

// alertOnce emits a high-severity event at most once per (marker, local
// date). The marker lives in the durable store, so 50 ticks in a day — or a
// second replica — produce one alert.
func (s *Scheduler) alertOnce(ctx context.Context, env lifecycle.Environment, marker, message string) {
	today := s.localDate()

	last, err := s.manager.Tracker().Marker(ctx, marker)
	if err != nil {
		slog.WarnContext(ctx, "reading alert dedup marker", "marker", marker, "error", err)
		return
	}
	if last == today {
		return
	}

	if err := s.notify(ctx, notify.SeverityHigh, env, message); err != nil {
		// Marker stays unset so the next tick retries the alert.
		return
	}
	if err := s.manager.Tracker().SetMarker(ctx, marker, today); err != nil {
		slog.WarnContext(ctx, "persisting alert dedup marker", "marker", marker, "error", err)
	}
}

func (s *Scheduler) dailyCheckLoop(ctx context.Context) {
	slog.InfoContext(ctx, "daily check loop started",
		"at", fmt.Sprintf("%02d:%02d", s.dailyHour, s.dailyMinute),
		"timezone", s.manager.Timezone().String())

	for {
		timer := time.NewTimer(s.nextDailyCheck().Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.InfoContext(ctx, "daily check loop stopped")
			return
		case <-timer.C:
			s.runDailyCheck(ctx)
		}
	}
}

// nextDailyCheck returns the next occurrence of the configured wall-clock
// time in the broker timezone.
func (s *Scheduler) nextDailyCheck() time.Time {
	loc := s.manager.Timezone()
	local := s.now().In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.dailyHour, s.dailyMinute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runDailyCheck evaluates every environment and emits one consolidated
// status event. The dedup key is the calendar date alone, persisted in the
// shared store, so a replica started later the same day does not re-fire.
func (s *Scheduler) runDailyCheck(ctx context.Context) {
	today := s.localDate()

	last, err := s.manager.Tracker().Marker(ctx, "daily-check")
	if err != nil {
		slog.WarnContext(ctx, "reading daily check marker", "error", err)
		return
	}
	if last == today {
		return
	}

	var parts []string
	for _, env := range s.manager.Environments() {
		parts = append(parts, fmt.Sprintf("%s=%s", env, s.manager.Status(ctx, env)))
	}
	message := "daily token status: " + strings.Join(parts, " ")

	if err := s.notify(ctx, notify.SeverityMedium, "", message); err != nil {
		return
	}
	if err := s.manager.Tracker().SetMarker(ctx, "daily-check", today); err != nil {
		slog.WarnContext(ctx, "persisting daily check marker", "error", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, severity notify.Severity, env lifecycle.Environment, message string) error {
	if err := s.notifier.Notify(ctx, severity, env, message); err != nil {
		slog.WarnContext(ctx, "notification delivery failed",
			"severity", string(severity), "environment", env, "error", err)
		return err
	}
	return nil
}

func (s *Scheduler) localDate() string {
	return s.now().In(s.manager.Timezone()).Format("2006-01-02")
}

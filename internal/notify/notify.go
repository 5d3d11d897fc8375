// Package notify defines the alert sink the renewal scheduler emits into.
// Delivery mechanics (Telegram, chat, pager) live outside this repository;
// the core only depends on the interface.
package notify

import (
	"context"
	"log/slog"

	"github.com/finchsec/tokenward/internal/lifecycle"
)

// Severity grades an event for routing by the delivery layer.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Notifier delivers one event about one environment. Implementations must be
// safe for concurrent use; errors are the caller's to log, not to retry.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, env lifecycle.Environment, message string) error
}

// LogNotifier is the default sink: events land in the structured log at a
// level matching their severity.
type LogNotifier struct {
	logger *slog.Logger
}

// Compile-time check to ensure LogNotifier implements Notifier
var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event. Never fails.
func (n *LogNotifier) Notify(ctx context.Context, severity Severity, env lifecycle.Environment, message string) error {
	level := slog.LevelInfo
	if severity == SeverityHigh {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, message, "severity", string(severity), "environment", string(env))
	return nil
}

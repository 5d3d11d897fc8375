// Package observability wires process-wide logging through the OpenTelemetry
// log pipeline: slog records cross the otelslog bridge into a LoggerProvider
// whose exporter writes to stderr, or to an OTLP endpoint when one is set via
// the standard OTEL_EXPORTER_OTLP_* variables. Alert delivery is a separate
// concern (see notify).
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const loggerName = "github.com/finchsec/tokenward"

// Instrument installs the process-wide default logger. Records below level
// are dropped before they reach the exporter. Format is "text" or "json" and
// only affects the stderr exporter; OTLP output is always protobuf.
func Instrument(level slog.Level, format string) error {
	processor, err := newProcessor(context.Background(), format)
	if err != nil {
		return fmt.Errorf("failed to create log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)

	global.SetLoggerProvider(provider)
	slog.SetDefault(otelslog.NewLogger(loggerName, otelslog.WithLoggerProvider(provider)))
	return nil
}

// newProcessor prefers an OTLP endpoint when one is configured and falls back
// to stderr otherwise. OTLP export is batched; stderr is written through
// synchronously so nothing is lost on process exit.
func newProcessor(ctx context.Context, format string) (sdklog.Processor, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT") != "" {
		exporter, err := newOTLPExporter(ctx)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exporter), nil
	}

	var opts []stdoutlog.Option
	switch format {
	case "text":
		opts = append(opts, stdoutlog.WithPrettyPrint())
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	exporter, err := stdoutlog.New(append(opts, stdoutlog.WithWriter(os.Stderr))...)
	if err != nil {
		return nil, err
	}
	return sdklog.NewSimpleProcessor(exporter), nil
}

func newOTLPExporter(ctx context.Context) (sdklog.Exporter, error) {
	protocol := os.Getenv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL")
	if protocol == "" {
		protocol = os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
	}
	if strings.HasPrefix(protocol, "grpc") {
		return otlploggrpc.New(ctx)
	}
	return otlploghttp.New(ctx)
}

// severity maps the configured slog threshold onto the processor's gate.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/finchsec/tokenward/internal/lifecycle"
	"github.com/finchsec/tokenward/internal/notify"
	"github.com/finchsec/tokenward/internal/scheduler"
	"github.com/finchsec/tokenward/internal/server"
)

// App orchestrates the lifecycle of the operator server and the renewal
// scheduler.
type App struct {
	cfg       *Config
	server    *server.Server
	scheduler *scheduler.Scheduler
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	manager, err := BuildManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle manager: %w", err)
	}

	operatorServer, err := server.New(manager)
	if err != nil {
		return nil, fmt.Errorf("failed to create operator server: %w", err)
	}

	a := &App{
		cfg:    cfg,
		server: operatorServer,
	}

	if !cfg.Scheduler.Disabled {
		sched, err := scheduler.New(manager, notify.NewLogNotifier(nil), scheduler.Config{
			TickInterval: cfg.Scheduler.TickInterval,
			DailyCheckAt: cfg.Scheduler.DailyCheckAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		a.scheduler = sched
	}

	return a, nil
}

// BuildManager constructs the lifecycle manager from configuration. Shared by
// the serve path and the one-shot operator commands, which need the manager
// without the server around it.
func BuildManager(cfg *Config) (*lifecycle.Manager, error) {
	store, err := cfg.Storage.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	tracker, err := lifecycle.NewTracker(store, lifecycle.DefaultNaming())
	if err != nil {
		return nil, err
	}

	var creds []lifecycle.Credentials
	baseURLs := make(map[lifecycle.Environment]string)
	for name, envCfg := range cfg.Environments {
		if envCfg.ConsumerKey == "" {
			continue
		}
		env, err := lifecycle.ParseEnvironment(name)
		if err != nil {
			return nil, err
		}
		creds = append(creds, lifecycle.Credentials{
			Environment:    env,
			ConsumerKey:    envCfg.ConsumerKey,
			ConsumerSecret: envCfg.ConsumerSecret,
		})
		baseURLs[env] = envCfg.BaseURL
	}

	return lifecycle.NewManager(creds, tracker, lifecycle.BrokerConfig{
		BaseURLs:         baseURLs,
		AuthorizeURL:     cfg.Broker.AuthorizeURL,
		RequestTokenPath: cfg.Broker.RequestTokenPath,
		AccessTokenPath:  cfg.Broker.AccessTokenPath,
		KeepAlivePath:    cfg.Broker.KeepAlivePath,
		Timezone:         cfg.Broker.Timezone,
	},
		lifecycle.WithIdleThreshold(cfg.Scheduler.IdleThreshold),
		lifecycle.WithRequestTokenTTL(cfg.Scheduler.RequestTokenTTL),
	)
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection
// for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting operator server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("operator server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "operator server runtime error", "error", err)
				return fmt.Errorf("operator server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if a.scheduler != nil {
		slog.InfoContext(gCtx, "starting renewal scheduler")
		g.Go(func() error {
			return a.scheduler.Run(gCtx)
		})
	}

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

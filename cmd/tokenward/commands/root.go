package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/finchsec/tokenward/internal/app"
	"github.com/finchsec/tokenward/internal/lifecycle"
	"github.com/finchsec/tokenward/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "tokenward",
		Usage: "Brokerage OAuth token lifecycle keeper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			startCommand(),
			verifyCommand(),
			statusCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the operator API server and the renewal scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	err = observability.Instrument(cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "env",
		Usage:    "target environment (prod|sandbox)",
		Required: true,
	}
}

// buildManager loads config and constructs the lifecycle manager for the
// one-shot operator commands.
func buildManager(cmd *cli.Command) (*lifecycle.Manager, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	return app.BuildManager(cfg)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "request a new OAuth token and print the authorize URL",
		Flags: []cli.Flag{envFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := lifecycle.ParseEnvironment(cmd.String("env"))
			if err != nil {
				return err
			}
			manager, err := buildManager(cmd)
			if err != nil {
				return err
			}

			result, err := manager.StartFlow(ctx, env)
			if err != nil {
				return err
			}

			fmt.Printf("Authorize in the browser, then run verify with the PIN:\n\n")
			fmt.Printf("  %s\n\n", result.AuthorizeURL)
			fmt.Printf("  tokenward verify --env %s --request-token %s --request-secret %s --pin <PIN>\n",
				env, result.RequestToken, result.RequestSecret)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "complete the handshake with the human-entered PIN",
		Flags: []cli.Flag{
			envFlag(),
			&cli.StringFlag{Name: "request-token", Usage: "request token from start", Required: true},
			&cli.StringFlag{Name: "request-secret", Usage: "request secret from start", Required: true},
			&cli.StringFlag{Name: "pin", Usage: "verifier PIN from the authorize page", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := lifecycle.ParseEnvironment(cmd.String("env"))
			if err != nil {
				return err
			}
			manager, err := buildManager(cmd)
			if err != nil {
				return err
			}

			rec, err := manager.CompleteFlow(ctx, env,
				cmd.String("request-token"), cmd.String("request-secret"), cmd.String("pin"))
			if err != nil {
				return err
			}

			fmt.Printf("%s: access token issued at %s\n", env, rec.IssuedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print per-environment credential state",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "limit to one environment (prod|sandbox)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			manager, err := buildManager(cmd)
			if err != nil {
				return err
			}

			envs := manager.Environments()
			if name := cmd.String("env"); name != "" {
				env, err := lifecycle.ParseEnvironment(name)
				if err != nil {
					return err
				}
				envs = []lifecycle.Environment{env}
			}

			for _, env := range envs {
				fmt.Printf("%-8s %s\n", env, manager.Status(ctx, env))
			}
			return nil
		},
	}
}

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/implicitauth/internal/config"
	"github.com/florianilch/implicitauth/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	var shutdown observability.ShutdownFunc

	cmd := &cli.Command{
		Name:    "implicitauth",
		Usage:   "Sign in and acquire tokens with the OAuth2 implicit flow",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "additional OpenTelemetry log exporter (otel-stdout|otlp-http|otlp-grpc)",
			},
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "application (client) id registered with the identity provider",
			},
			&cli.StringFlag{
				Name:  "tenant",
				Usage: "tenant to sign in to",
			},
			&cli.StringFlag{
				Name:  "cache-location",
				Usage: "where to keep tokens (session|local)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			var err error
			shutdown, err = setupObservability(ctx, cmd)
			return ctx, err
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if shutdown == nil {
				return nil
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			tokenCommand(),
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func setupObservability(ctx context.Context, cmd *cli.Command) (observability.ShutdownFunc, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return nil, err
	}

	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    level,
		Format:   cmd.String("log-format"),
		Exporter: cmd.String("log-exporter"),
		Output:   os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	return shutdown, nil
}

// loadConfig resolves the configuration for cmd. Root flags that were set
// explicitly win over the file and the environment.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := map[string]any{}
	for flag, key := range map[string]string{
		"client-id":      "client_id",
		"tenant":         "tenant",
		"cache-location": "cache_location",
	} {
		if cmd.IsSet(flag) {
			overrides[key] = cmd.String(flag)
		}
	}

	cfg, err := config.Load(cmd.String("config"), overrides, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

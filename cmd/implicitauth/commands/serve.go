package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the callback server until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen address of the callback server",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := cmd.String("address"); addr != "" {
		cfg.Server.Address = addr
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	application, err := newAppFromConfig(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	slog.InfoContext(ctx, "starting")
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("callback server failed: %w", err)
	}
	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// Command implicitauth signs users in with the OAuth2 implicit flow and hands
// out access tokens for configured resources.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/florianilch/implicitauth/cmd/implicitauth/commands"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code. Interrupts cancel the command context,
// which aborts a pending login or renewal and shuts the callback server down.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args, version, commit); err != nil {
		slog.ErrorContext(ctx, "implicitauth failed", "error", err)
		return 1
	}
	return 0
}

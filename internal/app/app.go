// Package app wires configuration, the authentication context and the
// callback server into runnable commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/implicitauth/internal/authcontext"
	"github.com/florianilch/implicitauth/internal/authorize"
	"github.com/florianilch/implicitauth/internal/callbackserver"
	"github.com/florianilch/implicitauth/internal/config"
)

// App owns the lifecycle of the authentication context and its callback server.
type App struct {
	cfg    config.Config
	auth   *authcontext.Context
	server *callbackserver.Server
	health *Health

	loginDone chan error
}

// New creates an App for cfg. Without a configured redirect URI the callback
// server's own address is used; without a server address, DefaultServerAddress.
func New(cfg *config.Config, opts ...authcontext.Option) (*App, error) {
	withServer := *cfg
	if withServer.Server.Address == "" {
		withServer.Server.Address = config.DefaultServerAddress
	}
	location := "http://" + withServer.Server.Address + callbackserver.CallbackPath

	auth, err := authcontext.New(&withServer, append([]authcontext.Option{authcontext.WithLocation(location)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create authentication context: %w", err)
	}

	a := &App{
		cfg:       auth.Config(),
		auth:      auth,
		health:    NewHealth(),
		loginDone: make(chan error, 1),
	}
	a.server = callbackserver.New(a, a.health)
	return a, nil
}

// Auth returns the authentication context.
func (a *App) Auth() *authcontext.Context {
	return a.auth
}

// HandleCallback forwards a redirect to the authentication context and
// signals a waiting Login once the login response has been processed.
func (a *App) HandleCallback(ctx context.Context, resp *authorize.Response) (authcontext.RequestType, error) {
	requestType, err := a.auth.HandleCallback(ctx, resp)
	if requestType == authcontext.RequestLogin {
		select {
		case a.loginDone <- err:
		default:
		}
	}
	return requestType, err
}

// Start serves callbacks until ctx is canceled.
func (a *App) Start(ctx context.Context) error {
	return a.run(ctx, nil)
}

// Login runs an interactive login and blocks until the browser delivers the
// response or ctx is canceled.
func (a *App) Login(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context) error {
		if _, err := a.auth.Login(ctx, ""); err != nil {
			return err
		}

		select {
		case err := <-a.loginDone:
			return err
		case <-ctx.Done():
			a.auth.CancelLogin()
			return ctx.Err()
		}
	})
}

// Close releases the authentication context.
func (a *App) Close() {
	a.auth.Close()
}

// run starts the callback server, runs task if given, and shuts everything
// down once task returns, the server fails, or ctx is canceled.
func (a *App) run(ctx context.Context, task func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	var shutdownFuncs []func(context.Context) error

	slog.InfoContext(gCtx, "starting callback server")
	serverErrCh, err := a.server.Start(gCtx, a.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("callback server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)
	a.health.SetReady(true)

	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "callback server runtime error", "error", err)
				return fmt.Errorf("callback server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if task != nil {
		g.Go(func() error {
			defer cancel()
			return task(gCtx)
		})
	}

	runtimeErr := g.Wait()
	a.health.SetReady(false)

	slog.InfoContext(ctx, "shutting down services")

	shutdownTimeout := a.cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if runtimeErr != nil && !errors.Is(runtimeErr, context.Canceled) {
		errs = append(errs, runtimeErr)
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

	slog.DebugContext(ctx, "services stopped")
	return nil
}

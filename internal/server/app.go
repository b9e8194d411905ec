// Package server initializes and runs the connector server. It opens the
// catalog, loads the vault and token registry, wires the tool dispatcher
// behind the HTTP endpoint, and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datasite/connector/internal/cryptox"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/privacy"
	"github.com/datasite/connector/internal/server/access"
	"github.com/datasite/connector/internal/server/config"
	"github.com/datasite/connector/internal/server/dispatcher"
	"github.com/datasite/connector/internal/server/httpapi"
	"github.com/datasite/connector/internal/server/storage"
	"github.com/datasite/connector/internal/server/vault"
)

// maintenanceInterval is how often expired tokens and old audit entries
// are swept.
const maintenanceInterval = 10 * time.Minute

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   *storage.Store
	vault   *vault.Vault
	access  *access.Service
	handler http.Handler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	engine, err := cryptox.NewEngine(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("crypto init error: %w", err)
	}

	store, err := storage.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	priv := privacy.NewEngine(c.PrivacyEnabled, c.PrivacyDefaultEpsilon, c.PrivacyTotalBudget)

	v := vault.New(engine, priv, store, logger)
	if err := v.Load(ctx); err != nil {
		return nil, fmt.Errorf("vault load error: %w", err)
	}

	a := access.NewService([]byte(c.SecretKey), c.TokenValidityDuration,
		c.RateLimitMaxRequests, c.RateLimitWindow, store, logger)
	if err := a.Load(ctx); err != nil {
		return nil, fmt.Errorf("token registry load error: %w", err)
	}

	d := dispatcher.New(v, a, logger)

	return &App{
		config:  c,
		logger:  logger,
		store:   store,
		vault:   v,
		access:  a,
		handler: httpapi.NewRouter(d, v, a, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runMaintenance periodically removes expired tokens from the registry and
// prunes audit entries past the retention horizon.
func (app *App) runMaintenance(ctx context.Context) error {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := app.access.SweepExpired(ctx, time.Now()); err != nil {
				app.logger.Error(ctx, "token sweep failed", "error", err)
			} else if n > 0 {
				app.logger.Info(ctx, "expired tokens removed", "count", n)
			}

			cutoff := time.Now().Add(-app.config.AuditRetention)
			if n, err := app.store.PruneAudit(ctx, cutoff); err != nil {
				app.logger.Error(ctx, "audit prune failed", "error", err)
			} else if n > 0 {
				app.logger.Info(ctx, "audit entries pruned", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:              app.config.EndpointAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return app.runMaintenance(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if closeErr := app.store.Close(); closeErr != nil {
		app.logger.Error(ctx, "closing catalog failed", "error", closeErr)
	}

	app.logger.Info(ctx, "server stopped")
	return err
}

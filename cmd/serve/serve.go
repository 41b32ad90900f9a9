// Package serve implements the HTTP server command.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/cora-robotics/cora-server/internal/api/auth"
	apiv2 "github.com/cora-robotics/cora-server/internal/api/v2"
	"github.com/cora-robotics/cora-server/internal/conf"
	"github.com/cora-robotics/cora-server/internal/datastore"
	"github.com/cora-robotics/cora-server/internal/logging"
	"github.com/cora-robotics/cora-server/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// Command returns the serve subcommand.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the detection ingestion and query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(conf.Setting())
		},
	}
}

func runServer(settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error("Failed to close datastore", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	authService := auth.NewJWTService(settings)
	controller, err := apiv2.New(e, store, settings, authService, metrics)
	if err != nil {
		return fmt.Errorf("initializing API: %w", err)
	}
	defer controller.Shutdown()

	// serve until interrupted
	errChan := make(chan error, 1)
	go func() {
		addr := ":" + settings.WebServer.Port
		logging.Info("Starting HTTP server",
			"addr", addr,
			"auth_enabled", settings.Auth.Enabled,
			"instance", settings.Main.Name)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-quit:
		logging.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

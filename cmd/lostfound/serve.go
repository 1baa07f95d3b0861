package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/lostfound/internal/api"
	"github.com/erazemk/lostfound/internal/central"
	"github.com/erazemk/lostfound/internal/monitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringP("addr", "a", ":8080", "listen address")
	serveCmd.Flags().String("name", "lostfound", "server name reported by the health check")
	v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	v.BindPFlag("server.name", serveCmd.Flags().Lookup("name"))
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl, err := central.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		slog.Info("closing database")
		ctl.Close()
	}()

	mon, err := monitor.New(ctl, ctl.Revoker, cfg.Monitor.PeerSchedule, cfg.Monitor.PurgeSchedule)
	if err != nil {
		return err
	}
	mon.Start()

	router := api.NewRouter(api.Deps{
		DB:             ctl.DB,
		JWTSecret:      ctl.JWTSecret,
		Revoker:        ctl.Revoker,
		Health:         ctl,
		ServerName:     ctl.Name(),
		CookieSecure:   cfg.Auth.CookieSecure,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		mon.Stop(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "name", ctl.Name(), "addr", cfg.Server.Addr, "peers", ctl.PeerNames())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	slog.Info("server stopped")
	return nil
}

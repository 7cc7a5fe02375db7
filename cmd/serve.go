package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/server"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the ttsrec web server to control recording over HTTP.
This allows you to drive recording sessions from a script, a phone or any
device on the same network. Prometheus metrics are served on /metrics
unless disabled in the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := service.Options{}
		var gatherer prometheus.Gatherer
		if cfg.Metrics.Enabled {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			opts.Registerer = reg
			gatherer = reg
		}

		svc, err := service.New(cfg, opts)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		slog.Info("ttsrec web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		// Start server (this blocks until interrupted)
		srvErr := server.New(svc, port, gatherer).Start(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Close(shutdownCtx); err != nil {
			slog.Warn("Service shutdown failed", "error", err)
		}

		if srvErr != nil {
			return fmt.Errorf("server failed: %w", srvErr)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (default from config, 8080)")
}

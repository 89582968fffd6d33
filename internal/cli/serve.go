package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"agentcore/internal/config"
	"agentcore/internal/cron"
	"agentcore/internal/server"
)

const shutdownGrace = 30 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentcore server",
		Long: `Start the HTTP server that provides:
- a JSON API for sessions, approvals, processes and checkpoints
- a WebSocket event stream with chat and approval responses
- prometheus metrics on /metrics and a health probe on /healthz

The server listens on the configured host and port (default: 127.0.0.1:7420).`,
		Example: `  # Start server with default configuration
  agentcore serve

  # Start server on another port
  agentcore serve --port 8080`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")
	cmd.Flags().StringP("workdir", "w", "", "working directory for tools (default: current directory)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}
	cfg := cliCtx.Config

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	workDir, _ := cmd.Flags().GetString("workdir")

	db, err := cliCtx.GetStorage()
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	app, err := NewApp(cfg, db, AppOptions{WorkDir: workDir})
	if err != nil {
		return err
	}

	sched := cron.NewScheduler(time.Minute)
	if err := sched.AddJob(cron.PruneJobName, cfg.Storage.PruneSchedule, cron.PruneJob(db, cfg.Storage.PruneAfter)); err != nil {
		return fmt.Errorf("schedule checkpoint pruning: %w", err)
	}
	sched.Start()

	config.Watch(app.Reload)

	srv := server.New(server.Options{
		Config:      cfg.Server,
		Version:     Version,
		Sessions:    app.Orchestrator,
		Approvals:   app.Gate,
		Processes:   app.Processes,
		Checkpoints: db,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("address", "http://"+cfg.Server.Addr()).
		Str("storage", cliCtx.StoragePath).
		Msg("Server starting")

	serveErr := srv.Start(ctx)
	if serveErr != nil {
		log.Error().Err(serveErr).Msg("Server error")
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Scheduler did not stop in time")
	}
	if err := app.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		if serveErr == nil {
			serveErr = err
		}
	}

	log.Info().Msg("Server stopped")
	return serveErr
}

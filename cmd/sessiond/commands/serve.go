package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/sessiond/internal/config"
	"github.com/opencode-ai/sessiond/internal/daemon"
	"github.com/opencode-ai/sessiond/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sessiond daemon",
	Long: `Run sessiond as a long-lived daemon: recovers from any unclean prior
shutdown, then supervises sessions, streams, and registered processes until
interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir()
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Str("directory", dir).Msg("starting sessiond")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	d := daemon.New(paths, cfg)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down sessiond")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown error")
		return err
	}

	logging.Info().Msg("sessiond stopped")
	return nil
}

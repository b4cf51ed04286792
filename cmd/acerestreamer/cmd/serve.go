package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/services"
	"github.com/kism/acerestreamer/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the acerestreamer gateway",
	Long: `Start the gateway HTTP server and its background tasks.

The server provides:
- HLS playlist and segment proxying at /hls and /ace/c
- IPTV playlist, EPG and logo endpoints
- An Xtream-Codes compatible API surface
- A management API with OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("instance-dir", "", "instance directory for database, caches and backups")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	applyServeFlags(cfg, cmd)

	logger := slog.Default()

	svc, err := services.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting acerestreamer",
		slog.String("address", cfg.Server.Address()),
		slog.String("engine", cfg.Engine.Address),
		slog.String("version", version.Version),
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func applyServeFlags(cfg *config.AppConfig, cmd *cobra.Command) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("instance-dir") {
		cfg.Instance.Dir, _ = cmd.Flags().GetString("instance-dir")
	}
}

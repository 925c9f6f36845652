package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/formrunner/internal/app"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/server"
)

var eventsOut string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the command loop",
	Long: `Reads commands as JSON lines from stdin until "close" or end of input and writes
events as JSON lines to stdout. With the server enabled, events are also broadcast to
WebSocket clients on /ws, which may send commands too.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&eventsOut, "events", "-", `Event stream destination ("-" for stdout, or a file path)`)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if eventsOut != "-" {
		file, err := os.OpenFile(eventsOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open event stream %s: %w", eventsOut, err)
		}
		defer file.Close()
		out = file
	} else {
		config.Logging.Output = withoutConsole(config.Logging.Output)
	}

	logger = common.InitLogger(config)

	logger.Info().
		Str("version", common.GetVersion()).
		Strs("config_files", configFiles).
		Str("forms_dir", config.Forms.DefinitionsDir).
		Str("badger_path", config.Storage.Badger.Path).
		Bool("headless", config.Browser.Headless).
		Msg("Starting FormRunner")

	application, err := app.New(config, logger, out)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	if config.Server.Enabled {
		srv = server.New(application)
		common.SafeGo(logger, "http-server", func() {
			if err := srv.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP server failed")
			}
		})
	}

	err = application.Dispatcher.Run(ctx, os.Stdin)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("Interrupt signal received")
		err = nil
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error().Err(shutdownErr).Msg("Server shutdown failed")
		}
	}

	logger.Info().Msg("FormRunner stopped")
	return err
}

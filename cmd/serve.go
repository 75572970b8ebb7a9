package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/bots"
	"github.com/avolkov/personaclone/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web interface",
	Long: `Serves the chat page, the session and artifact API, the WebSocket chat
endpoint and the rendered style report. When a bot token is configured
the messaging webhook is mounted as well.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Serving.Port = port
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	manager, sessionStore, artifactStore, err := newSessionComponents(cfg, database)
	if err != nil {
		return err
	}
	defer manager.Stop()

	srv := server.New(cfg, manager, sessionStore, artifactStore)

	if cfg.Serving.BotToken != "" {
		processor := bots.NewProcessor(manager, cfg.TargetUser)
		handler := bots.NewTelegramHandler(processor, cfg.Serving.BotToken)
		bots.RegisterRoutes(srv.Router(), handler)
	}

	// Graceful shutdown on interrupt.
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println("\nshutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

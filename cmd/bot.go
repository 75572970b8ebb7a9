package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/bots"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run only the messaging bot webhook",
	Long: `Starts an HTTP server exposing the Telegram webhook endpoint and
nothing else. Register the endpoint with setWebhook, passing the
configured bot token as the secret token. Use serve instead to run
the webhook alongside the web interface.`,
	RunE: runBot,
}

func init() {
	botCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(botCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Serving.BotToken == "" {
		return fmt.Errorf("serving.bot_token is not set; configure it or set PERSONACLONE_SERVING__BOT_TOKEN")
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Serving.Port = port
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	manager, _, _, err := newSessionComponents(cfg, database)
	if err != nil {
		return err
	}
	defer manager.Stop()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	processor := bots.NewProcessor(manager, cfg.TargetUser)
	handler := bots.NewTelegramHandler(processor, cfg.Serving.BotToken)
	bots.RegisterRoutes(r, handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Serving.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("bot webhook listening on %s (persona %s)", srv.Addr, cfg.TargetUser)
		errCh <- srv.ListenAndServe()
	}()

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

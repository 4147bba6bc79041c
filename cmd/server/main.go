package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethshoultes/flock-control/internal/api"
	"github.com/sethshoultes/flock-control/internal/auth"
	"github.com/sethshoultes/flock-control/internal/config"
	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/notify"
	"github.com/sethshoultes/flock-control/internal/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	database, err := db.New(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	logging.Info().Str("dialect", database.Dialect).Msg("database ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var analyzer vision.Analyzer = vision.UnavailableAnalyzer{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := vision.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		analyzer = gemini
	} else {
		logging.Warn().Msg("GEMINI_API_KEY not set; /api/analyze will fail with 502")
	}

	handler := api.NewRouter(api.Deps{
		DB:                database,
		Tokens:            auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		Analyzer:          analyzer,
		Notifier:          notify.NewAchievementNotifier(notify.NewSender(cfg.Mail)),
		MaxImageBytes:     cfg.MaxImageBytes,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Analyze calls wait on the model provider.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Int("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/openscribe/backend/clients/review"
	config "github.com/openscribe/backend/config/transcription"
	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/audio"
	"github.com/openscribe/backend/services/transcription/engine"
	"github.com/openscribe/backend/services/transcription/server"
	"github.com/openscribe/backend/services/transcription/session"
	"github.com/openscribe/backend/services/transcription/storage"
	"github.com/openscribe/backend/services/transcription/usecase"
)

func main() {
	log := logger.Default()

	log = logger.New(logger.Config{
		Level:      slog.LevelDebug,
		Output:     os.Stderr,
		AddSource:  true,
		JSONFormat: false,
	})
	slog.SetDefault(log)

	cfg := config.MustLoad()

	ctx := logger.WithContext(context.Background(), log)

	rootCtx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("failed to run()", slog.String("error", err.Error()))
		return
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Error("failed to open database", slog.String("error", err.Error()))
		return err
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db); err != nil {
		log.Error("failed to migrate database", slog.String("error", err.Error()))
		return err
	}

	stg := storage.New(db, cfg.Database.Driver)
	eng := engine.NewHTTP(&cfg.Engine)
	media := audio.NewFFmpeg()
	reviewer := review.New(&cfg.Review)

	usc := usecase.New(stg, eng, media, reviewer, cfg.AudioDir)

	sessionCfg := session.Config{
		InferenceInterval: time.Duration(cfg.Session.InferenceIntervalSeconds * float64(time.Second)),
		AudioDir:          cfg.AudioDir,
		AudioURLPrefix:    "/api/v1/audio/",
	}
	srv := server.New(usc, eng, media, sessionCfg, log)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.URLFormat)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	srv.RegisterRoutes(router)

	address := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
		// No global write timeout: websocket connections stay open for
		// the length of a recording.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()
	log.Info("transcription service started", slog.String("address", address))

	select {
	case err := <-serverErrors:
		log.Info("http server has closed")
		return fmt.Errorf("http server has closed: %w", err)
	case sig := <-shutdown:
		log.Info("start shutdown", slog.String("signal", sig.String()))
	case <-ctx.Done():
		log.Info("closing server due to context cancellation")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		httpServer.Close()
		return fmt.Errorf("failed to gracefully shutdown server: %w", err)
	}

	log.Info("server stopped cleanly")
	return nil
}

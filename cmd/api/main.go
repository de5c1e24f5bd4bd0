package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/sceneflow/internal/api"
	"github.com/bobarin/sceneflow/internal/config"
	"github.com/bobarin/sceneflow/internal/db"
	"github.com/bobarin/sceneflow/internal/draft"
	"github.com/bobarin/sceneflow/internal/generation"
	"github.com/bobarin/sceneflow/internal/logging"
	"github.com/bobarin/sceneflow/internal/notify"
	"github.com/bobarin/sceneflow/internal/render"
	"github.com/bobarin/sceneflow/internal/session"
	"github.com/bobarin/sceneflow/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// runDrainTimeout covers an aborted call's failure write.
const runDrainTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting Sceneflow API...")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	// Renders in flight when the last process died never finished
	if n, err := database.FailInterruptedSegments(migrateCtx, "render interrupted by server restart"); err != nil {
		logger.Warnf("Failed to reset interrupted segments: %v", err)
	} else if n > 0 {
		logger.Warnf("Marked %d interrupted segment(s) as failed", n)
	}
	migrateCancel()
	logger.Info("Connected to database")

	// Render event sinks: always the log, plus Redis pub/sub when configured
	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.RedisURL != "" {
		redisNotifier, err := notify.NewRedisNotifier(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisNotifier.Close()
		sinks = append(sinks, redisNotifier)
		logger.Info("Publishing render events to Redis")
	}

	// Segment config drafting
	var deriver render.ConfigDeriver = draft.NewHeuristicDeriver()
	if cfg.OpenAIKey != "" {
		deriver = draft.NewOpenAIDeriver(cfg.OpenAIKey, cfg.OpenAIDraftModel, logger)
		logger.Info("OpenAI draft refinement enabled")
	}

	// Video generation. xAI is preferred over Veo when both are enabled.
	var generator render.Generator
	if cfg.VideoGenerationEnabled() {
		stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger)

		var providers []generation.Provider
		if cfg.XAIEnabled {
			providers = append(providers, generation.NewXAIProvider(cfg.XAIAPIKey, logger))
		}
		if cfg.GeminiKey != "" {
			providers = append(providers, generation.NewVeoProvider(cfg.GeminiKey, cfg.VeoModel, logger))
		}

		if dispatcher := generation.NewDispatcher(database, stor, logger, providers...); dispatcher != nil {
			generator = dispatcher
			logger.WithField("providers", dispatcher.ProviderNames()).Info("Video generation enabled")
		}
	} else {
		logger.Warn("No video provider configured, batch renders will be rejected")
	}

	// Batch runs outlive the request that starts them and stop on shutdown
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	registry := session.NewRegistry(func(sceneID uuid.UUID) *render.Session {
		renderLogger := logging.Component(logger, "render")
		proc := render.NewProcessor(sceneID, generator, sinks, sinks, renderLogger)
		return render.NewSession(sceneID, database, deriver, proc, renderLogger)
	})

	handler := api.NewHandler(registry, database, runCtx, cfg.RenderDelay, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:       cfg.BackendAPIKey,
		CorsAllowedOrigins:  cfg.CorsAllowedOrigins,
		RenderRatePerMinute: cfg.RenderRatePerMinute,
		Logger:              logger,
	})

	if cfg.BackendAPIKey != "" {
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		logger.Infof("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if n := registry.CancelAll(); n > 0 {
		logger.Infof("Requested cancellation of %d batch render(s)", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Abort calls still in flight, then let them record their failures
	// before the database closes
	runCancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), runDrainTimeout)
	defer waitCancel()
	if err := registry.WaitAll(waitCtx); err != nil {
		logger.Errorf("Batch renders did not finish before exit: %v", err)
	}

	logger.Info("Server exited")
}

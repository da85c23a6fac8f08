package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var skipOrchestrator bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the publishing orchestrator and the outcome worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, !skipOrchestrator)
		},
	}
	cmd.Flags().BoolVar(&skipOrchestrator, "api-only", false, "serve the API without running the publishing orchestrator")
	return cmd
}

type stores struct {
	db       *sql.DB
	posts    repository.PostRepository
	history  repository.PostingHistoryRepository
	settings repository.SettingsRepository
}

// openStores connects to Postgres, or falls back to process memory when no URI is configured.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.PostgresURI == "" {
		logger.Warn("POSTGRES_URI not set, using the in-memory store; data is lost on exit")
		return &stores{
			posts:    repository.NewMemoryPostRepository(nil),
			history:  repository.NewMemoryPostingHistoryRepository(),
			settings: repository.NewMemorySettingsRepository(),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		db:       db,
		posts:    repository.NewPostRepository(db),
		history:  repository.NewPostingHistoryRepository(db),
		settings: repository.NewSettingsRepository(db),
	}, nil
}

func buildRegistry(cfg *config.Config) *publisher.Registry {
	registry := publisher.NewRegistry()
	client := &http.Client{Timeout: cfg.Orchestrator.PublishTimeout}
	for platform, endpoint := range cfg.Connectors {
		registry.Register(platform, publisher.NewHTTPConnector(platform, endpoint, client))
	}
	if len(cfg.Connectors) == 0 {
		logger.Warn("no platform connectors configured, every publish will fail permanently")
	}
	return registry
}

func newApp(origins []string) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
				return c.Status(code).JSON(fiber.Map{"error": "internal server error"})
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New(corsConfig(origins)))
	return app
}

// corsConfig allows credentialed requests only from the configured origins. Without any, browsers
// from other origins may still call the API with a bearer token but never with the session cookie.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}
	if len(origins) == 0 {
		c.AllowOrigins = "*"
		return c
	}
	c.AllowOrigins = strings.Join(origins, ",")
	c.AllowCredentials = true
	return c
}

func serve(cfg *config.Config, runOrchestrator bool) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return err
	}

	var rdb *redis.Client
	var asynqClient *asynq.Client
	var asynqServer *asynq.Server
	q := queue.NewQueue(queue.LogNotifier{})
	var outcomes job.OutcomeNotifier = queue.NewInlineOutcomes(q)

	if cfg.RedisURI != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, stats cache will miss until it recovers", zap.Error(err))
		}

		redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
		asynqClient = asynq.NewClient(redisConn)
		outcomes = queue.NewAsynqOutcomes(asynqClient)

		asynqServer = asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})
		go func() {
			logger.Info("starting the asynq server")
			if err := asynqServer.Run(q.Mux()); err != nil {
				logger.Error("asynq server stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("REDIS_URI not set, stats are uncached and outcomes are notified inline")
	}

	settingsService := service.NewSettingsService(st.settings, cfg.Scheduling)
	conflictDetector := service.NewConflictDetector(st.posts, settingsService)
	postService := service.NewPostService(st.posts, st.history, conflictDetector, nil)
	slotRecommender := service.NewSlotRecommender(conflictDetector, settingsService, nil)
	statsService := service.NewStatsService(st.posts, settingsService, rdb, cfg.StatsCacheTTL, nil)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	app := newApp(cfg.CORSOrigins)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	settings := handlers.NewSettingsHandler(settingsService)
	api.Get("/settings/info", settings.GetSettingsInfo)
	api.Post("/settings/update", settings.UpdateSettings)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/reschedule", post.ReschedulePost)
	api.Post("/posts/schedule", post.SchedulePost)
	api.Post("/posts/edit", post.EditPost)
	api.Post("/posts/cancel", post.CancelPost)
	api.Get("/posts/attempts", post.ListAttempts)

	slots := handlers.NewSlotHandler(slotRecommender, settingsService)
	api.Get("/slots/suggest", slots.Suggest)

	stats := handlers.NewStatsHandler(statsService)
	api.Get("/stats", stats.GetStats)

	// cron jobs
	var c *cron.Cron
	if runOrchestrator {
		publishJob := job.NewPublishJob(st.posts, st.history, buildRegistry(cfg), outcomes, cfg.Orchestrator, nil)
		c = cron.New()
		if err := c.AddFunc(job.Schedule(cfg.Orchestrator.Tick), publishJob.Run); err != nil {
			return err
		}
		c.Start()
		logger.Info("publishing orchestrator started",
			zap.String("owner", publishJob.Owner()), zap.Duration("tick", cfg.Orchestrator.Tick))
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()
	logger.Info("server is running", zap.String("port", cfg.Port))

	gracefulShutdown(app, func() {
		if c != nil {
			c.Stop()
		}
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		if asynqClient != nil {
			asynqClient.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
		if st.db != nil {
			closeDB(st.db)
		}
	})
	return nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Error("failed to close database", zap.Error(err))
		return
	}
	logger.Info("database connection closed")
}

func gracefulShutdown(app *fiber.App, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("failed to shut down server", zap.Error(err))
	}

	cleanup()
	logger.Info("server shutdown complete")
}

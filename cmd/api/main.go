package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/database"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/handler"
	"github.com/noah-isme/gradeflow-api/internal/middleware"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/internal/render"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/internal/router"
	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Assignment{},
		&models.GuideVersion{},
		&models.Submission{},
		&models.SubmissionArtifact{},
		&models.GradingJob{},
		&models.GradeResult{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Broker mode when Redis is reachable; in-process fallback otherwise.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, falling back to in-process queue")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unreachable, lifecycle events limited to redis")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build llm registry: %v", err)
	}
	prices := llm.PriceTable{
		FallbackInputPer1K:  cfg.PriceInputPer1K,
		FallbackOutputPer1K: cfg.PriceOutputPer1K,
		ImageTokensPerImage: cfg.ImageTokensPerImage,
	}

	assignmentRepo := repository.NewAssignmentRepository(db)
	guideRepo := repository.NewGuideRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	jobRepo := repository.NewGradingJobRepository(db)
	resultRepo := repository.NewGradeResultRepository(db)

	renders := render.NewCache(render.NewLocalRenderer(cfg.DataDir, logger))
	publisher := events.NewPublisher(redisClient, natsConn, logger)

	engine := grading.NewEngine(jobRepo, guideRepo, assignmentRepo, submissionRepo, resultRepo,
		renders, registry, prices, publisher,
		grading.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BackoffBase: cfg.RetryBackoffBase,
			BackoffCap:  cfg.RetryBackoffCap,
		},
		cfg.MaxOutputTokens, logger)

	queueMode := "redis"
	var taskQueue queue.Queue
	var localQueue *queue.LocalQueue
	if redisClient != nil {
		taskQueue = queue.NewRedisQueue(redisClient, cfg.QueueKey, logger)
	} else {
		queueMode = "local"
		localQueue = queue.NewLocalQueue(cfg.LocalQueueSize, logger)
		taskQueue = localQueue
	}

	assignmentService := service.NewAssignmentService(assignmentRepo, taskQueue, registry, prices, cfg, publisher, logger)
	guideService := service.NewGuideService(guideRepo, assignmentRepo, taskQueue, registry, prices, cfg, publisher, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, renders, cfg.DataDir, logger)
	jobService := service.NewJobService(jobRepo, guideRepo, submissionRepo, taskQueue, cfg, publisher, logger)
	exportService := service.NewExportService(submissionRepo, jobRepo, logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if localQueue != nil {
		taskRouter := service.NewTaskRouter(engine, guideService, assignmentService, logger)
		localQueue.Start(workerCtx, taskRouter)
		logger.Warn().Msg("running with in-process queue; queued jobs do not survive a restart")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentHandler := handler.NewAssignmentHandler(assignmentService, validate, logger)
	guideHandler := handler.NewGuideHandler(guideService, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, logger)
	jobHandler := handler.NewJobHandler(jobService, validate, logger)
	exportHandler := handler.NewExportHandler(exportService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    64 << 20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: assignmentHandler,
		GuideHandler:      guideHandler,
		SubmissionHandler: submissionHandler,
		JobHandler:        jobHandler,
		ExportHandler:     exportHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		QueueMode:         queueMode,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, localQueue, stopWorker)
}

func buildRegistry(cfg config.Config, logger zerolog.Logger) (*llm.Registry, error) {
	clients := make(map[string]llm.Client, len(cfg.Providers))
	for key, provider := range cfg.Providers {
		client, err := llm.NewOpenAIClient(llm.EndpointConfig{
			Name:         provider.Name,
			BaseURL:      provider.BaseURL,
			APIKey:       provider.APIKey,
			DefaultModel: provider.DefaultModel,
			JSONMode:     provider.JSONMode,
			Timeout:      provider.Timeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		clients[key] = client
	}

	return llm.NewRegistry(clients, cfg.DefaultProvider)
}

func waitForShutdown(app *fiber.App, localQueue *queue.LocalQueue, stopWorker context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Let the in-process worker finish its buffer before exiting.
	if localQueue != nil {
		if err := localQueue.Close(); err != nil {
			log.Printf("local queue shutdown failed: %v", err)
		}
	}
	stopWorker()

	log.Println("server stopped")
}

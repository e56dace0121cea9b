package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/database"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/internal/render"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

// The worker drains the broker queue. It only runs in broker mode; with the
// in-process fallback the API binary executes tasks itself.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

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

	brokerQueue := queue.NewRedisQueue(redisClient, cfg.QueueKey, logger)
	guideService := service.NewGuideService(guideRepo, assignmentRepo, brokerQueue, registry, prices, cfg, publisher, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, brokerQueue, registry, prices, cfg, publisher, logger)
	taskRouter := service.NewTaskRouter(engine, guideService, assignmentService, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := brokerQueue.Consume(ctx, taskRouter); err != nil && ctx.Err() == nil {
		log.Fatalf("worker stopped unexpectedly: %v", err)
	}

	log.Println("worker stopped")
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

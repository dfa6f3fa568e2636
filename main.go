package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/config"
	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/db"
	"github.com/ReceiptRadar/receipt-radar-backend/handlers"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	documentSvc "github.com/ReceiptRadar/receipt-radar-backend/models/document/service"
	extractionSvc "github.com/ReceiptRadar/receipt-radar-backend/models/extraction/service"
	matchingSvc "github.com/ReceiptRadar/receipt-radar-backend/models/matching/service"
	reconciliationSvc "github.com/ReceiptRadar/receipt-radar-backend/models/reconciliation/service"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store/postgres"
	"github.com/ReceiptRadar/receipt-radar-backend/pkg/gemini"
	"github.com/ReceiptRadar/receipt-radar-backend/pkg/ocrclient"
	"github.com/ReceiptRadar/receipt-radar-backend/router"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	if err := db.RunMigrations(cfg.Database.URL()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := config.InitDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	redisClient, err := config.InitRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() { _ = redisClient.Close() }()

	// Stores
	documentStore := postgres.NewDocumentStore(pool)
	extractionStore := postgres.NewExtractionStore(pool)
	matchStore := postgres.NewMatchStore(pool)
	transactionStore := postgres.NewTransactionStore(pool)
	reconciliationStore := postgres.NewReconciliationStore(pool)

	// Binary storage backend
	var fileStorage documentSvc.FileStorage
	switch cfg.Storage.Backend {
	case "s3":
		fileStorage, err = documentSvc.NewS3FileStorage(
			cfg.Storage.Endpoint,
			cfg.Storage.Region,
			cfg.Storage.Bucket,
			cfg.Storage.AccessKeyID,
			cfg.Storage.SecretAccessKey,
		)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
	default:
		fileStorage = documentSvc.NewLocalFileStorage(cfg.Storage.LocalPath)
	}

	// External collaborators
	ocrEngine := ocrclient.NewClient(
		cfg.OCR.BaseURL,
		cfg.OCR.APIKey,
		time.Duration(cfg.OCR.TimeoutSeconds)*time.Second,
	)

	fieldExtractor, err := gemini.NewClient(ctx, cfg.AI.APIKey, cfg.AI.Model)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}

	// Job queue and pipeline services
	jobQueue := services.NewJobQueue(cfg.JobQueue)

	documentService := documentSvc.NewDocumentService(documentStore, fileStorage, jobQueue, cfg.Storage.URLSigningKey)
	extractionService := extractionSvc.NewExtractionService(
		documentStore,
		extractionStore,
		fileStorage,
		ocrEngine,
		fieldExtractor,
		jobQueue,
		cfg.OCR.MinQuality,
	)
	matchingService := matchingSvc.NewMatchingService(
		documentStore,
		extractionStore,
		matchStore,
		transactionStore,
		reconciliationStore,
		cfg.Matching,
	)
	queueService := reconciliationSvc.NewQueueService(reconciliationStore, matchStore)
	healthService := services.NewHealthService(pool, redisClient, cfg.Server.Version)

	registerPipelineHandlers(jobQueue, extractionService, matchingService, cfg.JobQueue.WorkersPerType)
	jobQueue.Start()

	// HTTP wiring
	deps := router.Dependencies{
		Config:                cfg,
		RedisClient:           redisClient,
		DocumentHandler:       handlers.NewDocumentHandler(documentService, handlers.NewPipeline(extractionService, matchingService)),
		ReconciliationHandler: handlers.NewReconciliationHandler(queueService),
		HealthHandler:         handlers.NewHealthHandler(healthService),
		Logger:                log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Server starting", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")

	shutdownTimeout := time.Duration(cfg.JobQueue.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
	}
	if err := jobQueue.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Job queue shutdown failed", "error", err)
	}

	log.Info("Server stopped")
}

// registerPipelineHandlers binds the three pipeline stages to their job types.
func registerPipelineHandlers(
	queue *services.JobQueue,
	extraction *extractionSvc.ExtractionService,
	matching *matchingSvc.MatchingService,
	workers int,
) {
	queue.RegisterHandler(services.JobTypeTextExtraction,
		documentJobHandler("text-extraction", func(ctx context.Context, p services.DocumentJobPayload) error {
			_, err := extraction.ProcessOCR(ctx, p.DocumentID, p.UserID)
			return err
		}), workers)

	queue.RegisterHandler(services.JobTypeFieldExtraction,
		documentJobHandler("field-extraction", func(ctx context.Context, p services.DocumentJobPayload) error {
			_, err := extraction.ExtractData(ctx, p.DocumentID, p.UserID)
			return err
		}), workers)

	queue.RegisterHandler(services.JobTypeTransactionMatching,
		documentJobHandler("transaction-matching", func(ctx context.Context, p services.DocumentJobPayload) error {
			_, err := matching.MatchTransactions(ctx, p.DocumentID, p.UserID)
			return err
		}), workers)
}

// documentJobHandler adapts a pipeline stage to the job queue contract.
// Delivery is at-least-once, so a stage can see work already done by an
// earlier delivery or a document whose state forbids the stage. Both are
// acknowledged as no-ops; retrying them could never succeed.
func documentJobHandler(stage string, run func(context.Context, services.DocumentJobPayload) error) services.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload services.DocumentJobPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("invalid document job payload: %w", err)
		}

		err := run(ctx, payload)
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) &&
			(appErr.Type == apperrors.PreconditionError || appErr.Type == apperrors.InvalidStatusTransitionError) {
			logger.GetLogger().Infow("Skipping stale job delivery",
				"stage", stage,
				"documentId", payload.DocumentID,
				"reason", appErr.Message)
			return nil
		}
		return err
	}
}

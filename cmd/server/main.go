package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/client"
	"github.com/brightclass/speech_service/internal/config"
	httphandler "github.com/brightclass/speech_service/internal/handler/http"
	wshandler "github.com/brightclass/speech_service/internal/handler/ws"
	"github.com/brightclass/speech_service/internal/logger"
	"github.com/brightclass/speech_service/internal/recording"
	"github.com/brightclass/speech_service/internal/repository"
	"github.com/brightclass/speech_service/internal/server"
	"github.com/brightclass/speech_service/internal/service"
)

// logNotifier surfaces user-facing analysis failures in the service log.
// WebSocket subscribers receive the same failures through status updates.
type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Notify(short, detail string) {
	n.log.Warn().Str("detail", detail).Msg(short)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Msg("Starting speech_service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pronunciation scoring client. Constructed unconditionally; without
	// credentials every Score call reports SCORING_FAILED.
	speechClient := client.NewSpeechClient(cfg.SpeechKey, cfg.SpeechRegion, cfg.SpeechLanguage, cfg.SpeechRPS)
	if cfg.SpeechEndpoint != "" {
		speechClient = speechClient.WithEndpoint(cfg.SpeechEndpoint)
	}
	if cfg.SpeechKey == "" && cfg.SpeechEndpoint == "" {
		log.Warn().Msg("Speech credentials missing, scoring will fail until configured")
	}

	// Platform delivery client
	var progressClient *client.ProgressClient
	if cfg.PlatformBaseURL != "" {
		progressClient = client.NewProgressClient(cfg.PlatformBaseURL)
		log.Info().Str("base_url", cfg.PlatformBaseURL).Msg("Platform delivery client initialized")
	} else {
		log.Warn().Msg("PLATFORM_BASE_URL not set, analysis results will not be delivered")
	}

	// Initialize Redis client
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		var err error
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client")
		} else {
			log.Info().Msg("Redis client initialized")
		}
	}

	// Initialize Postgres client
	var postgresClient *client.PostgresClient
	if cfg.DatabaseURL != "" {
		var err error
		postgresClient, err = client.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Postgres client")
		} else {
			log.Info().Msg("Postgres client initialized")
		}
	}

	// Recording archive storage. The selected backend doubles as a recording
	// source for object-store handles.
	var archiver service.Archiver
	var recordingStore recording.ObjectStore
	var storageClient *client.StorageClient

	switch cfg.StorageBackend {
	case "r2":
		if cfg.CloudflareAccessKeyID != "" && cfg.CloudflareSecretKey != "" && cfg.CloudflareR2Endpoint != "" && cfg.CloudflareBucketName != "" {
			cloudflareClient, err := client.NewCloudflareClient(ctx,
				cfg.CloudflareAccessKeyID,
				cfg.CloudflareSecretKey,
				cfg.CloudflareR2Endpoint,
				cfg.CloudflareBucketName,
				cfg.CloudflarePublicURL,
			)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize Cloudflare R2 client")
			} else {
				archiver = cloudflareClient
				recordingStore = cloudflareClient
				log.Info().Msg("Cloudflare R2 storage initialized")
			}
		} else {
			log.Warn().Msg("Cloudflare R2 configuration incomplete, archiving disabled")
		}
	case "gcs":
		if cfg.GCSBucketName != "" {
			storageClient, err = client.NewStorageClient(ctx, cfg.GCSBucketName, cfg.GoogleSAPath)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize GCS client")
			} else {
				archiver = storageClient
				recordingStore = storageClient
				log.Info().Msg("GCS storage initialized")
			}
		} else {
			log.Warn().Msg("GCS_BUCKET_NAME not set, archiving disabled")
		}
	case "":
		log.Warn().Msg("STORAGE_BACKEND not set, recording archiving disabled")
	default:
		log.Warn().Str("backend", cfg.StorageBackend).Msg("Unknown storage backend, archiving disabled")
	}

	// Pub/Sub events
	var pubsubClient *client.PubSubClient
	if cfg.GCPProject != "" && cfg.PubSubTopic != "" {
		pubsubClient, err = client.NewPubSubClient(ctx, cfg.GCPProject, cfg.PubSubTopic, cfg.GoogleSAPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client")
			pubsubClient = nil
		} else {
			log.Info().Str("topic", cfg.PubSubTopic).Msg("Pub/Sub client initialized")
		}
	}

	// AI feedback providers
	var openaiClient *client.OpenAIClient
	if cfg.OpenAIKey != "" {
		openaiClient = client.NewOpenAIClient(cfg.OpenAIKey).WithModel(cfg.OpenAIModel)
		log.Info().Str("model", cfg.OpenAIModel).Msg("OpenAI client initialized")
	}

	var azureChatClient *client.AzureChatClient
	if cfg.AzureOpenAIEndpoint != "" && cfg.AzureOpenAIKey != "" {
		azureChatClient = client.NewAzureChatClient(cfg.AzureOpenAIEndpoint, cfg.AzureOpenAIKey, cfg.AzureOpenAIDeployment)
		log.Info().Str("deployment", cfg.AzureOpenAIDeployment).Msg("Azure OpenAI client initialized")
	}

	var geminiClient *client.GeminiClient
	if cfg.GCPProject != "" {
		geminiClient, err = client.NewGeminiClient(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GoogleSAPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Gemini client")
			geminiClient = nil
		} else {
			log.Info().Str("project", cfg.GCPProject).Msg("Gemini client initialized")
		}
	}

	var geminiLiteClient *client.GeminiLiteClient
	if cfg.GeminiAPIKey != "" {
		geminiLiteClient, err = client.NewGeminiLiteClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Gemini lite client")
			geminiLiteClient = nil
		} else {
			log.Info().Msg("Gemini lite client initialized")
		}
	}

	// Repositories. Without a database the service still runs, holding
	// attempts and users in memory.
	var attemptRepo repository.AttemptRepository
	var userRepo repository.UserRepository
	if postgresClient != nil {
		attemptRepo = repository.NewPostgresAttemptRepository(postgresClient)
		userRepo = repository.NewPostgresUserRepository(postgresClient)
	} else {
		log.Warn().Msg("No database configured, using in-memory repositories")
		attemptRepo = repository.NewInMemoryAttemptRepository()
		userRepo = repository.NewInMemoryUserRepository()
	}

	// Recording sources: absolute URLs fetched over HTTP, other handles read
	// from the archive store.
	var storeSource recording.Source
	if recordingStore != nil {
		storeSource = recording.NewStoreSource(recordingStore)
	}
	source := recording.NewResolver(recording.NewHTTPSource(), storeSource)

	// WebSocket hub for status streaming
	hub := server.NewWebSocketHub(logger.WithComponent(log, "ws"))
	go hub.Run(ctx)

	// Initialize services
	statusService := service.NewStatusService(redisClient, log).WithNotifier(hub)

	analysisService := service.NewAnalysisService(source, speechClient, attemptRepo, statusService, log).
		WithRetryPolicy(cfg.UploadMaxAttempts, cfg.UploadRetryDelay).
		WithNotifier(logNotifier{log: log})
	if progressClient != nil {
		analysisService = analysisService.WithUploader(progressClient, cfg.PlatformServiceToken)
	}
	if archiver != nil {
		analysisService = analysisService.WithArchiver(archiver)
	}
	if pubsubClient != nil {
		analysisService = analysisService.WithPubSub(pubsubClient)
	}
	if openaiClient != nil || azureChatClient != nil || geminiClient != nil || geminiLiteClient != nil {
		feedbackService := service.NewFeedbackService(openaiClient, azureChatClient, geminiClient, geminiLiteClient, log)
		analysisService = analysisService.WithFeedback(feedbackService)
	} else {
		log.Warn().Msg("No AI provider configured, feedback summaries disabled")
	}

	authService := service.NewAuthService(userRepo, cfg.JWTSecret)

	workerService := service.NewWorkerService(redisClient, analysisService, logger.WithComponent(log, "worker"))
	go workerService.Run(ctx)

	retentionService := service.NewRetentionService(attemptRepo, cfg.RetentionSchedule, cfg.RetentionDays, logger.WithComponent(log, "retention"))
	if err := retentionService.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start retention sweeper")
	}

	// Initialize handlers
	healthHandler := httphandler.NewHealthHandler(postgresClient, redisClient)
	analysisHandler := httphandler.NewAnalysisHandler(log, analysisService, statusService, workerService)
	authHandler := httphandler.NewAuthHandler(log, authService)
	wsHandler := wshandler.NewHandler(log)

	// Initialize servers
	httpServer := server.NewHTTPServer(cfg, log, healthHandler, analysisHandler, authHandler, authService, hub, wsHandler)
	grpcServer := server.NewGRPCServer(cfg, log)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Str("grpc_addr", cfg.GRPCAddress()).
		Msg("Servers started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	grpcServer.GracefulStop()
	retentionService.Stop()
	cancel()

	// Close clients
	if geminiLiteClient != nil {
		geminiLiteClient.Close()
	}
	if pubsubClient != nil {
		pubsubClient.Close()
	}
	if storageClient != nil {
		storageClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if postgresClient != nil {
		postgresClient.Close()
	}

	log.Info().Msg("Server stopped")
}

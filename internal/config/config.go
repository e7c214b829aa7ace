package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`
	GRPCPort int    `envconfig:"SERVER_GRPC_PORT" default:"9090"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Pronunciation scoring service
	SpeechKey      string  `envconfig:"SPEECH_KEY"`
	SpeechRegion   string  `envconfig:"SPEECH_REGION"`
	SpeechEndpoint string  `envconfig:"SPEECH_ENDPOINT"` // overrides the region-derived URL, used in tests/staging
	SpeechLanguage string  `envconfig:"SPEECH_LANGUAGE" default:"en-US"`
	SpeechRPS      float64 `envconfig:"SPEECH_RPS" default:"5"`

	// Platform backend (upload target for analysis results)
	PlatformBaseURL      string `envconfig:"PLATFORM_BASE_URL"`
	PlatformServiceToken string `envconfig:"PLATFORM_SERVICE_TOKEN"` // used by the async worker; interactive calls forward the caller's token

	// Upload retry policy
	UploadMaxAttempts int           `envconfig:"UPLOAD_MAX_ATTEMPTS" default:"4"`
	UploadRetryDelay  time.Duration `envconfig:"UPLOAD_RETRY_DELAY" default:"500ms"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// AI feedback providers
	OpenAIKey             string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel           string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	AzureOpenAIEndpoint   string `envconfig:"AZURE_OPENAI_ENDPOINT"`
	AzureOpenAIKey        string `envconfig:"AZURE_OPENAI_KEY"`
	AzureOpenAIDeployment string `envconfig:"AZURE_OPENAI_DEPLOYMENT" default:"gpt-4o-mini"`
	GCPProject            string `envconfig:"GCP_PROJECT"`
	GCPLocation           string `envconfig:"GCP_LOCATION" default:"asia-southeast1"`
	GoogleSAPath          string `envconfig:"GOOGLE_SA_PATH"`
	GeminiAPIKey          string `envconfig:"GEMINI_API_KEY"`

	// Redis
	RedisURL string `envconfig:"REDIS_URL"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Object storage for recordings ("r2", "gcs" or empty to disable archiving)
	StorageBackend string `envconfig:"STORAGE_BACKEND"`

	// Cloudflare R2
	CloudflareAccessKeyID string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	CloudflareSecretKey   string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CloudflareR2Endpoint  string `envconfig:"CLOUDFLARE_R2_ENDPOINT"`
	CloudflarePublicURL   string `envconfig:"CLOUDFLARE_PUBLIC_URL"`
	CloudflareBucketName  string `envconfig:"CLOUDFLARE_BUCKET_NAME"`

	// Google Cloud Storage
	GCSBucketName string `envconfig:"GCS_BUCKET_NAME"`

	// Pub/Sub events
	PubSubTopic string `envconfig:"PUBSUB_TOPIC"`

	// Retention sweeps
	RetentionSchedule string `envconfig:"RETENTION_SCHEDULE" default:"@daily"`
	RetentionDays     int    `envconfig:"RETENTION_DAYS" default:"90"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &cfg, nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *Config) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "crm"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	EmbeddingModel string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int

	// Knowledge base
	ChunkSize       int
	ChunkOverlap    int
	RetrieveTopK    int
	MinSimilarity   float64
	EmbedBatchSize  int
	EmbedConcurrent int

	// Approval workflow
	DefaultTimeoutHours int
	SweepIntervalSec    int

	// Inbound polling
	InboundPollSec int

	// Notification sink (chat webhook)
	NotifyWebhookURL string
	NotifyTimeoutSec int
	ApprovalDeepLink string

	// Mail gateway (mailbox connector)
	MailGatewayURL        string
	MailGatewayTimeoutSec int

	// Worker
	WorkerID        string
	WorkerMin       int
	WorkerMax       int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "crm"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 60),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),

		// Knowledge base
		ChunkSize:       getEnvInt("KB_CHUNK_SIZE", 1000),
		ChunkOverlap:    getEnvInt("KB_CHUNK_OVERLAP", 200),
		RetrieveTopK:    getEnvInt("KB_RETRIEVE_TOP_K", 3),
		MinSimilarity:   getEnvFloat("KB_MIN_SIMILARITY", 0.3),
		EmbedBatchSize:  getEnvInt("KB_EMBED_BATCH_SIZE", 16),
		EmbedConcurrent: getEnvInt("KB_EMBED_CONCURRENCY", 4),

		// Approval workflow
		DefaultTimeoutHours: getEnvInt("APPROVAL_DEFAULT_TIMEOUT_HOURS", 24),
		SweepIntervalSec:    getEnvInt("APPROVAL_SWEEP_INTERVAL_SEC", 60),

		// Inbound polling
		InboundPollSec: getEnvInt("INBOUND_POLL_SEC", 60),

		// Notification sink
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeoutSec: getEnvInt("NOTIFY_TIMEOUT_SEC", 10),
		ApprovalDeepLink: getEnv("APPROVAL_DEEP_LINK", "https://crm.local/approvals"),

		// Mail gateway
		MailGatewayURL:        getEnv("MAIL_GATEWAY_URL", ""),
		MailGatewayTimeoutSec: getEnvInt("MAIL_GATEWAY_TIMEOUT_SEC", 30),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:       getEnvInt("WORKER_MIN", 2),
		WorkerMax:       getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

// SweepInterval returns the approval timeout sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// InboundPollInterval returns the mail gateway poll interval.
func (c *Config) InboundPollInterval() time.Duration {
	return time.Duration(c.InboundPollSec) * time.Second
}

// LLMTimeout returns the per-call LLM timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

package bootstrap

import (
	"context"
	"time"

	"crm_server/adapter/out/mailgateway"
	"crm_server/adapter/out/messaging"
	"crm_server/adapter/out/mongodb"
	"crm_server/adapter/out/notify"
	"crm_server/adapter/out/persistence"
	"crm_server/adapter/out/vector"
	"crm_server/config"
	"crm_server/core/agent/llm"
	"crm_server/core/agent/rag"
	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/core/service/analysis"
	"crm_server/core/service/approval"
	"crm_server/core/service/email"
	"crm_server/core/service/knowledge"
	"crm_server/core/service/reply"
	"crm_server/infra/database"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies wires the whole object graph once; API and worker both
// build on the same instance.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	EmailRepo    domain.EmailRepository
	BodyRepo     domain.EmailBodyRepository
	DocumentRepo domain.DocumentRepository
	ChunkRepo    domain.ChunkRepository
	RuleRepo     domain.AutoReplyRuleRepository
	ApprovalRepo domain.ApprovalTaskRepository
	TemplateRepo domain.PromptTemplateRepository

	// Outbound ports
	MessageProducer out.MessageProducer
	Notifier        out.NotificationSink
	MailGateway     out.MailGateway

	// Agent
	LLMClient *llm.Client
	Chunker   *rag.Chunker
	Embedder  *rag.Embedder
	Retriever *rag.Retriever

	// Services
	KnowledgeService *knowledge.Service
	EmailService     *email.Service
	AnalysisService  *analysis.Service
	ReplyService     *reply.Service
	ApprovalService  *approval.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, nil, apperr.ConfigError("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, nil, apperr.ConfigError("REDIS_URL is required")
	}
	if cfg.MongoDBURL == "" {
		return nil, nil, apperr.ConfigError("MONGODB_URL is required")
	}

	// Database (pgxpool, used by the chunk store)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the row-scanning adapters)
	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis (stream queue)
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	// MongoDB (raw email bodies)
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})

	bodyAdapter := mongodb.NewEmailBodyAdapter(mongoClient.Database(cfg.MongoDBName))
	if err := bodyAdapter.EnsureIndexes(context.Background()); err != nil {
		logger.Warn("Failed to ensure MongoDB indexes: %v", err)
	}
	deps.BodyRepo = bodyAdapter

	// Repositories
	deps.EmailRepo = persistence.NewEmailAdapter(sqlDB)
	deps.DocumentRepo = persistence.NewDocumentAdapter(sqlDB)
	deps.RuleRepo = persistence.NewAutoReplyRuleAdapter(sqlDB)
	deps.ApprovalRepo = persistence.NewApprovalTaskAdapter(sqlDB)
	deps.TemplateRepo = persistence.NewPromptTemplateAdapter(sqlDB)
	deps.ChunkRepo = vector.NewChunkStore(db)

	// Messaging
	deps.MessageProducer = messaging.NewRedisProducer(redisClient)

	// Notification sink (chat webhook); an empty URL logs instead of posting
	deps.Notifier = notify.NewWebhookNotifier(
		cfg.NotifyWebhookURL,
		time.Duration(cfg.NotifyTimeoutSec)*time.Second,
	)

	// Mail gateway
	deps.MailGateway = mailgateway.NewHTTPGateway(
		cfg.MailGatewayURL,
		time.Duration(cfg.MailGatewayTimeoutSec)*time.Second,
	)

	// LLM client
	deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:         cfg.OpenAIAPIKey,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
		Timeout:        cfg.LLMTimeout(),
		MaxRetries:     cfg.LLMMaxRetries,
	})

	// RAG components
	deps.Chunker = rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	deps.Embedder = rag.NewEmbedder(deps.LLMClient)
	deps.Retriever = rag.NewRetriever(deps.Embedder, deps.ChunkRepo, cfg.RetrieveTopK, cfg.MinSimilarity)

	// Services
	deps.KnowledgeService = knowledge.NewService(
		deps.DocumentRepo,
		deps.ChunkRepo,
		deps.Chunker,
		deps.Embedder,
		deps.Retriever,
		deps.MessageProducer,
		cfg.EmbedBatchSize,
		cfg.EmbedConcurrent,
	)
	deps.EmailService = email.NewService(
		deps.EmailRepo,
		deps.BodyRepo,
		deps.MailGateway,
		deps.MessageProducer,
	)
	deps.AnalysisService = analysis.NewService(
		deps.EmailRepo,
		deps.BodyRepo,
		deps.RuleRepo,
		deps.LLMClient,
		deps.MessageProducer,
	)
	deps.ReplyService = reply.NewService(
		deps.EmailRepo,
		deps.BodyRepo,
		deps.TemplateRepo,
		deps.Retriever,
		deps.LLMClient,
	)
	deps.ApprovalService = approval.NewService(
		deps.ApprovalRepo,
		deps.EmailRepo,
		deps.RuleRepo,
		deps.MailGateway,
		deps.Notifier,
		deps.MessageProducer,
		time.Duration(cfg.DefaultTimeoutHours)*time.Hour,
		cfg.ApprovalDeepLink,
	)

	logger.Info("Dependencies initialized")
	return deps, cleanup, nil
}

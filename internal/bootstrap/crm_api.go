package bootstrap

import (
	"strings"

	crmhttp "crm_server/adapter/in/http"
	"crm_server/config"
	"crm_server/infra/middleware"
	"crm_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "crm-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Knowledge uploads are the largest requests we take
		BodyLimit: 25 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	// Health check
	healthHandler := crmhttp.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	// API routes
	api := app.Group("/api/v1")

	crmhttp.NewEmailHandler(deps.EmailService).Register(api)
	crmhttp.NewKnowledgeHandler(deps.KnowledgeService).Register(api)
	crmhttp.NewReplyHandler(deps.ReplyService).Register(api)
	crmhttp.NewApprovalHandler(deps.ApprovalService).Register(api)
	crmhttp.NewRuleHandler(deps.RuleRepo).Register(api)

	return app, cleanup, nil
}

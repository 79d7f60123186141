package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpadapter "mailgrouper/adapter/in/http"
	"mailgrouper/config"
	"mailgrouper/pkg/logger"
)

// NewAPI assembles the HTTP-facing process: the full dependency graph plus a
// fiber.App with every adapter/in/http handler registered under a JWT-gated
// router group, mirroring the teacher's NewAPI shape (worker_api.go) without
// its feature handlers outside this system's scope — see DESIGN.md for which
// pieces of infra/middleware this drops and why.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: logLevel, Service: "mailgrouper-api"})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return nil, cleanup, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	app.Use(recover.New())

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowOrigins != "" && allowOrigins != "*",
	}))

	httpadapter.NewHealthHandler(deps.DB, deps.Redis).Register(app)

	api := app.Group("/api/v1")
	api.Use(httpadapter.JWTAuth(cfg.JWTSecret))

	httpadapter.NewProjectHandler(deps.ProjectService).Register(api)
	httpadapter.NewScanHandler(deps.ScanService).Register(api)
	httpadapter.NewQueueHandler(deps.QueueOpsService).Register(api)

	httpadapter.NewWebhookHandler(deps.WebhookService).Register(app)

	return app, cleanup, nil
}

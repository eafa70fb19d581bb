package web

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/quantbench/quantflow/pkg/registry"
	"github.com/quantbench/quantflow/pkg/services"
)

// API assembles the fiber application around the flow and task services.
type API struct {
	logger      *slog.Logger
	flowService *services.FlowService
	taskService *services.TaskService
	registry    *registry.Registry
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	flowService *services.FlowService,
	taskService *services.TaskService,
	registry *registry.Registry,
) *API {
	return &API{
		logger:      logger,
		flowService: flowService,
		taskService: taskService,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := NewAPIHandlers(a.flowService, a.taskService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("QuantFlow API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.SaveFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Delete("/:id", handlers.DeleteFlow)
	f.Post("/:id/run", handlers.RunFlow)
	f.Delete("/:id/drafts", handlers.DiscardDrafts)

	f.Post("/:id/nodes/:nodeId", handlers.SaveNode)
	f.Get("/:id/nodes/:nodeId", handlers.GetNode)

	t := app.Group("/tasks")
	t.Get("/", handlers.GetTasks)
	t.Post("/", handlers.CreateTask)
	t.Get("/:id", handlers.GetTask)
	t.Patch("/:id", handlers.UpdateTask)
	t.Delete("/:id", handlers.DeleteTask)

	app.Get("/node-kinds", handlers.GetNodeKinds)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the API server exposing the memory engine over HTTP.
type Server struct {
	config Config
	engine *engine.Engine
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The engine is injected to allow sharing with other components
// (e.g., a CLI process that also serves HTTP).
func NewServer(config Config, eng *engine.Engine, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		engine: eng,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/memory", s.handleAddMemory)
	v1.Post("/process", s.handleProcess)
	v1.Get("/search", s.handleSearch)
	v1.Get("/graph/paths", s.handleFindPaths)
	v1.Get("/graph/neighborhood/:id", s.handleNeighborhood)
	v1.Get("/graph/clusters", s.handleClusters)
	v1.Get("/node/:id", s.handleGetNode)
	v1.Delete("/node/:id", s.handleDeleteNode)
	v1.Post("/sessions", s.handleCreateSession)
	v1.Get("/sessions/:id", s.handleGetSession)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

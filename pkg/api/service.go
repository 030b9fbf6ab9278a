package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/harvester/pkg/api/handlers"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	server  *http.Server
	config  *Config
	handler *handlers.Server
	log     logrus.FieldLogger
}

// NewService creates a new API service
func NewService(cfg *Config, handler *handlers.Server, log logrus.FieldLogger) Service {
	return &service{
		config:  cfg,
		handler: handler,
		log:     log.WithField("service", "api"),
	}
}

func newApp(handler *handlers.Server) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "harvester",
	})

	setupMiddleware(app)

	handler.Register(app.Group("/api/v1"))

	return app
}

// Start starts the API server in the background
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(newApp(s.handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

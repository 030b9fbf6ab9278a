// Package handlers implements the read-only status API
package handlers

import (
	"context"

	"github.com/ethpandaops/harvester/pkg/harvest"
	"github.com/ethpandaops/harvester/pkg/scheduler"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// ProgressSource reports live harvest progress
type ProgressSource interface {
	Progress() harvest.Progress
}

// StoreReader is the read side of the store used for status
type StoreReader interface {
	CountDetections(ctx context.Context) (int64, error)
	CountProcessed(ctx context.Context) (int64, error)
	CountSources(ctx context.Context) (int64, error)
}

// LastRunSource reports the last scheduled run
type LastRunSource interface {
	LastRun(ctx context.Context) (scheduler.RunRecord, error)
}

// Server serves the status endpoints
type Server struct {
	progress ProgressSource
	store    StoreReader
	lastRun  LastRunSource
	log      logrus.FieldLogger
}

// NewServer creates a new API server instance. lastRun may be nil when no
// schedule is configured.
func NewServer(progress ProgressSource, store StoreReader, lastRun LastRunSource, log logrus.FieldLogger) *Server {
	return &Server{
		progress: progress,
		store:    store,
		lastRun:  lastRun,
		log:      log.WithField("component", "api.handlers"),
	}
}

// Register mounts the handlers on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/progress", s.GetProgress)
	router.Get("/store", s.GetStore)
	router.Get("/schedule", s.GetSchedule)
}

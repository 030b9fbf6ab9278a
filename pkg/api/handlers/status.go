package handlers

import (
	"github.com/gofiber/fiber/v3"
)

// StoreResponse summarises the committed store contents
type StoreResponse struct {
	Detections int64 `json:"detections"`
	Sources    int64 `json:"sources"`
	Processed  int64 `json:"processed"`
}

// GetProgress handles GET /api/v1/progress
func (s *Server) GetProgress(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(s.progress.Progress())
}

// GetStore handles GET /api/v1/store
func (s *Server) GetStore(c fiber.Ctx) error {
	ctx := c.Context()

	detections, err := s.store.CountDetections(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to count detections")
		return ErrStoreUnavailable
	}

	sources, err := s.store.CountSources(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to count sources")
		return ErrStoreUnavailable
	}

	processed, err := s.store.CountProcessed(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to count processed sources")
		return ErrStoreUnavailable
	}

	return c.Status(fiber.StatusOK).JSON(StoreResponse{
		Detections: detections,
		Sources:    sources,
		Processed:  processed,
	})
}

// GetSchedule handles GET /api/v1/schedule
func (s *Server) GetSchedule(c fiber.Ctx) error {
	if s.lastRun == nil {
		return ErrNoSchedule
	}

	rec, err := s.lastRun.LastRun(c.Context())
	if err != nil {
		s.log.WithError(err).Warn("Failed to read last run")
		return fiber.NewError(fiber.StatusServiceUnavailable, "last run unavailable")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"last_run": rec,
	})
}

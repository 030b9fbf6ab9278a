package handlers

import "github.com/gofiber/fiber/v3"

// ErrStoreUnavailable is returned when store counts cannot be read
var ErrStoreUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "store unavailable")

// ErrNoSchedule is returned when the harvester runs without a schedule
var ErrNoSchedule = fiber.NewError(fiber.StatusNotFound, "no schedule configured")

package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"julesboard/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	sessions    *services.SessionService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, sessions *services.SessionService) *HealthHandler {
	return &HealthHandler{connManager: connManager, sessions: sessions}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"mockMode":    h.sessions.Mock(),
		"connections": h.connManager.Count(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

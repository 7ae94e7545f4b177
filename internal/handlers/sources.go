package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"julesboard/internal/services"
)

// SourceHandler serves the list of sources sessions can run against.
type SourceHandler struct {
	sessions *services.SessionService
}

// NewSourceHandler creates a new source handler
func NewSourceHandler(sessions *services.SessionService) *SourceHandler {
	return &SourceHandler{sessions: sessions}
}

// List handles GET /sources
func (h *SourceHandler) List(c *fiber.Ctx) error {
	sources, err := h.sessions.ListSources(c.Context())
	if err != nil {
		log.Printf("❌ [SOURCES] List failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to list sources"})
	}
	return c.JSON(fiber.Map{"sources": sources})
}

package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"julesboard/internal/models"
	"julesboard/internal/services"
	"julesboard/internal/upstream"
)

// SessionHandler exposes the tracked-session surface to HTTP clients.
type SessionHandler struct {
	sessions *services.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List handles GET /sessions
func (h *SessionHandler) List(c *fiber.Ctx) error {
	sessions, err := h.sessions.ListTracked()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// Create handles POST /sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req models.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prompt is required"})
	}

	session, err := h.sessions.Create(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(session)
}

// Get handles GET /sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.sessions.GetTracked(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(session)
}

// Activities handles GET /sessions/:id/activities
func (h *SessionHandler) Activities(c *fiber.Ctx) error {
	activities, err := h.sessions.GetActivities(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"activities": activities})
}

// SendMessage handles POST /sessions/:id/sendMessage
func (h *SessionHandler) SendMessage(c *fiber.Ctx) error {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := h.sessions.SendMessage(c.Context(), c.Params("id"), body.Prompt); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{})
}

// ApprovePlan handles POST /sessions/:id/approvePlan
func (h *SessionHandler) ApprovePlan(c *fiber.Ctx) error {
	if err := h.sessions.ApprovePlan(c.Context(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{})
}

// Refresh handles POST /sessions/:id/refresh
func (h *SessionHandler) Refresh(c *fiber.Ctx) error {
	session, err := h.sessions.ForceRefresh(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(session)
}

// fail maps service errors onto HTTP responses. Upstream messages are
// surfaced verbatim so the caller can display them.
func (h *SessionHandler) fail(c *fiber.Ctx, err error) error {
	var ue *upstream.UpstreamError
	var ae *upstream.AuthError
	var te *upstream.TransportError

	switch {
	case errors.Is(err, services.ErrSessionNotFound) || errors.Is(err, upstream.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.As(err, &ue):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": ue.Message})
	case errors.As(err, &ae):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Upstream rejected API key"})
	case errors.As(err, &te):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Upstream unreachable"})
	default:
		log.Printf("❌ [SESSIONS] Internal error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"julesboard/internal/auth"
	"julesboard/internal/services"
)

// AuthHandler issues and revokes session tokens over the request path.
// The same tokens gate the live-connection path.
type AuthHandler struct {
	authManager *auth.Manager
	metrics     *services.Metrics
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authManager *auth.Manager, metrics *services.Metrics) *AuthHandler {
	return &AuthHandler{authManager: authManager, metrics: metrics}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		Nonce     string `json:"nonce"`
		Timestamp string `json:"timestamp"`
		Signature string `json:"signature"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	creds := auth.Credentials{
		Username:  body.Username,
		Password:  body.Password,
		Nonce:     body.Nonce,
		Timestamp: body.Timestamp,
		Signature: body.Signature,
	}
	if !h.authManager.Authenticate(creds) {
		if h.metrics != nil {
			h.metrics.AuthFailures.WithLabelValues("http").Inc()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	token, err := h.authManager.Issue()
	if err != nil {
		log.Printf("❌ [AUTH] Token issue failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(fiber.Map{"sessionToken": token})
}

// Logout handles POST /auth/logout — revokes the presented token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		h.authManager.Revoke(strings.TrimPrefix(header, "Bearer "))
	}
	return c.JSON(fiber.Map{})
}

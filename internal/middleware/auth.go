package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"julesboard/internal/auth"
)

// RequireToken gates a route group on a valid bearer token issued by the
// auth session manager. Tokens may arrive in the Authorization header or
// the "token" query parameter (WebSocket upgrade requests cannot set
// headers from browsers).
func RequireToken(authManager *auth.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var token string

		header := c.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			token = c.Query("token")
		}

		if token == "" || !authManager.Verify(token) {
			log.Printf("🚫 [AUTH] Rejected request to %s: missing or invalid token", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		return c.Next()
	}
}

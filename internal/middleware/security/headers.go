package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets browser hardening headers. API responses are never
// cached since chats and research state change per turn.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	connectSrc := strings.TrimSpace("'self' " + strings.Join(cfg.AllowedOrigins, " "))
	csp := strings.Join([]string{
		"default-src 'none'",
		"connect-src " + connectSrc,
		"img-src 'self' data: https:",
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'self'",
	}, "; ")

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", csp)

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if err := c.Next(); err != nil {
			return err
		}

		if len(c.Response().Header.Peek(fiber.HeaderCacheControl)) == 0 {
			c.Set(fiber.HeaderCacheControl, "no-store")
		}
		return nil
	}
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORS sets the cross-origin headers on every response. origins is "*" or a
// comma separated allow list; a listed Origin is echoed back.
func CORS(origins string) fiber.Handler {
	origins = strings.TrimSpace(origins)
	wildcard := origins == "" || origins == "*"

	allowed := make(map[string]struct{})
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if wildcard {
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		} else {
			c.Vary(fiber.HeaderOrigin)
			if origin := c.Get(fiber.HeaderOrigin); origin != "" {
				if _, ok := allowed[origin]; ok {
					c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
				}
			}
		}
		c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type")
		return c.Next()
	}
}

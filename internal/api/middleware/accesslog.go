package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AccessLog logs one line per request. For streamed responses the line is
// written when the handler returns, before the body has been sent.
func AccessLog(log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		entry := log.WithFields(logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"ip":       c.IP(),
			"duration": time.Since(start).String(),
		})
		if id, ok := c.Locals("requestid").(string); ok {
			entry = entry.WithField("request_id", id)
		}

		switch {
		case status >= 500:
			entry.Warn("request failed")
		case status >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
		return err
	}
}

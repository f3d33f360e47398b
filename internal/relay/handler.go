package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/logging"
)

// HandlerConfig tunes the relay handler.
type HandlerConfig struct {
	Model    string
	MaxTurns int
	// Timeout bounds the whole upstream exchange, stream included, so it is
	// also the longest reply the relay will forward. A reply still running
	// when it fires is cut off.
	Timeout  time.Duration
}

// Handler is the HTTP face of the relay.
type Handler struct {
	upstream *Upstream
	cfg      HandlerConfig
	log      *logrus.Entry
}

// NewHandler creates a relay handler.
func NewHandler(upstream *Upstream, cfg HandlerConfig, log *logrus.Entry) *Handler {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if log == nil {
		log = logging.Component(nil, "relay")
	}
	return &Handler{upstream: upstream, cfg: cfg, log: log}
}

// Preflight answers cross-origin preflight requests with an empty 200.
func (h *Handler) Preflight(c *fiber.Ctx) error {
	c.Status(fiber.StatusOK)
	return nil
}

// MethodNotAllowed rejects anything other than POST and OPTIONS.
func (h *Handler) MethodNotAllowed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
		"error": "Method not allowed",
	})
}

// Chat handles POST /api/chat: it opens one streaming upstream completion
// and re-streams the text deltas as an unframed body.
func (h *Handler) Chat(c *fiber.Ctx) error {
	if !h.upstream.Configured() {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": ErrMissingAPIKey.Error(),
		})
	}

	var req ChatRequest
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	req.applyDefaults()

	log := h.log.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"turns":      len(req.Messages),
		"lang":       req.Lang,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	upstreamReq := BuildRequest(h.cfg.Model, h.cfg.MaxTurns, req)

	body, err := h.upstream.Open(ctx, upstreamReq)
	if err != nil {
		cancel()
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			log.WithField("status", upErr.Status).Warn("upstream rejected request")
		} else {
			log.WithError(err).Warn("upstream request failed")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	// Advertised as an event stream, but the body is plain concatenated text.
	c.Set(fiber.HeaderContentType, "text/event-stream; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-transform")
	c.Status(fiber.StatusOK)

	peer, watch := peerConn(c.Context().Conn())
	if watch {
		// The watcher may consume bytes of a following request.
		c.Context().Response.SetConnectionClose()
	} else {
		c.Set(fiber.HeaderConnection, "keep-alive")
	}

	started := time.Now()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		var clientGone atomic.Bool
		stopWatch := func() {}
		if watch {
			stopWatch = watchPeer(peer, func() {
				clientGone.Store(true)
				cancel()
			})
		}
		defer func() {
			stopWatch()
			cancel()
			body.Close()
		}()

		res, err := Pump(ctx, body, w)
		if res.Reason == ReasonCanceled && clientGone.Load() {
			res.Reason = ReasonClientGone
		}
		entry := log.WithFields(logrus.Fields{
			"deltas":   res.Deltas,
			"bytes":    res.Bytes,
			"reason":   res.Reason,
			"duration": time.Since(started).String(),
		})
		switch {
		case err != nil:
			entry.WithError(err).Warn("relay stream ended early")
		case res.Reason == ReasonClientGone:
			entry.Info("client disconnected, upstream released")
		case res.Reason == ReasonCanceled:
			entry.WithError(ctx.Err()).Warn("relay stream ended early")
		default:
			entry.Info("relay stream completed")
		}
	})

	return nil
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

// Register mounts the relay on router under /chat.
func (h *Handler) Register(router fiber.Router, middleware ...fiber.Handler) {
	handlers := func(final fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, middleware...), final)
	}
	router.Options("/chat", handlers(h.Preflight)...)
	router.Post("/chat", handlers(h.Chat)...)
	router.All("/chat", h.MethodNotAllowed)
}

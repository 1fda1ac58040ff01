package controller

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpulse/engine"
	"leadpulse/models"
	"leadpulse/utils"
)

// WebhookController receives provider delivery callbacks and applies them to
// contact attempts through the router.
type WebhookController struct {
	Router *engine.Router
	Logger *logrus.Entry
}

func NewWebhookController(router *engine.Router, logger *logrus.Entry) *WebhookController {
	return &WebhookController{Router: router, Logger: logger}
}

// HandleCallback accepts a provider callback for one channel. The channel
// comes from the URL so each provider can point at its own endpoint.
func (wc *WebhookController) HandleCallback(c *fiber.Ctx) error {
	ch := models.Channel(strings.ToUpper(c.Params("channel")))
	if !ch.Valid() {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown channel", nil)
	}

	payload := c.Body()
	if len(payload) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Empty callback body", nil)
	}

	if err := wc.Router.ApplyCallback(c.Context(), ch, payload); err != nil {
		wc.Logger.WithError(err).WithField("channel", ch).Warn("callback rejected")
		return respondEngineError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

// trackingPixel is a transparent 1x1 gif.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen records an email open from the tracking pixel. It always serves
// the pixel; a stale or duplicate hit is not the reader's problem.
func (wc *WebhookController) TrackOpen(c *fiber.Ctx) error {
	wc.applyTrackingEvent(c, "opened")
	c.Set("Content-Type", "image/gif")
	return c.Send(trackingPixel)
}

// TrackClick records a link click and redirects to the original URL.
func (wc *WebhookController) TrackClick(c *fiber.Ctx) error {
	wc.applyTrackingEvent(c, "clicked")

	target := c.Query("url")
	if target == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (wc *WebhookController) applyTrackingEvent(c *fiber.Ctx, event string) {
	messageID := c.Params("messageID")
	if !utils.VerifyTrackingToken(messageID, c.Params("token")) {
		wc.Logger.WithField("message_id", messageID).Warn("tracking token mismatch")
		return
	}
	payload, _ := json.Marshal(fiber.Map{"message_id": messageID, "event": event})
	if err := wc.Router.ApplyCallback(c.Context(), models.ChannelEmail, payload); err != nil {
		wc.Logger.WithError(err).WithField("message_id", messageID).Warn("tracking event rejected")
	}
}

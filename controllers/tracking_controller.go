package controller

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailquill/observability"
	"mailquill/queue"
	"mailquill/utils"
)

// transparentPixel is a 1x1 transparent GIF.
var transparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingController is the latency-sensitive ingress for open/click
// signals. The write path goes through the queue so the response is never
// blocked on storage; tracking is best effort and must never break the
// user-facing pixel or redirect.
type TrackingController struct {
	Queue  queue.Adapter
	Logger *logrus.Entry
	Secret string
}

func NewTrackingController(q queue.Adapter, logger *logrus.Entry, secret string) *TrackingController {
	return &TrackingController{Queue: q, Logger: logger, Secret: secret}
}

// TrackOpen serves the tracking pixel for email opens
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if utils.ValidateTrackingToken(tc.Secret, messageID, token) {
		tc.enqueueEvent(c, messageID, "open", nil)
	} else {
		tc.Logger.WithField("message_id", messageID).Debug("Invalid open tracking token")
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(transparentPixel)
}

// TrackClick records a click and redirects to the original URL. The
// redirect happens even when the enqueue fails or the token is bad.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")
	target := c.Query("url")

	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing redirect URL",
		})
	}
	decoded, err := url.QueryUnescape(target)
	if err != nil {
		decoded = target
	}

	if utils.ValidateTrackingToken(tc.Secret, messageID, token) {
		tc.enqueueEvent(c, messageID, "click", map[string]string{"url": decoded})
	} else {
		tc.Logger.WithField("message_id", messageID).Debug("Invalid click tracking token")
	}

	return c.Redirect(decoded, fiber.StatusFound)
}

func (tc *TrackingController) enqueueEvent(c *fiber.Ctx, messageID, eventType string, metadata map[string]string) {
	now := time.Now()
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["ip"] = c.IP()
	metadata["user_agent"] = c.Get("User-Agent")

	_, err := tc.Queue.EnqueueDelayed(c.Context(), queue.JobTrackEvent, queue.Payload{
		Kind:       queue.JobTrackEvent,
		MessageID:  messageID,
		EventType:  eventType,
		OccurredAt: &now,
		Metadata:   metadata,
	}, now)
	if err != nil {
		// Best effort only; the pixel/redirect must still be served.
		tc.Logger.WithError(err).WithField("message_id", messageID).Warn("Failed to enqueue tracking event")
		return
	}
	observability.TrackingEventsEnqueued.WithLabelValues(eventType).Inc()
}

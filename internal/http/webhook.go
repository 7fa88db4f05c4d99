package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/dispatcher"
	"github.com/jmehdipour/wadispatch/internal/logger"
)

const maxWebhookBody = 1 << 20

// WebhookClient verifies callbacks and acknowledges inbound messages.
type WebhookClient interface {
	VerifySignature(rawBody []byte, header string) bool
	MarkAsRead(ctx context.Context, messageID string) dispatcher.Result
}

type webhookHandlers struct {
	client      WebhookClient
	verifyToken string
}

// verify answers the subscription handshake.
func (h webhookHandlers) verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		return c.String(http.StatusOK, challenge)
	}
	return c.NoContent(http.StatusForbidden)
}

type webhookEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
				} `json:"messages"`
				Statuses []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					RecipientID string `json:"recipient_id"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// receive handles message and status callbacks. Inbound messages are marked
// as read; delivery statuses are logged only.
func (h webhookHandlers) receive(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if h.client == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}

	if !h.client.VerifySignature(raw, c.Request().Header.Get("X-Hub-Signature-256")) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid signature"})
	}

	var ev webhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	ctx := c.Request().Context()
	for _, entry := range ev.Entry {
		for _, ch := range entry.Changes {
			for _, m := range ch.Value.Messages {
				if m.ID == "" {
					continue
				}

				if res := h.client.MarkAsRead(ctx, m.ID); !res.Success {
					logger.Log.Warn("mark as read failed",
						zap.String("message_id", m.ID),
						zap.String("error", res.ErrorMessage))
				}
			}

			for _, st := range ch.Value.Statuses {
				logger.Log.Info("whatsapp status",
					zap.String("message_id", st.ID),
					zap.String("status", st.Status),
					zap.String("recipient", st.RecipientID))
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// maxWebhookBody ограничение размера тела вебхука
const maxWebhookBody = 1 << 20

// WebhookHandler принимает вебхуки платежных шлюзов
type WebhookHandler struct {
	reconciler service.Reconciler
	log        *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(reconciler service.Reconciler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		log:        log,
	}
}

// HandleWebhook обрабатывает POST /webhooks/:gateway.
// Код ответа управляет поведением шлюза: 2xx подтверждает доставку,
// 4xx закрывает ее навсегда, 5xx вызывает повторную отправку.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	var variant domain.GatewayVariant
	var signature string

	switch c.Param("gateway") {
	case "current":
		variant = domain.GatewayCurrent
		signature = c.GetHeader("X-Signature")
	case "legacy":
		variant = domain.GatewayLegacy
		signature = c.GetHeader("X-Legacy-Signature")
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	outcome, err := h.reconciler.HandleWebhook(c.Request.Context(), variant, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		case errors.Is(err, domain.ErrMalformedWebhook):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		case errors.Is(err, domain.ErrUnknownCharge):
			// Платеж мог еще не закоммититься: просим шлюз прислать позже
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "charge not found, retry later"})
		default:
			h.log.Errorw("Failed to handle webhook", "gateway", variant, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

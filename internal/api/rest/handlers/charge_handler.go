package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// defaultCurrency валюта позиций, если клиент ее не указал
const defaultCurrency = "BRL"

// ChargeHandler обработчик запросов к платежам
type ChargeHandler struct {
	orchestrator service.Orchestrator
	log          *logger.Logger
}

// NewChargeHandler создает новый обработчик платежей
func NewChargeHandler(orchestrator service.Orchestrator, log *logger.Logger) *ChargeHandler {
	return &ChargeHandler{
		orchestrator: orchestrator,
		log:          log,
	}
}

// CreateChargeRequest тело запроса создания платежа
type CreateChargeRequest struct {
	CustomerID string `json:"customer_id" binding:"required,uuid"`
	Products   []struct {
		ProductType string `json:"product_type" binding:"required"`
		ProductID   string `json:"product_id" binding:"required"`
		Amount      int64  `json:"amount" binding:"required,gt=0"`
		Currency    string `json:"currency"`
	} `json:"products" binding:"required,min=1,dive"`
	BillingType    string `json:"billing_type" binding:"required,oneof=one_time recurring"`
	DueDate        string `json:"due_date" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// ChargeResponse представление платежа в ответах API
type ChargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency,omitempty"`
	Gateway     string `json:"gateway,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// toChargeResponse собирает представление платежа
func toChargeResponse(charge domain.Charge) ChargeResponse {
	resp := ChargeResponse{
		ID:         charge.ID.String(),
		Status:     string(charge.Status),
		Gateway:    string(charge.GatewayUsed),
		ExternalID: charge.ExternalID,
	}
	if !charge.DueDate.IsZero() {
		resp.DueDate = charge.DueDate.Format("2006-01-02")
	}
	if total, err := charge.TotalAmount(); err == nil {
		resp.TotalAmount = total.Amount
		resp.Currency = total.Currency
	}
	return resp
}

// CreateCharge обрабатывает POST /api/v1/charges
func (h *ChargeHandler) CreateCharge(c *gin.Context) {
	var req CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid customer_id"})
		return
	}

	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid due_date, expected YYYY-MM-DD"})
		return
	}

	input := service.CreateChargeInput{
		CustomerID:     customerID,
		BillingType:    domain.BillingType(req.BillingType),
		DueDate:        dueDate,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, p := range req.Products {
		currency := p.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		input.Items = append(input.Items, service.ChargeItemInput{
			ProductType: p.ProductType,
			ProductID:   p.ProductID,
			Amount:      p.Amount,
			Currency:    currency,
		})
	}

	charge, err := h.orchestrator.CreateCharge(c.Request.Context(), input)
	if err != nil {
		h.respondChargeError(c, charge, err, req.IdempotencyKey)
		return
	}

	c.JSON(http.StatusCreated, toChargeResponse(charge))
}

// respondChargeError отображает ошибки создания платежа в HTTP-коды.
// В ответе всегда достаточно контекста (ключ идемпотентности, ID платежа),
// чтобы клиент мог безопасно повторить запрос без риска двойного списания.
func (h *ChargeHandler) respondChargeError(c *gin.Context, charge domain.Charge, err error, idempotencyKey string) {
	var verrs domain.ValidationErrors
	var rejected *domain.GatewayRejectedError

	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{
			"error":           "duplicate idempotency key",
			"idempotency_key": idempotencyKey,
			"charge":          toChargeResponse(charge),
		})
	case errors.As(err, &verrs):
		details := make([]gin.H, 0, len(verrs))
		for _, v := range verrs {
			details = append(details, gin.H{"field": v.Field, "message": v.Message})
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "details": details})
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "payment gateway unavailable, retry with the same idempotency key",
			"idempotency_key": idempotencyKey,
			"charge":          toChargeResponse(charge),
		})
	case errors.As(err, &rejected):
		c.JSON(http.StatusFailedDependency, gin.H{
			"error":  "payment gateway rejected the charge",
			"code":   rejected.Code,
			"reason": rejected.Message,
			"charge": toChargeResponse(charge),
		})
	default:
		h.log.Errorw("Failed to create charge", "error", err, "idempotencyKey", idempotencyKey)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// GetCharge обрабатывает GET /api/v1/charges/:id
func (h *ChargeHandler) GetCharge(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
		return
	}

	charge, err := h.orchestrator.GetCharge(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
			return
		}
		h.log.Errorw("Failed to get charge", "error", err, "chargeID", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toChargeResponse(charge))
}

// ListCustomerCharges обрабатывает GET /api/v1/customers/:id/charges
func (h *ChargeHandler) ListCustomerCharges(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
		return
	}

	charges, err := h.orchestrator.ListCustomerCharges(c.Request.Context(), customerID)
	if err != nil {
		h.log.Errorw("Failed to list customer charges", "error", err, "customerID", customerID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]ChargeResponse, 0, len(charges))
	for _, charge := range charges {
		responses = append(responses, toChargeResponse(charge))
	}

	c.JSON(http.StatusOK, gin.H{"charges": responses})
}

// RetryCharge обрабатывает POST /api/v1/charges/:id/retry
func (h *ChargeHandler) RetryCharge(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
		return
	}

	charge, err := h.orchestrator.RetryCharge(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCharge):
			c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
		case errors.Is(err, domain.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "charge is not in a retryable state"})
		case errors.Is(err, domain.ErrDuplicateRequest):
			c.JSON(http.StatusConflict, gin.H{"error": "charge is already being processed", "charge": toChargeResponse(charge)})
		case errors.Is(err, domain.ErrGatewayUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable", "charge": toChargeResponse(charge)})
		default:
			h.log.Errorw("Failed to retry charge", "error", err, "chargeID", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, toChargeResponse(charge))
}

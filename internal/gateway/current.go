package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CurrentConfig конфигурация клиента текущего шлюза
type CurrentConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// CurrentClient клиент текущего платежного шлюза (JSON API).
// Создается с явной конфигурацией, без process-wide состояния:
// несколько экземпляров сосуществуют безопасно.
type CurrentClient struct {
	cfg        CurrentConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewCurrentClient создает новый клиент текущего шлюза
func NewCurrentClient(cfg CurrentConfig, log *logger.Logger) *CurrentClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &CurrentClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Variant возвращает идентификатор шлюза
func (c *CurrentClient) Variant() domain.GatewayVariant {
	return domain.GatewayCurrent
}

// currentChargeRequest тело запроса создания транзакции
type currentChargeRequest struct {
	Reference   string              `json:"reference"`
	BillingType string              `json:"billing_type"`
	DueDate     string              `json:"due_date"`
	Customer    currentCustomer     `json:"customer"`
	Items       []currentChargeItem `json:"items"`
}

type currentCustomer struct {
	ExternalID string `json:"id,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	TaxID      string `json:"tax_id"`
	Phone      string `json:"phone"`
}

type currentChargeItem struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// currentChargeResponse ответ шлюза на создание транзакции
type currentChargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// CreateCharge создает транзакцию в текущем шлюзе
func (c *CurrentClient) CreateCharge(ctx context.Context, req CreateChargeRequest) (CreateChargeResult, error) {
	c.log.Debug("Creating charge in current gateway, reference: %s", req.Reference)

	body := currentChargeRequest{
		Reference:   req.Reference,
		BillingType: string(req.BillingType),
		DueDate:     req.DueDate.Format("2006-01-02"),
		Customer: currentCustomer{
			ExternalID: req.Customer.CurrentExternalID,
			Name:       req.Customer.Name,
			Email:      req.Customer.Email,
			TaxID:      req.Customer.TaxID,
			Phone:      req.Customer.Phone,
		},
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, currentChargeItem{
			Description: fmt.Sprintf("%s/%s", item.ProductType, item.ProductID),
			Amount:      item.Amount.Amount,
			Currency:    item.Amount.Currency,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return CreateChargeResult{}, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/charges", bytes.NewReader(payload))
	if err != nil {
		return CreateChargeResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Сетевая ошибка или таймаут: исход неизвестен, вызывающий
		// безопасно повторяет запрос с тем же ключом идемпотентности
		c.log.Warn("Current gateway request failed: %v", err)
		return CreateChargeResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var chargeResp currentChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&chargeResp); err != nil {
		return CreateChargeResult{}, fmt.Errorf("%w: failed to decode response: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CreateChargeResult{}, domain.ErrGatewayAuth
	case resp.StatusCode >= 500:
		return CreateChargeResult{}, fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		rejected := &domain.GatewayRejectedError{Gateway: domain.GatewayCurrent, Code: "rejected", Message: "charge rejected"}
		if chargeResp.Error != nil {
			rejected.Code = chargeResp.Error.Code
			rejected.Message = chargeResp.Error.Message
		}
		return CreateChargeResult{}, rejected
	}

	c.log.Info("Current gateway accepted charge %s with external ID %s, status: %s",
		req.Reference, chargeResp.ID, chargeResp.Status)

	return CreateChargeResult{
		ExternalID: chargeResp.ID,
		Status:     c.mapStatus(chargeResp.Status),
	}, nil
}

// FetchStatus запрашивает статус транзакции в текущем шлюзе
func (c *CurrentClient) FetchStatus(ctx context.Context, externalID string) (Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/charges/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", domain.ErrGatewayAuth
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrUnknownCharge
	}

	var chargeResp currentChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&chargeResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", domain.ErrGatewayUnavailable, err)
	}

	return c.mapStatus(chargeResp.Status), nil
}

// VerifyWebhookSignature проверяет HMAC-SHA256 подпись вебхука.
// hmac.Equal сравнивает за константное время.
func (c *CurrentClient) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}

	return hmac.Equal(expected, provided)
}

// currentWebhookPayload тело вебхука текущего шлюза
type currentWebhookPayload struct {
	EventID  string `json:"event_id"`
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"`
}

// ParseWebhook разбирает вебхук текущего шлюза
func (c *CurrentClient) ParseWebhook(payload []byte) (WebhookData, error) {
	var wh currentWebhookPayload
	if err := json.Unmarshal(payload, &wh); err != nil {
		return WebhookData{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}

	if wh.EventID == "" || wh.ChargeID == "" || wh.Status == "" {
		return WebhookData{}, fmt.Errorf("%w: missing required fields", domain.ErrMalformedWebhook)
	}

	return WebhookData{
		EventID:    wh.EventID,
		ExternalID: wh.ChargeID,
		Status:     c.mapStatus(wh.Status),
	}, nil
}

// mapStatus отображает wire-статусы текущего шлюза в нормализованные
func (c *CurrentClient) mapStatus(raw string) Status {
	switch raw {
	case "succeeded", "paid":
		return StatusPaid
	case "failed", "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}

var _ Client = (*CurrentClient)(nil)

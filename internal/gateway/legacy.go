package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// LegacyConfig конфигурация клиента старого шлюза
type LegacyConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// LegacyClient клиент старого платежного шлюза. API принимает
// form-encoded запросы, подпись вебхуков считается по HMAC-SHA1
// с префиксом "sha1=". Держим его живым на период миграции.
type LegacyClient struct {
	cfg        LegacyConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewLegacyClient создает новый клиент старого шлюза
func NewLegacyClient(cfg LegacyConfig, log *logger.Logger) *LegacyClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &LegacyClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Variant возвращает идентификатор шлюза
func (c *LegacyClient) Variant() domain.GatewayVariant {
	return domain.GatewayLegacy
}

// legacyChargeResponse ответ старого шлюза
type legacyChargeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// CreateCharge создает транзакцию в старом шлюзе
func (c *LegacyClient) CreateCharge(ctx context.Context, req CreateChargeRequest) (CreateChargeResult, error) {
	c.log.Debug("Creating charge in legacy gateway, reference: %s", req.Reference)

	// Старый API принимает одну общую сумму, позиции передаются описанием
	total, err := domain.SumMoney(itemAmounts(req.Items))
	if err != nil {
		return CreateChargeResult{}, err
	}

	formData := url.Values{}
	formData.Set("reference", req.Reference)
	formData.Set("amount", strconv.FormatInt(total.Amount, 10))
	formData.Set("currency", total.Currency)
	formData.Set("billing_type", string(req.BillingType))
	formData.Set("due_date", req.DueDate.Format("2006-01-02"))
	formData.Set("customer[name]", req.Customer.Name)
	formData.Set("customer[email]", req.Customer.Email)
	formData.Set("customer[tax_id]", req.Customer.TaxID)
	formData.Set("customer[phone]", req.Customer.Phone)
	if req.Customer.LegacyExternalID != "" {
		formData.Set("customer[id]", req.Customer.LegacyExternalID)
	}
	for i, item := range req.Items {
		formData.Set(fmt.Sprintf("items[%d][description]", i), item.ProductType+"/"+item.ProductID)
		formData.Set(fmt.Sprintf("items[%d][amount]", i), strconv.FormatInt(item.Amount.Amount, 10))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/charges", strings.NewReader(formData.Encode()))
	if err != nil {
		return CreateChargeResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn("Legacy gateway request failed: %v", err)
		return CreateChargeResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var chargeResp legacyChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&chargeResp); err != nil {
		return CreateChargeResult{}, fmt.Errorf("%w: failed to decode response: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CreateChargeResult{}, domain.ErrGatewayAuth
	case resp.StatusCode >= 500:
		return CreateChargeResult{}, fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return CreateChargeResult{}, &domain.GatewayRejectedError{
			Gateway: domain.GatewayLegacy,
			Code:    chargeResp.ErrorCode,
			Message: chargeResp.ErrorMessage,
		}
	}

	c.log.Info("Legacy gateway accepted charge %s with transaction ID %s, status: %s",
		req.Reference, chargeResp.TransactionID, chargeResp.Status)

	return CreateChargeResult{
		ExternalID: chargeResp.TransactionID,
		Status:     c.mapStatus(chargeResp.Status),
	}, nil
}

// FetchStatus запрашивает статус транзакции в старом шлюзе
func (c *LegacyClient) FetchStatus(ctx context.Context, externalID string) (Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/charges/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)

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

	var chargeResp legacyChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&chargeResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", domain.ErrGatewayUnavailable, err)
	}

	return c.mapStatus(chargeResp.Status), nil
}

// VerifyWebhookSignature проверяет HMAC-SHA1 подпись старого шлюза.
// Новые уведомления могут приходить и с SHA256 ("sha256=" префикс),
// принимаем оба варианта. hmac.Equal сравнивает за константное время.
func (c *LegacyClient) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	var expected []byte

	switch {
	case strings.HasPrefix(signatureHeader, "sha1="):
		mac := hmac.New(sha1.New, []byte(c.cfg.WebhookSecret))
		mac.Write(payload)
		expected = mac.Sum(nil)
		signatureHeader = strings.TrimPrefix(signatureHeader, "sha1=")
	case strings.HasPrefix(signatureHeader, "sha256="):
		mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
		mac.Write(payload)
		expected = mac.Sum(nil)
		signatureHeader = strings.TrimPrefix(signatureHeader, "sha256=")
	default:
		return false
	}

	provided, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}

	return hmac.Equal(expected, provided)
}

// ParseWebhook разбирает form-encoded вебхук старого шлюза
func (c *LegacyClient) ParseWebhook(payload []byte) (WebhookData, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return WebhookData{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}

	eventID := values.Get("notification_id")
	transactionID := values.Get("transaction_id")
	status := values.Get("status")

	if eventID == "" || transactionID == "" || status == "" {
		return WebhookData{}, fmt.Errorf("%w: missing required fields", domain.ErrMalformedWebhook)
	}

	return WebhookData{
		EventID:    eventID,
		ExternalID: transactionID,
		Status:     c.mapStatus(status),
	}, nil
}

// mapStatus отображает wire-статусы старого шлюза в нормализованные
func (c *LegacyClient) mapStatus(raw string) Status {
	switch raw {
	case "approved", "settled":
		return StatusPaid
	case "declined", "expired":
		return StatusFailed
	default:
		return StatusPending
	}
}

// itemAmounts собирает суммы позиций
func itemAmounts(items []domain.ChargeItem) []domain.Money {
	amounts := make([]domain.Money, len(items))
	for i, item := range items {
		amounts[i] = item.Amount
	}
	return amounts
}

var _ Client = (*LegacyClient)(nil)

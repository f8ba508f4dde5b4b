package gateway

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Status нормализованный статус транзакции на стороне шлюза.
// Каждый вариант шлюза отображает свои wire-статусы в этот набор.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// CreateChargeRequest данные для создания транзакции в шлюзе
type CreateChargeRequest struct {
	Customer    domain.Customer
	Items       []domain.ChargeItem
	BillingType domain.BillingType
	DueDate     time.Time
	// Reference наш ID платежа, шлюз возвращает его в вебхуках
	Reference string
}

// CreateChargeResult результат создания транзакции в шлюзе
type CreateChargeResult struct {
	ExternalID string
	Status     Status
}

// WebhookData разобранное вебхук-уведомление шлюза
type WebhookData struct {
	EventID    string
	ExternalID string
	Status     Status
}

// Client контракт платежного шлюза. Два варианта (CURRENT, LEGACY)
// реализуют его поверх разных wire-протоколов; за пределами этого пакета
// и координатора миграции никто не ветвится по идентичности шлюза.
type Client interface {
	// Variant возвращает идентификатор шлюза
	Variant() domain.GatewayVariant

	// CreateCharge создает транзакцию. Ошибки: ErrGatewayUnavailable
	// (транзиентная, вызывающий может повторить), GatewayRejectedError
	// (окончательный отказ с кодом причины), ErrGatewayAuth (конфигурация).
	CreateCharge(ctx context.Context, req CreateChargeRequest) (CreateChargeResult, error)

	// FetchStatus запрашивает текущий статус транзакции
	FetchStatus(ctx context.Context, externalID string) (Status, error)

	// VerifyWebhookSignature криптографически проверяет подпись вебхука.
	// Сравнение выполняется за константное время.
	VerifyWebhookSignature(payload []byte, signatureHeader string) bool

	// ParseWebhook разбирает тело вебхука. Ошибка: ErrMalformedWebhook.
	ParseWebhook(payload []byte) (WebhookData, error)
}

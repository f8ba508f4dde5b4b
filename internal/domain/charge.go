package domain

import (
	"time"

	"github.com/google/uuid"
)

// GatewayVariant идентифицирует платежный шлюз
type GatewayVariant string

const (
	GatewayCurrent GatewayVariant = "current"
	GatewayLegacy  GatewayVariant = "legacy"
)

// Valid проверяет, что вариант шлюза известен
func (v GatewayVariant) Valid() bool {
	return v == GatewayCurrent || v == GatewayLegacy
}

// BillingType тип списания
type BillingType string

const (
	BillingOneTime   BillingType = "one_time"
	BillingRecurring BillingType = "recurring"
)

// Valid проверяет, что тип списания известен
func (b BillingType) Valid() bool {
	return b == BillingOneTime || b == BillingRecurring
}

// ChargeStatus статус платежа, управляется только машиной состояний
type ChargeStatus string

const (
	ChargeStatusCreated  ChargeStatus = "created"
	ChargeStatusPending  ChargeStatus = "pending"
	ChargeStatusPaid     ChargeStatus = "paid"
	ChargeStatusFailed   ChargeStatus = "failed"
	ChargeStatusRetrying ChargeStatus = "retrying"
	ChargeStatusDead     ChargeStatus = "dead"
)

// ChargeItem одна позиция платежа, ссылается на продукт по паре (тип, ID).
// Создается атомарно вместе с родительским Charge и после этого неизменяема.
type ChargeItem struct {
	ID          uuid.UUID `json:"id"`
	ChargeID    uuid.UUID `json:"charge_id"`
	ProductType string    `json:"product_type"`
	ProductID   string    `json:"product_id"`
	Amount      Money     `json:"amount"`
}

// Charge платеж, финансовая запись. Никогда не удаляется: терминальные
// состояния окончательны, корректировки оформляются новыми платежами.
type Charge struct {
	ID             uuid.UUID      `json:"id"`
	CustomerID     uuid.UUID      `json:"customer_id"`
	BillingType    BillingType    `json:"billing_type"`
	Status         ChargeStatus   `json:"status"`
	GatewayUsed    GatewayVariant `json:"gateway_used"`
	ExternalID     string         `json:"external_id,omitempty"`
	DueDate        time.Time      `json:"due_date"`
	IdempotencyKey string         `json:"idempotency_key"`
	RetryCount     int            `json:"retry_count"`
	Items          []ChargeItem   `json:"items"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TotalAmount возвращает сумму всех позиций платежа. Позиции неизменяемы,
// поэтому значение безопасно кешировать снаружи.
func (c *Charge) TotalAmount() (Money, error) {
	amounts := make([]Money, len(c.Items))
	for i, item := range c.Items {
		amounts[i] = item.Amount
	}
	return SumMoney(amounts)
}

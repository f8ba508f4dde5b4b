package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent запись журнала дедупликации вебхуков. Создается при первой
// успешной верификации события и больше не меняется, кроме установки
// ProcessedAt. Шлюзы доставляют at-least-once, журнал гарантирует
// at-most-once эффект.
type WebhookEvent struct {
	ID             uuid.UUID      `json:"id"`
	Gateway        GatewayVariant `json:"gateway"`
	GatewayEventID string         `json:"gateway_event_id"`
	ChargeID       uuid.UUID      `json:"charge_id"`
	ReceivedStatus string         `json:"received_status"`
	ReceivedAt     time.Time      `json:"received_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

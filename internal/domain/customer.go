package domain

import (
	"time"

	"github.com/google/uuid"
)

// GatewayAssignment привязка клиента к шлюзу в рамках миграции
type GatewayAssignment string

const (
	AssignmentCurrent GatewayAssignment = "current"
	AssignmentLegacy  GatewayAssignment = "legacy"
	AssignmentDual    GatewayAssignment = "dual"
)

// Customer клиент платформы. gateway_assignment меняется только
// координатором миграции.
type Customer struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	TaxID             string            `json:"tax_id"`
	Phone             string            `json:"phone"`
	GatewayAssignment GatewayAssignment `json:"gateway_assignment"`
	LegacyExternalID  string            `json:"legacy_external_id,omitempty"`
	CurrentExternalID string            `json:"current_external_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// MigrationAuditEntry запись аудита смены привязки шлюза (append-only)
type MigrationAuditEntry struct {
	ID             uuid.UUID         `json:"id"`
	CustomerID     uuid.UUID         `json:"customer_id"`
	FromAssignment GatewayAssignment `json:"from_assignment"`
	ToAssignment   GatewayAssignment `json:"to_assignment"`
	CreatedAt      time.Time         `json:"created_at"`
}

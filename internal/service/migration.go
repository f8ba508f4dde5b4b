package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
)

// MigrationCoordinator управляет привязкой клиентов к шлюзам на период
// миграции со старого шлюза на текущий
type MigrationCoordinator interface {
	// MarkLegacy помечает клиента как еще не мигрированного
	MarkLegacy(ctx context.Context, customerID uuid.UUID) error

	// BeginDual открывает окно двойного шлюза: вебхуки обоих шлюзов
	// принимаются для исторических платежей, новые платежи идут в CURRENT
	BeginDual(ctx context.Context, customerID uuid.UUID) error

	// CompleteMigration завершает миграцию. Возвращает
	// ErrMigrationIncomplete, пока у клиента остаются незавершенные
	// платежи на старом шлюзе.
	CompleteMigration(ctx context.Context, customerID uuid.UUID) error

	// RouteFor выбирает шлюз для новых платежей клиента
	RouteFor(ctx context.Context, customerID uuid.UUID) (domain.GatewayVariant, error)

	// AuditLog возвращает журнал смен привязки клиента
	AuditLog(ctx context.Context, customerID uuid.UUID) ([]domain.MigrationAuditEntry, error)
}

// migrationCoordinator реализация координатора миграции
type migrationCoordinator struct {
	customers repository.CustomerRepository
	log       *logger.Logger
}

// NewMigrationCoordinator создает новый координатор миграции
func NewMigrationCoordinator(
	customers repository.CustomerRepository,
	log *logger.Logger,
) MigrationCoordinator {
	return &migrationCoordinator{
		customers: customers,
		log:       log,
	}
}

// setAssignment переводит клиента в новую привязку с записью аудита
func (m *migrationCoordinator) setAssignment(ctx context.Context, customerID uuid.UUID, to domain.GatewayAssignment) error {
	customer, err := m.customers.GetByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrCustomerNotFound
		}
		return err
	}

	if customer.GatewayAssignment == to {
		// Повтор той же операции безвреден
		return nil
	}

	if err := m.customers.UpdateAssignment(ctx, customerID, customer.GatewayAssignment, to); err != nil {
		return fmt.Errorf("failed to update assignment for customer %s: %w", customerID, err)
	}

	m.log.Infow("Customer gateway assignment changed",
		"customerID", customerID, "from", customer.GatewayAssignment, "to", to)
	return nil
}

// MarkLegacy помечает клиента как еще не мигрированного
func (m *migrationCoordinator) MarkLegacy(ctx context.Context, customerID uuid.UUID) error {
	return m.setAssignment(ctx, customerID, domain.AssignmentLegacy)
}

// BeginDual открывает окно двойного шлюза
func (m *migrationCoordinator) BeginDual(ctx context.Context, customerID uuid.UUID) error {
	return m.setAssignment(ctx, customerID, domain.AssignmentDual)
}

// CompleteMigration завершает миграцию клиента на текущий шлюз.
// Проверка незавершенных legacy-платежей и смена привязки выполняются
// одной транзакцией хранилища.
func (m *migrationCoordinator) CompleteMigration(ctx context.Context, customerID uuid.UUID) error {
	customer, err := m.customers.GetByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrCustomerNotFound
		}
		return err
	}

	if customer.GatewayAssignment == domain.AssignmentCurrent {
		// Повтор той же операции безвреден
		return nil
	}

	err = m.customers.UpdateAssignmentIfNoOpenCharges(ctx, customerID,
		customer.GatewayAssignment, domain.AssignmentCurrent, domain.GatewayLegacy)
	if err != nil {
		if errors.Is(err, repository.ErrChargesOpen) {
			m.log.Warnw("Migration completion blocked: legacy charges still open",
				"customerID", customerID, "error", err)
			return fmt.Errorf("%w: %v", domain.ErrMigrationIncomplete, err)
		}
		return fmt.Errorf("failed to complete migration for customer %s: %w", customerID, err)
	}

	m.log.Infow("Customer gateway assignment changed",
		"customerID", customerID, "from", customer.GatewayAssignment, "to", domain.AssignmentCurrent)
	return nil
}

// RouteFor выбирает шлюз для новых платежей: CURRENT и DUAL маршрутизируют
// в текущий шлюз, LEGACY — в старый
func (m *migrationCoordinator) RouteFor(ctx context.Context, customerID uuid.UUID) (domain.GatewayVariant, error) {
	customer, err := m.customers.GetByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrCustomerNotFound
		}
		return "", err
	}

	if customer.GatewayAssignment == domain.AssignmentLegacy {
		return domain.GatewayLegacy, nil
	}
	return domain.GatewayCurrent, nil
}

// AuditLog возвращает журнал смен привязки клиента
func (m *migrationCoordinator) AuditLog(ctx context.Context, customerID uuid.UUID) ([]domain.MigrationAuditEntry, error) {
	return m.customers.GetAuditLog(ctx, customerID)
}

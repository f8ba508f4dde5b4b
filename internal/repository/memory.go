package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
)

// InMemoryChargeRepository реализация репозитория платежей в памяти.
// Используется в тестах и локальной разработке; повторяет транзакционный
// контракт постгрес-реализации, включая охрану переходов по статусу.
type InMemoryChargeRepository struct {
	charges map[uuid.UUID]domain.Charge
	byKey   map[string]uuid.UUID
	claims  map[uuid.UUID]time.Time
	mutex   sync.RWMutex
	log     *logger.Logger

	// ledger журнал вебхуков, отмечаемый вместе с переходом,
	// как это делает постгрес-реализация в одной транзакции
	ledger *InMemoryWebhookEventRepository
}

// NewInMemoryChargeRepository создает новый репозиторий платежей в памяти
func NewInMemoryChargeRepository(log *logger.Logger) *InMemoryChargeRepository {
	return &InMemoryChargeRepository{
		charges: make(map[uuid.UUID]domain.Charge),
		byKey:   make(map[string]uuid.UUID),
		claims:  make(map[uuid.UUID]time.Time),
		log:     log,
	}
}

// CreateWithItems вставляет платеж и его позиции
func (r *InMemoryChargeRepository) CreateWithItems(ctx context.Context, charge domain.Charge) (domain.Charge, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byKey[charge.IdempotencyKey]; exists {
		return domain.Charge{}, ErrDuplicate
	}

	now := time.Now()
	charge.CreatedAt = now
	charge.UpdatedAt = now

	r.charges[charge.ID] = charge
	r.byKey[charge.IdempotencyKey] = charge.ID

	return charge, nil
}

// GetByID возвращает платеж по ID
func (r *InMemoryChargeRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	charge, exists := r.charges[id]
	if !exists {
		return domain.Charge{}, ErrNotFound
	}

	return charge, nil
}

// GetByIdempotencyKey возвращает платеж по ключу идемпотентности
func (r *InMemoryChargeRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Charge, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.byKey[key]
	if !exists {
		return domain.Charge{}, ErrNotFound
	}

	return r.charges[id], nil
}

// GetByExternalID возвращает платеж по ID транзакции шлюза
func (r *InMemoryChargeRepository) GetByExternalID(ctx context.Context, gw domain.GatewayVariant, externalID string) (domain.Charge, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, charge := range r.charges {
		if charge.GatewayUsed == gw && charge.ExternalID == externalID {
			return charge, nil
		}
	}

	return domain.Charge{}, ErrNotFound
}

// GetByCustomerID возвращает платежи клиента
func (r *InMemoryChargeRepository) GetByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var charges []domain.Charge
	for _, charge := range r.charges {
		if charge.CustomerID == customerID {
			charges = append(charges, charge)
		}
	}

	return charges, nil
}

// CountNonTerminal считает незавершенные платежи клиента на шлюзе
func (r *InMemoryChargeRepository) CountNonTerminal(ctx context.Context, customerID uuid.UUID, gw domain.GatewayVariant) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	count := 0
	for _, charge := range r.charges {
		if charge.CustomerID == customerID && charge.GatewayUsed == gw && !domain.IsTerminal(charge.Status) {
			count++
		}
	}

	return count, nil
}

// ApplyTransition применяет переход состояния с охраной по текущему статусу
func (r *InMemoryChargeRepository) ApplyTransition(ctx context.Context, t Transition) (domain.Charge, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	charge, exists := r.charges[t.ChargeID]
	if !exists {
		return domain.Charge{}, ErrNotFound
	}

	if charge.Status != t.From {
		return domain.Charge{}, ErrStaleTransition
	}

	charge.Status = t.To
	if t.ExternalID != "" {
		charge.ExternalID = t.ExternalID
	}
	if t.IncrementRetry {
		charge.RetryCount++
	}
	charge.UpdatedAt = time.Now()

	r.charges[t.ChargeID] = charge

	if t.Event != nil && r.ledger != nil {
		if err := r.ledger.MarkProcessed(ctx, t.Event.ID, time.Now()); err != nil && !errors.Is(err, ErrNotFound) {
			return domain.Charge{}, err
		}
	}

	return charge, nil
}

// ClaimSubmission захватывает право на отправку платежа в шлюз.
// Как и в постгрес-реализации, захват выдается только для платежа
// в состоянии created; захват старше staleAfter перехватывается.
func (r *InMemoryChargeRepository) ClaimSubmission(ctx context.Context, chargeID uuid.UUID, staleAfter time.Duration) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	charge, exists := r.charges[chargeID]
	if !exists || charge.Status != domain.ChargeStatusCreated {
		return false, nil
	}

	if at, held := r.claims[chargeID]; held && time.Since(at) < staleAfter {
		return false, nil
	}

	r.claims[chargeID] = time.Now()
	return true, nil
}

// ReleaseSubmission снимает захват отправки
func (r *InMemoryChargeRepository) ReleaseSubmission(ctx context.Context, chargeID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.claims, chargeID)
	return nil
}

// AttachWebhookLedger связывает журнал вебхуков с репозиторием платежей,
// чтобы ApplyTransition отмечал события обработанными вместе с переходом
func (r *InMemoryChargeRepository) AttachWebhookLedger(ledger *InMemoryWebhookEventRepository) {
	r.ledger = ledger
}

var _ ChargeRepository = (*InMemoryChargeRepository)(nil)

// InMemoryWebhookEventRepository журнал вебхуков в памяти
type InMemoryWebhookEventRepository struct {
	events  map[uuid.UUID]domain.WebhookEvent
	byEvent map[string]uuid.UUID
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewInMemoryWebhookEventRepository создает новый журнал вебхуков в памяти
func NewInMemoryWebhookEventRepository(log *logger.Logger) *InMemoryWebhookEventRepository {
	return &InMemoryWebhookEventRepository{
		events:  make(map[uuid.UUID]domain.WebhookEvent),
		byEvent: make(map[string]uuid.UUID),
		log:     log,
	}
}

func eventKey(gw domain.GatewayVariant, eventID string) string {
	return fmt.Sprintf("%s:%s", gw, eventID)
}

// Insert создает запись журнала
func (r *InMemoryWebhookEventRepository) Insert(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := eventKey(event.Gateway, event.GatewayEventID)
	if _, exists := r.byEvent[key]; exists {
		return domain.WebhookEvent{}, ErrDuplicate
	}

	event.ReceivedAt = time.Now()
	r.events[event.ID] = event
	r.byEvent[key] = event.ID

	return event, nil
}

// GetByGatewayEventID возвращает запись по ID события шлюза
func (r *InMemoryWebhookEventRepository) GetByGatewayEventID(ctx context.Context, gw domain.GatewayVariant, eventID string) (domain.WebhookEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.byEvent[eventKey(gw, eventID)]
	if !exists {
		return domain.WebhookEvent{}, ErrNotFound
	}

	return r.events[id], nil
}

// MarkProcessed устанавливает processed_at
func (r *InMemoryWebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	event, exists := r.events[id]
	if !exists {
		return ErrNotFound
	}

	event.ProcessedAt = &at
	r.events[id] = event

	return nil
}

var _ WebhookEventRepository = (*InMemoryWebhookEventRepository)(nil)

// OpenChargeCounter считает незавершенные платежи клиента на шлюзе
type OpenChargeCounter func(ctx context.Context, customerID uuid.UUID, gw domain.GatewayVariant) (int, error)

// InMemoryCustomerRepository репозиторий клиентов в памяти
type InMemoryCustomerRepository struct {
	customers map[uuid.UUID]domain.Customer
	audit     []domain.MigrationAuditEntry
	mutex     sync.RWMutex
	log       *logger.Logger

	// countOpen проверка незавершенных платежей для
	// UpdateAssignmentIfNoOpenCharges, выполняется под мьютексом клиентов
	// как аналог одной транзакции постгрес-реализации
	countOpen OpenChargeCounter
}

// NewInMemoryCustomerRepository создает новый репозиторий клиентов в памяти
func NewInMemoryCustomerRepository(log *logger.Logger) *InMemoryCustomerRepository {
	return &InMemoryCustomerRepository{
		customers: make(map[uuid.UUID]domain.Customer),
		log:       log,
	}
}

// GetByID возвращает клиента по ID
func (r *InMemoryCustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	customer, exists := r.customers[id]
	if !exists {
		return domain.Customer{}, ErrNotFound
	}

	return customer, nil
}

// Create создает клиента
func (r *InMemoryCustomerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.customers[customer.ID]; exists {
		return domain.Customer{}, ErrDuplicate
	}

	now := time.Now()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	r.customers[customer.ID] = customer

	return customer, nil
}

// UpdateAssignment меняет привязку шлюза и пишет запись аудита
func (r *InMemoryCustomerRepository) UpdateAssignment(ctx context.Context, customerID uuid.UUID, from, to domain.GatewayAssignment) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	customer, exists := r.customers[customerID]
	if !exists {
		return ErrNotFound
	}

	if customer.GatewayAssignment != from {
		return ErrStaleTransition
	}

	customer.GatewayAssignment = to
	customer.UpdatedAt = time.Now()
	r.customers[customerID] = customer

	r.audit = append(r.audit, domain.MigrationAuditEntry{
		ID:             uuid.New(),
		CustomerID:     customerID,
		FromAssignment: from,
		ToAssignment:   to,
		CreatedAt:      time.Now(),
	})

	return nil
}

// UpdateAssignmentIfNoOpenCharges меняет привязку шлюза, требуя отсутствия
// незавершенных платежей клиента на шлюзе gw
func (r *InMemoryCustomerRepository) UpdateAssignmentIfNoOpenCharges(ctx context.Context, customerID uuid.UUID, from, to domain.GatewayAssignment, gw domain.GatewayVariant) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	customer, exists := r.customers[customerID]
	if !exists {
		return ErrNotFound
	}
	if customer.GatewayAssignment != from {
		return ErrStaleTransition
	}

	if r.countOpen != nil {
		open, err := r.countOpen(ctx, customerID, gw)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: %d charges on gateway %s", ErrChargesOpen, open, gw)
		}
	}

	customer.GatewayAssignment = to
	customer.UpdatedAt = time.Now()
	r.customers[customerID] = customer

	r.audit = append(r.audit, domain.MigrationAuditEntry{
		ID:             uuid.New(),
		CustomerID:     customerID,
		FromAssignment: from,
		ToAssignment:   to,
		CreatedAt:      time.Now(),
	})

	return nil
}

// AttachOpenChargeCounter связывает проверку незавершенных платежей
// с репозиторием клиентов
func (r *InMemoryCustomerRepository) AttachOpenChargeCounter(count OpenChargeCounter) {
	r.countOpen = count
}

// GetAuditLog возвращает журнал миграций клиента
func (r *InMemoryCustomerRepository) GetAuditLog(ctx context.Context, customerID uuid.UUID) ([]domain.MigrationAuditEntry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var entries []domain.MigrationAuditEntry
	for _, entry := range r.audit {
		if entry.CustomerID == customerID {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

var _ CustomerRepository = (*InMemoryCustomerRepository)(nil)

// InMemoryProductCatalog справочник продуктов в памяти
type InMemoryProductCatalog struct {
	products map[string]struct{}
	mutex    sync.RWMutex
}

// NewInMemoryProductCatalog создает новый справочник продуктов в памяти
func NewInMemoryProductCatalog() *InMemoryProductCatalog {
	return &InMemoryProductCatalog{
		products: make(map[string]struct{}),
	}
}

// Add регистрирует продукт в справочнике
func (c *InMemoryProductCatalog) Add(productType, productID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.products[productType+":"+productID] = struct{}{}
}

// Exists проверяет существование продукта
func (c *InMemoryProductCatalog) Exists(ctx context.Context, productType, productID string) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.products[productType+":"+productID]
	return ok, nil
}

var _ ProductCatalog = (*InMemoryProductCatalog)(nil)

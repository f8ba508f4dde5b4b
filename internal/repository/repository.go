package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/google/uuid"
)

// Transition атомарное изменение состояния платежа. Применяется одним
// коммитом: строка платежа обновляется с охраной по текущему статусу,
// и, если задан Event, запись журнала вебхуков помечается обработанной
// в той же транзакции.
type Transition struct {
	ChargeID uuid.UUID
	From     domain.ChargeStatus
	To       domain.ChargeStatus

	// ExternalID устанавливается один раз при переходе CREATED -> PENDING
	ExternalID string

	// IncrementRetry увеличивает счетчик попыток (переход в RETRYING)
	IncrementRetry bool

	// Event запись журнала дедупликации, помечается обработанной
	// вместе с коммитом перехода
	Event *domain.WebhookEvent
}

// ChargeRepository граница владения агрегатом Charge/ChargeItem.
// Уникальность idempotency_key обеспечивается индексом БД, не проверкой
// перед вставкой: гонка конкурентных дубликатов закрывается на уровне
// хранилища.
type ChargeRepository interface {
	// CreateWithItems вставляет платеж и его позиции одной транзакцией.
	// Возвращает ErrDuplicate при коллизии ключа идемпотентности.
	CreateWithItems(ctx context.Context, charge domain.Charge) (domain.Charge, error)

	// GetByID возвращает платеж с позициями
	GetByID(ctx context.Context, id uuid.UUID) (domain.Charge, error)

	// GetByIdempotencyKey возвращает платеж по ключу идемпотентности
	GetByIdempotencyKey(ctx context.Context, key string) (domain.Charge, error)

	// GetByExternalID возвращает платеж по ID транзакции шлюза
	GetByExternalID(ctx context.Context, gw domain.GatewayVariant, externalID string) (domain.Charge, error)

	// GetByCustomerID возвращает платежи клиента
	GetByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error)

	// CountNonTerminal считает незавершенные платежи клиента на шлюзе
	CountNonTerminal(ctx context.Context, customerID uuid.UUID, gw domain.GatewayVariant) (int, error)

	// ApplyTransition применяет переход состояния атомарно.
	// Возвращает ErrStaleTransition, если строка уже не в состоянии From.
	ApplyTransition(ctx context.Context, t Transition) (domain.Charge, error)

	// ClaimSubmission атомарно захватывает право на отправку платежа в шлюз.
	// Захват выдается только для платежа в состоянии created и ровно одному
	// из конкурентных запросов; захват старше staleAfter считается брошенным
	// и перехватывается.
	ClaimSubmission(ctx context.Context, chargeID uuid.UUID, staleAfter time.Duration) (bool, error)

	// ReleaseSubmission снимает захват отправки, разрешая повторную попытку
	ReleaseSubmission(ctx context.Context, chargeID uuid.UUID) error
}

// WebhookEventRepository журнал дедупликации вебхуков
type WebhookEventRepository interface {
	// Insert создает запись журнала. Возвращает ErrDuplicate при повторе
	// (gateway, gateway_event_id).
	Insert(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error)

	// GetByGatewayEventID возвращает запись по ID события шлюза
	GetByGatewayEventID(ctx context.Context, gw domain.GatewayVariant, eventID string) (domain.WebhookEvent, error)

	// MarkProcessed устанавливает processed_at
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// CustomerRepository доступ к клиентам и журналу аудита миграций
type CustomerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error)
	Create(ctx context.Context, customer domain.Customer) (domain.Customer, error)

	// UpdateAssignment меняет привязку шлюза и пишет запись аудита
	// одной транзакцией
	UpdateAssignment(ctx context.Context, customerID uuid.UUID, from, to domain.GatewayAssignment) error

	// UpdateAssignmentIfNoOpenCharges меняет привязку шлюза с записью аудита,
	// дополнительно требуя отсутствия незавершенных платежей клиента на шлюзе
	// gw. Проверка и смена привязки выполняются одной транзакцией.
	// Возвращает ErrChargesOpen при незавершенных платежах и
	// ErrStaleTransition при несовпадении текущей привязки с from.
	UpdateAssignmentIfNoOpenCharges(ctx context.Context, customerID uuid.UUID, from, to domain.GatewayAssignment, gw domain.GatewayVariant) error

	// GetAuditLog возвращает журнал миграций клиента
	GetAuditLog(ctx context.Context, customerID uuid.UUID) ([]domain.MigrationAuditEntry, error)
}

// ProductCatalog read-only справочник продуктов. Жизненный цикл продуктов
// внешний, ядру нужна только проверка существования.
type ProductCatalog interface {
	Exists(ctx context.Context, productType, productID string) (bool, error)
}

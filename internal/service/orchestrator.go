package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/gateway"
	"github.com/Dhoini/Billing-microservice/internal/kafka"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
)

const (
	// transitionAttempts число попыток применить переход при конкуренции
	transitionAttempts = 3

	// transitionBackoff базовая задержка между попытками
	transitionBackoff = 50 * time.Millisecond

	// gatewayCallTimeout таймаут вызова шлюза после отсоединения от
	// контекста запроса
	gatewayCallTimeout = 30 * time.Second

	// submissionClaimTTL срок, после которого захват отправки считается
	// брошенным. Больше таймаута вызова шлюза: живой отправитель успевает
	// завершить переход до того, как захват можно перехватить.
	submissionClaimTTL = 2 * gatewayCallTimeout
)

// ChargeItemInput позиция в запросе создания платежа
type ChargeItemInput struct {
	ProductType string
	ProductID   string
	Amount      int64
	Currency    string
}

// CreateChargeInput запрос создания платежа
type CreateChargeInput struct {
	CustomerID     uuid.UUID
	Items          []ChargeItemInput
	BillingType    domain.BillingType
	DueDate        time.Time
	IdempotencyKey string
}

// Orchestrator управляет жизненным циклом платежа: выбор шлюза, вызов,
// применение переходов машины состояний с атомарным коммитом. Это
// единственный путь перевода платежа из CREATED в PENDING и единственный
// писатель external_id.
type Orchestrator interface {
	// CreateCharge создает платеж. Повтор с тем же ключом идемпотентности
	// для уже отправленного в шлюз платежа возвращает существующий платеж
	// и ErrDuplicateRequest; для платежа, застрявшего в CREATED из-за
	// недоступности шлюза, безопасно возобновляет отправку.
	CreateCharge(ctx context.Context, input CreateChargeInput) (domain.Charge, error)

	// GetCharge возвращает платеж по ID
	GetCharge(ctx context.Context, id uuid.UUID) (domain.Charge, error)

	// ListCustomerCharges возвращает платежи клиента
	ListCustomerCharges(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error)

	// RetryCharge повторяет неуспешный платеж. При исчерпании попыток
	// переводит платеж в DEAD.
	RetryCharge(ctx context.Context, id uuid.UUID) (domain.Charge, error)

	// ApplyEvent применяет событие машины состояний к платежу с
	// ограниченным числом повторов при конкурентных записях.
	// Используется оркестратором и реконсилятором вебхуков.
	ApplyEvent(ctx context.Context, charge domain.Charge, event domain.Event, externalID string, webhookEvent *domain.WebhookEvent) (domain.Charge, error)
}

// orchestrator реализация оркестратора платежей
type orchestrator struct {
	charges   repository.ChargeRepository
	customers repository.CustomerRepository
	products  repository.ProductCatalog
	gateways  map[domain.GatewayVariant]gateway.Client
	migration MigrationCoordinator
	producer  kafka.Producer
	metrics   metrics.BillingMetrics
	log       *logger.Logger
}

// NewOrchestrator создает новый оркестратор платежей
func NewOrchestrator(
	charges repository.ChargeRepository,
	customers repository.CustomerRepository,
	products repository.ProductCatalog,
	gateways map[domain.GatewayVariant]gateway.Client,
	migration MigrationCoordinator,
	producer kafka.Producer,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) Orchestrator {
	return &orchestrator{
		charges:   charges,
		customers: customers,
		products:  products,
		gateways:  gateways,
		migration: migration,
		producer:  producer,
		metrics:   billingMetrics,
		log:       log,
	}
}

// validateInput проверяет запрос создания платежа
func (o *orchestrator) validateInput(ctx context.Context, input CreateChargeInput) ([]domain.ChargeItem, error) {
	var verrs domain.ValidationErrors

	if input.IdempotencyKey == "" {
		verrs.Add("idempotency_key", "is required")
	}
	if !input.BillingType.Valid() {
		verrs.Add("billing_type", "must be one_time or recurring")
	}
	if input.DueDate.IsZero() {
		verrs.Add("due_date", "is required")
	}
	if len(input.Items) == 0 {
		verrs.Add("items", "at least one item is required")
	}

	items := make([]domain.ChargeItem, 0, len(input.Items))
	for i, in := range input.Items {
		amount, err := domain.NewMoney(in.Amount, in.Currency)
		if err != nil {
			verrs.Add(fmt.Sprintf("items[%d].amount", i), err.Error())
			continue
		}

		exists, err := o.products.Exists(ctx, in.ProductType, in.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to check product %s/%s: %w", in.ProductType, in.ProductID, err)
		}
		if !exists {
			verrs.Add(fmt.Sprintf("items[%d].product", i), "product not found")
		}

		items = append(items, domain.ChargeItem{
			ID:          uuid.New(),
			ProductType: in.ProductType,
			ProductID:   in.ProductID,
			Amount:      amount,
		})
	}

	if verrs.HasErrors() {
		return nil, verrs
	}

	// Позиции должны сложиться в одну валюту
	amounts := make([]domain.Money, len(items))
	for i, item := range items {
		amounts[i] = item.Amount
	}
	if _, err := domain.SumMoney(amounts); err != nil {
		return nil, err
	}

	return items, nil
}

// CreateCharge создает платеж и отправляет его в выбранный шлюз
func (o *orchestrator) CreateCharge(ctx context.Context, input CreateChargeInput) (domain.Charge, error) {
	items, err := o.validateInput(ctx, input)
	if err != nil {
		return domain.Charge{}, err
	}

	customer, err := o.customers.GetByID(ctx, input.CustomerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Charge{}, domain.ErrCustomerNotFound
		}
		return domain.Charge{}, err
	}

	// Выбор шлюза: в окне DUAL новые платежи всегда идут в CURRENT
	variant, err := o.migration.RouteFor(ctx, customer.ID)
	if err != nil {
		return domain.Charge{}, err
	}

	charge := domain.Charge{
		ID:             uuid.New(),
		CustomerID:     customer.ID,
		BillingType:    input.BillingType,
		Status:         domain.ChargeStatusCreated,
		GatewayUsed:    variant,
		DueDate:        input.DueDate,
		IdempotencyKey: input.IdempotencyKey,
	}
	for i := range items {
		items[i].ChargeID = charge.ID
	}
	charge.Items = items

	created, err := o.charges.CreateWithItems(ctx, charge)
	if err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return domain.Charge{}, err
		}

		// Ключ уже занят. Если предыдущая попытка застряла в CREATED
		// (шлюз был недоступен), возобновляем отправку того же платежа;
		// иначе это настоящий дубликат.
		existing, getErr := o.charges.GetByIdempotencyKey(ctx, input.IdempotencyKey)
		if getErr != nil {
			return domain.Charge{}, getErr
		}
		if existing.Status != domain.ChargeStatusCreated {
			o.log.Infow("Duplicate create request", "idempotencyKey", input.IdempotencyKey, "chargeID", existing.ID)
			return existing, domain.ErrDuplicateRequest
		}

		o.log.Infow("Resuming gateway submission for stuck charge",
			"chargeID", existing.ID, "idempotencyKey", input.IdempotencyKey)
		created = existing
	} else {
		o.metrics.IncChargeCreated(string(variant))
		if total, terr := created.TotalAmount(); terr == nil {
			o.metrics.ObserveChargeAmount(total.Amount, total.Currency)
		}
		o.publish(kafka.TopicChargeCreated, created)
	}

	// Право на отправку захватывает ровно один из конкурентных запросов
	// с этим ключом; остальные отвечают дубликатом со ссылкой на платеж
	claimed, err := o.charges.ClaimSubmission(ctx, created.ID, submissionClaimTTL)
	if err != nil {
		return domain.Charge{}, err
	}
	if !claimed {
		fresh, getErr := o.charges.GetByID(ctx, created.ID)
		if getErr != nil {
			return domain.Charge{}, getErr
		}
		o.log.Infow("Charge submission already in flight",
			"chargeID", created.ID, "idempotencyKey", input.IdempotencyKey)
		return fresh, domain.ErrDuplicateRequest
	}

	return o.submitToGateway(ctx, created, customer)
}

// submitToGateway вызывает шлюз и применяет результат к платежу.
// Вызов шлюза отсоединяется от контекста запроса: клиент, бросивший
// HTTP-запрос, не должен оборвать создание внешней транзакции и оставить
// ее незаписанной.
func (o *orchestrator) submitToGateway(ctx context.Context, charge domain.Charge, customer domain.Customer) (domain.Charge, error) {
	client, ok := o.gateways[charge.GatewayUsed]
	if !ok {
		return domain.Charge{}, fmt.Errorf("no gateway client for variant %q", charge.GatewayUsed)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gatewayCallTimeout)
	defer cancel()

	result, err := client.CreateCharge(callCtx, gateway.CreateChargeRequest{
		Customer:    customer,
		Items:       charge.Items,
		BillingType: charge.BillingType,
		DueDate:     charge.DueDate,
		Reference:   charge.ID.String(),
	})

	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			// Исход неизвестен: платеж остается в CREATED, повтор запроса
			// с тем же ключом идемпотентности безопасен
			o.releaseSubmission(ctx, charge.ID)
			o.log.Warnw("Gateway unavailable, charge left in created state",
				"chargeID", charge.ID, "gateway", charge.GatewayUsed, "error", err)
			return charge, err
		}

		var rejected *domain.GatewayRejectedError
		if errors.As(err, &rejected) {
			failed, applyErr := o.ApplyEvent(ctx, charge, domain.EventGatewayRejected, "", nil)
			if applyErr != nil {
				return domain.Charge{}, applyErr
			}
			o.publish(kafka.TopicChargeFailed, failed)
			return failed, err
		}

		// Ошибка конфигурации или неожиданная ошибка: без перехода
		o.releaseSubmission(ctx, charge.ID)
		return charge, err
	}

	// Для CREATED и RETRYING одно и то же событие ведет в PENDING
	updated, err := o.ApplyEvent(ctx, charge, domain.EventGatewayAccepted, result.ExternalID, nil)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Конкурент с тем же ключом успел продвинуть платеж первым:
			// отвечаем как на дубликат, со ссылкой на актуальное состояние
			fresh, getErr := o.charges.GetByID(ctx, charge.ID)
			if getErr != nil {
				return domain.Charge{}, getErr
			}
			o.log.Warnw("Charge already advanced by concurrent submission",
				"chargeID", charge.ID, "status", fresh.Status)
			return fresh, domain.ErrDuplicateRequest
		}
		return domain.Charge{}, err
	}

	o.log.Infow("Charge submitted to gateway",
		"chargeID", updated.ID, "gateway", updated.GatewayUsed,
		"externalID", updated.ExternalID, "status", updated.Status)
	return updated, nil
}

// ApplyEvent применяет событие машины состояний с атомарным коммитом.
// При проигрыше гонки конкурентной записи переход пересчитывается от
// свежего состояния, число попыток ограничено.
func (o *orchestrator) ApplyEvent(ctx context.Context, charge domain.Charge, event domain.Event, externalID string, webhookEvent *domain.WebhookEvent) (domain.Charge, error) {
	current := charge

	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		next, err := domain.NextStatus(current.Status, event, current.RetryCount, domain.DefaultMaxRetries)
		if err != nil {
			return current, err
		}

		updated, err := o.charges.ApplyTransition(ctx, repository.Transition{
			ChargeID:       current.ID,
			From:           current.Status,
			To:             next,
			ExternalID:     externalID,
			IncrementRetry: event == domain.EventRetryRequested,
			Event:          webhookEvent,
		})
		if err == nil {
			o.metrics.IncTransition(string(current.Status), string(next))
			return updated, nil
		}

		if !errors.Is(err, repository.ErrStaleTransition) {
			return domain.Charge{}, err
		}

		// Конкурирующая запись успела первой: перечитываем и пробуем снова
		o.log.Warnw("Stale transition, rereading charge",
			"chargeID", current.ID, "event", event, "attempt", attempt)

		current, err = o.charges.GetByID(ctx, current.ID)
		if err != nil {
			return domain.Charge{}, err
		}

		select {
		case <-ctx.Done():
			return domain.Charge{}, ctx.Err()
		case <-time.After(transitionBackoff * time.Duration(attempt)):
		}
	}

	return domain.Charge{}, fmt.Errorf("failed to apply event %q to charge %s after %d attempts",
		event, charge.ID, transitionAttempts)
}

// GetCharge возвращает платеж по ID
func (o *orchestrator) GetCharge(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	return o.charges.GetByID(ctx, id)
}

// ListCustomerCharges возвращает платежи клиента
func (o *orchestrator) ListCustomerCharges(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error) {
	return o.charges.GetByCustomerID(ctx, customerID)
}

// RetryCharge повторяет неуспешный платеж
func (o *orchestrator) RetryCharge(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	charge, err := o.charges.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Charge{}, domain.ErrUnknownCharge
		}
		return domain.Charge{}, err
	}

	// Исчерпанные попытки переводят платеж в терминальный DEAD
	if charge.Status == domain.ChargeStatusFailed && charge.RetryCount >= domain.DefaultMaxRetries {
		dead, err := o.ApplyEvent(ctx, charge, domain.EventRetryExhausted, "", nil)
		if err != nil {
			return domain.Charge{}, err
		}
		o.publish(kafka.TopicChargeDead, dead)
		o.log.Infow("Charge retries exhausted", "chargeID", dead.ID, "retryCount", dead.RetryCount)
		return dead, nil
	}

	retrying, err := o.ApplyEvent(ctx, charge, domain.EventRetryRequested, "", nil)
	if err != nil {
		return domain.Charge{}, err
	}

	customer, err := o.customers.GetByID(ctx, retrying.CustomerID)
	if err != nil {
		return domain.Charge{}, err
	}

	return o.submitToGateway(ctx, retrying, customer)
}

// releaseSubmission снимает захват отправки, чтобы повтор запроса с тем же
// ключом идемпотентности мог возобновить отправку. Отсоединяется от
// контекста запроса: захват должен сняться и при отмене вызывающего.
func (o *orchestrator) releaseSubmission(ctx context.Context, chargeID uuid.UUID) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.charges.ReleaseSubmission(releaseCtx, chargeID); err != nil {
		o.log.Warnw("Failed to release submission claim", "chargeID", chargeID, "error", err)
	}
}

// publish отправляет событие платежа в Kafka, ошибки не фатальны
func (o *orchestrator) publish(topic string, charge domain.Charge) {
	if o.producer == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.producer.PublishChargeEvent(publishCtx, topic, charge); err != nil {
		o.log.Warnw("Failed to publish charge event", "topic", topic, "chargeID", charge.ID, "error", err)
	}
}

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

// WebhookOutcome итог обработки вебхук-доставки
type WebhookOutcome string

const (
	// OutcomeProcessed событие применено к платежу
	OutcomeProcessed WebhookOutcome = "processed"

	// OutcomeDuplicate повторная доставка уже обработанного события
	OutcomeDuplicate WebhookOutcome = "duplicate"

	// OutcomeStale событие устарело (например, failed после paid):
	// переход отклонен машиной состояний, доставка подтверждается
	OutcomeStale WebhookOutcome = "stale"

	// OutcomeNoTransition статус шлюза не требует перехода (pending)
	OutcomeNoTransition WebhookOutcome = "no_transition"
)

// Reconciler пайплайн обработки вебхуков: верификация, дедупликация,
// применение события к машине состояний через оркестратор. Доставка
// at-least-once, бизнес-эффект at-most-once.
type Reconciler interface {
	HandleWebhook(ctx context.Context, variant domain.GatewayVariant, payload []byte, signatureHeader string) (WebhookOutcome, error)
}

// reconciler реализация пайплайна вебхуков
type reconciler struct {
	charges      repository.ChargeRepository
	events       repository.WebhookEventRepository
	gateways     map[domain.GatewayVariant]gateway.Client
	orchestrator Orchestrator
	producer     kafka.Producer
	metrics      metrics.BillingMetrics
	log          *logger.Logger
}

// NewReconciler создает новый реконсилятор вебхуков
func NewReconciler(
	charges repository.ChargeRepository,
	events repository.WebhookEventRepository,
	gateways map[domain.GatewayVariant]gateway.Client,
	orchestrator Orchestrator,
	producer kafka.Producer,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) Reconciler {
	return &reconciler{
		charges:      charges,
		events:       events,
		gateways:     gateways,
		orchestrator: orchestrator,
		producer:     producer,
		metrics:      billingMetrics,
		log:          log,
	}
}

// HandleWebhook обрабатывает одну вебхук-доставку
func (r *reconciler) HandleWebhook(ctx context.Context, variant domain.GatewayVariant, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	client, ok := r.gateways[variant]
	if !ok {
		return "", fmt.Errorf("no gateway client for variant %q", variant)
	}

	// Шаг 1: подпись. Ошибка закрывает обработку без изменения состояния.
	if !client.VerifyWebhookSignature(payload, signatureHeader) {
		r.metrics.IncWebhook(string(variant), "signature_invalid")
		r.log.Warnw("Webhook signature verification failed", "gateway", variant)
		return "", domain.ErrSignatureInvalid
	}

	// Шаг 2: разбор тела
	data, err := client.ParseWebhook(payload)
	if err != nil {
		r.metrics.IncWebhook(string(variant), "malformed")
		r.log.Warnw("Malformed webhook payload", "gateway", variant, "error", err)
		return "", err
	}

	// Шаг 3: дедупликация по журналу
	existing, err := r.events.GetByGatewayEventID(ctx, variant, data.EventID)
	if err == nil && existing.ProcessedAt != nil {
		r.metrics.IncWebhook(string(variant), "duplicate")
		r.log.Infow("Duplicate webhook delivery ignored",
			"gateway", variant, "eventID", data.EventID)
		return OutcomeDuplicate, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}

	// Шаг 4: поиск платежа по external_id
	charge, err := r.charges.GetByExternalID(ctx, variant, data.ExternalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Возможна гонка с созданием платежа: отвечаем retryable,
			// шлюз доставит повторно
			r.metrics.IncWebhook(string(variant), "unknown_charge")
			r.log.Warnw("Webhook references unknown charge",
				"gateway", variant, "externalID", data.ExternalID, "eventID", data.EventID)
			return "", domain.ErrUnknownCharge
		}
		return "", err
	}

	// Шаг 5: запись журнала. Уникальный индекс закрывает гонку
	// конкурентных доставок одного события.
	event := existing
	if event.ID == uuid.Nil {
		event = domain.WebhookEvent{
			ID:             uuid.New(),
			Gateway:        variant,
			GatewayEventID: data.EventID,
			ChargeID:       charge.ID,
			ReceivedStatus: string(data.Status),
		}
		event, err = r.events.Insert(ctx, event)
		if errors.Is(err, repository.ErrDuplicate) {
			event, err = r.events.GetByGatewayEventID(ctx, variant, data.EventID)
			if err == nil && event.ProcessedAt != nil {
				r.metrics.IncWebhook(string(variant), "duplicate")
				return OutcomeDuplicate, nil
			}
		}
		if err != nil {
			return "", err
		}
	}

	// Шаг 6: отображение статуса шлюза в событие машины состояний
	var smEvent domain.Event
	switch data.Status {
	case gateway.StatusPaid:
		smEvent = domain.EventWebhookPaid
	case gateway.StatusFailed:
		smEvent = domain.EventWebhookFailed
	default:
		// Промежуточный статус: перехода нет, доставка подтверждается
		if err := r.markProcessed(ctx, event.ID); err != nil {
			return "", err
		}
		r.metrics.IncWebhook(string(variant), "no_transition")
		return OutcomeNoTransition, nil
	}

	// Шаг 7: атомарный переход + отметка журнала одним коммитом
	updated, err := r.orchestrator.ApplyEvent(ctx, charge, smEvent, "", &event)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Устаревшее или внеочередное событие: платеж уже в
			// терминальном состоянии. Подтверждаем доставку, чтобы
			// шлюз не пересылал снова; paid-платеж нельзя пере-зафейлить.
			if markErr := r.markProcessed(ctx, event.ID); markErr != nil {
				return "", markErr
			}
			r.metrics.IncWebhook(string(variant), "stale")
			r.log.Infow("Stale webhook event acknowledged without transition",
				"gateway", variant, "eventID", data.EventID,
				"chargeID", charge.ID, "chargeStatus", charge.Status, "event", smEvent)
			return OutcomeStale, nil
		}
		return "", err
	}

	switch updated.Status {
	case domain.ChargeStatusPaid:
		r.publish(kafka.TopicChargePaid, updated)
	case domain.ChargeStatusFailed:
		r.publish(kafka.TopicChargeFailed, updated)
	}

	r.metrics.IncWebhook(string(variant), "processed")
	r.log.Infow("Webhook event applied",
		"gateway", variant, "eventID", data.EventID,
		"chargeID", updated.ID, "status", updated.Status)
	return OutcomeProcessed, nil
}

// markProcessed отмечает событие обработанным. Конкурентная доставка
// могла успеть первой, это не ошибка.
func (r *reconciler) markProcessed(ctx context.Context, eventID uuid.UUID) error {
	if err := r.events.MarkProcessed(ctx, eventID, time.Now()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// publish отправляет событие платежа в Kafka, ошибки не фатальны
func (r *reconciler) publish(topic string, charge domain.Charge) {
	if r.producer == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.producer.PublishChargeEvent(publishCtx, topic, charge); err != nil {
		r.log.Warnw("Failed to publish charge event", "topic", topic, "chargeID", charge.ID, "error", err)
	}
}

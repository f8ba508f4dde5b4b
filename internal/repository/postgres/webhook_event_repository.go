package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresWebhookEventRepository журнал дедупликации вебхуков через
// PostgreSQL. Уникальный индекс (gateway, gateway_event_id) закрывает
// гонку конкурентных доставок одного события.
type PostgresWebhookEventRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresWebhookEventRepository создает новый журнал вебхуков через PostgreSQL
func NewPostgresWebhookEventRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresWebhookEventRepository {
	return &PostgresWebhookEventRepository{
		db:  db,
		log: log,
	}
}

// Insert создает запись журнала
func (r *PostgresWebhookEventRepository) Insert(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	query := `
		INSERT INTO webhook_events (id, gateway, gateway_event_id, charge_id, received_status, received_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING received_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		event.ID,
		event.Gateway,
		event.GatewayEventID,
		event.ChargeID,
		event.ReceivedStatus,
	).Scan(&event.ReceivedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WebhookEvent{}, repository.ErrDuplicate
		}
		return domain.WebhookEvent{}, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	return event, nil
}

// GetByGatewayEventID возвращает запись по ID события шлюза
func (r *PostgresWebhookEventRepository) GetByGatewayEventID(ctx context.Context, gw domain.GatewayVariant, eventID string) (domain.WebhookEvent, error) {
	query := `
		SELECT id, gateway, gateway_event_id, charge_id, received_status, received_at, processed_at
		FROM webhook_events
		WHERE gateway = $1 AND gateway_event_id = $2
	`

	var event domain.WebhookEvent
	err := r.db.QueryRow(ctx, query, gw, eventID).Scan(
		&event.ID,
		&event.Gateway,
		&event.GatewayEventID,
		&event.ChargeID,
		&event.ReceivedStatus,
		&event.ReceivedAt,
		&event.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, repository.ErrNotFound
		}
		return domain.WebhookEvent{}, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return event, nil
}

// MarkProcessed устанавливает processed_at
func (r *PostgresWebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE webhook_events
		SET processed_at = $1
		WHERE id = $2 AND processed_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ repository.WebhookEventRepository = (*PostgresWebhookEventRepository)(nil)

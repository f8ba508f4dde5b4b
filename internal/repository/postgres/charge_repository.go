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

// uniqueViolation код PostgreSQL для нарушения уникального индекса
const uniqueViolation = "23505"

// PostgresChargeRepository реализация репозитория платежей через PostgreSQL.
// Уникальность idempotency_key и (gateway_used, external_id) обеспечивают
// индексы; переходы состояний охраняются условием по текущему статусу.
type PostgresChargeRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresChargeRepository создает новый репозиторий платежей через PostgreSQL
func NewPostgresChargeRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresChargeRepository {
	return &PostgresChargeRepository{
		db:  db,
		log: log,
	}
}

// CreateWithItems вставляет платеж и его позиции одной транзакцией
func (r *PostgresChargeRepository) CreateWithItems(ctx context.Context, charge domain.Charge) (domain.Charge, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	chargeQuery := `
		INSERT INTO charges (id, customer_id, billing_type, status, gateway_used,
			external_id, due_date, idempotency_key, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(
		ctx,
		chargeQuery,
		charge.ID,
		charge.CustomerID,
		charge.BillingType,
		charge.Status,
		charge.GatewayUsed,
		nullableString(charge.ExternalID),
		charge.DueDate,
		charge.IdempotencyKey,
		charge.RetryCount,
	).Scan(&charge.CreatedAt, &charge.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Charge{}, repository.ErrDuplicate
		}
		return domain.Charge{}, fmt.Errorf("failed to insert charge: %w", err)
	}

	itemQuery := `
		INSERT INTO charge_items (id, charge_id, product_type, product_id, amount_minor, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, item := range charge.Items {
		if _, err := tx.Exec(ctx, itemQuery,
			item.ID, charge.ID, item.ProductType, item.ProductID,
			item.Amount.Amount, item.Amount.Currency,
		); err != nil {
			return domain.Charge{}, fmt.Errorf("failed to insert charge item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Charge{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return charge, nil
}

const chargeColumns = `
	id, customer_id, billing_type, status, gateway_used,
	COALESCE(external_id, ''), due_date, idempotency_key, retry_count,
	created_at, updated_at
`

// GetByID возвращает платеж с позициями
func (r *PostgresChargeRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIdempotencyKey возвращает платеж по ключу идемпотентности
func (r *PostgresChargeRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE idempotency_key = $1`
	return r.getOne(ctx, query, key)
}

// GetByExternalID возвращает платеж по ID транзакции шлюза
func (r *PostgresChargeRepository) GetByExternalID(ctx context.Context, gw domain.GatewayVariant, externalID string) (domain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE gateway_used = $1 AND external_id = $2`
	return r.getOne(ctx, query, gw, externalID)
}

// getOne выполняет запрос одного платежа и подгружает его позиции
func (r *PostgresChargeRepository) getOne(ctx context.Context, query string, args ...any) (domain.Charge, error) {
	var charge domain.Charge

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&charge.ID,
		&charge.CustomerID,
		&charge.BillingType,
		&charge.Status,
		&charge.GatewayUsed,
		&charge.ExternalID,
		&charge.DueDate,
		&charge.IdempotencyKey,
		&charge.RetryCount,
		&charge.CreatedAt,
		&charge.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Charge{}, repository.ErrNotFound
		}
		return domain.Charge{}, fmt.Errorf("failed to get charge: %w", err)
	}

	items, err := r.loadItems(ctx, charge.ID)
	if err != nil {
		return domain.Charge{}, err
	}
	charge.Items = items

	return charge, nil
}

// loadItems подгружает позиции платежа
func (r *PostgresChargeRepository) loadItems(ctx context.Context, chargeID uuid.UUID) ([]domain.ChargeItem, error) {
	query := `
		SELECT id, charge_id, product_type, product_id, amount_minor, currency
		FROM charge_items
		WHERE charge_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, chargeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query charge items: %w", err)
	}
	defer rows.Close()

	var items []domain.ChargeItem
	for rows.Next() {
		var item domain.ChargeItem
		if err := rows.Scan(
			&item.ID,
			&item.ChargeID,
			&item.ProductType,
			&item.ProductID,
			&item.Amount.Amount,
			&item.Amount.Currency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan charge item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating charge items: %w", err)
	}

	return items, nil
}

// GetByCustomerID возвращает платежи клиента
func (r *PostgresChargeRepository) GetByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE customer_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []domain.Charge
	for rows.Next() {
		var charge domain.Charge
		if err := rows.Scan(
			&charge.ID,
			&charge.CustomerID,
			&charge.BillingType,
			&charge.Status,
			&charge.GatewayUsed,
			&charge.ExternalID,
			&charge.DueDate,
			&charge.IdempotencyKey,
			&charge.RetryCount,
			&charge.CreatedAt,
			&charge.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		charges = append(charges, charge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating charges: %w", err)
	}

	for i := range charges {
		items, err := r.loadItems(ctx, charges[i].ID)
		if err != nil {
			return nil, err
		}
		charges[i].Items = items
	}

	return charges, nil
}

// CountNonTerminal считает незавершенные платежи клиента на шлюзе
func (r *PostgresChargeRepository) CountNonTerminal(ctx context.Context, customerID uuid.UUID, gw domain.GatewayVariant) (int, error) {
	query := `
		SELECT count(*)
		FROM charges
		WHERE customer_id = $1 AND gateway_used = $2 AND status NOT IN ('paid', 'dead')
	`

	var count int
	if err := r.db.QueryRow(ctx, query, customerID, gw).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count non-terminal charges: %w", err)
	}

	return count, nil
}

// ApplyTransition применяет переход состояния атомарно. Условие по
// текущему статусу служит оптимистической блокировкой: если конкурирующая
// запись успела первой, строка не обновится и вернется ErrStaleTransition.
// Отметка журнала вебхуков коммитится той же транзакцией.
func (r *PostgresChargeRepository) ApplyTransition(ctx context.Context, t repository.Transition) (domain.Charge, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE charges
		SET status = $1,
		    external_id = COALESCE(NULLIF($2, ''), external_id),
		    retry_count = retry_count + $3,
		    updated_at = now()
		WHERE id = $4 AND status = $5
	`

	retryIncrement := 0
	if t.IncrementRetry {
		retryIncrement = 1
	}

	result, err := tx.Exec(ctx, query, t.To, t.ExternalID, retryIncrement, t.ChargeID, t.From)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Charge{}, repository.ErrDuplicate
		}
		return domain.Charge{}, fmt.Errorf("failed to apply transition: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.Charge{}, repository.ErrStaleTransition
	}

	if t.Event != nil {
		eventQuery := `
			UPDATE webhook_events
			SET processed_at = now()
			WHERE id = $1 AND processed_at IS NULL
		`
		if _, err := tx.Exec(ctx, eventQuery, t.Event.ID); err != nil {
			return domain.Charge{}, fmt.Errorf("failed to mark webhook event processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Charge{}, fmt.Errorf("failed to commit transition: %w", err)
	}

	return r.GetByID(ctx, t.ChargeID)
}

// ClaimSubmission захватывает право на отправку платежа в шлюз. Захват
// записывается в строку платежа и выдается только пока платеж в created;
// захват старше staleAfter считается брошенным и перехватывается.
func (r *PostgresChargeRepository) ClaimSubmission(ctx context.Context, chargeID uuid.UUID, staleAfter time.Duration) (bool, error) {
	query := `
		UPDATE charges
		SET submitted_at = now()
		WHERE id = $1
		  AND status = 'created'
		  AND (submitted_at IS NULL OR submitted_at < now() - make_interval(secs => $2))
	`

	result, err := r.db.Exec(ctx, query, chargeID, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim charge submission: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ReleaseSubmission снимает захват отправки, разрешая повторную попытку
func (r *PostgresChargeRepository) ReleaseSubmission(ctx context.Context, chargeID uuid.UUID) error {
	query := `UPDATE charges SET submitted_at = NULL WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, chargeID); err != nil {
		return fmt.Errorf("failed to release charge submission: %w", err)
	}

	return nil
}

// nullableString возвращает nil для пустой строки
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ repository.ChargeRepository = (*PostgresChargeRepository)(nil)

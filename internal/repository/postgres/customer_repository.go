package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCustomerRepository реализация репозитория клиентов через PostgreSQL
type PostgresCustomerRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresCustomerRepository создает новый репозиторий клиентов через PostgreSQL
func NewPostgresCustomerRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{
		db:  db,
		log: log,
	}
}

// GetByID возвращает клиента по ID
func (r *PostgresCustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	query := `
		SELECT id, name, email, tax_id, phone, gateway_assignment,
			COALESCE(legacy_external_id, ''), COALESCE(current_external_id, ''),
			created_at, updated_at
		FROM customers
		WHERE id = $1
	`

	var customer domain.Customer
	err := r.db.QueryRow(ctx, query, id).Scan(
		&customer.ID,
		&customer.Name,
		&customer.Email,
		&customer.TaxID,
		&customer.Phone,
		&customer.GatewayAssignment,
		&customer.LegacyExternalID,
		&customer.CurrentExternalID,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Customer{}, repository.ErrNotFound
		}
		return domain.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// Create создает нового клиента
func (r *PostgresCustomerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	query := `
		INSERT INTO customers (id, name, email, tax_id, phone, gateway_assignment,
			legacy_external_id, current_external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		customer.ID,
		customer.Name,
		customer.Email,
		customer.TaxID,
		customer.Phone,
		customer.GatewayAssignment,
		nullableString(customer.LegacyExternalID),
		nullableString(customer.CurrentExternalID),
	).Scan(&customer.CreatedAt, &customer.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Customer{}, repository.ErrDuplicate
		}
		return domain.Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}

	return customer, nil
}

// UpdateAssignment меняет привязку шлюза и пишет запись аудита одной
// транзакцией. Охрана по текущей привязке закрывает гонку конкурентных
// операций миграции.
func (r *PostgresCustomerRepository) UpdateAssignment(ctx context.Context, customerID uuid.UUID, from, to domain.GatewayAssignment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE customers
		SET gateway_assignment = $1, updated_at = now()
		WHERE id = $2 AND gateway_assignment = $3
	`

	result, err := tx.Exec(ctx, query, to, customerID, from)
	if err != nil {
		return fmt.Errorf("failed to update gateway assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrStaleTransition
	}

	auditQuery := `
		INSERT INTO migration_audit (id, customer_id, from_assignment, to_assignment, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	if _, err := tx.Exec(ctx, auditQuery, uuid.New(), customerID, from, to); err != nil {
		return fmt.Errorf("failed to insert migration audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit assignment update: %w", err)
	}

	return nil
}

// UpdateAssignmentIfNoOpenCharges меняет привязку шлюза с записью аудита,
// дополнительно требуя отсутствия незавершенных платежей клиента на шлюзе
// gw. Строка клиента блокируется на время транзакции, так что проверка и
// смена привязки выполняются атомарно.
func (r *PostgresCustomerRepository) UpdateAssignmentIfNoOpenCharges(ctx context.Context, customerID uuid.UUID, from, to domain.GatewayAssignment, gw domain.GatewayVariant) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current domain.GatewayAssignment
	err = tx.QueryRow(ctx,
		`SELECT gateway_assignment FROM customers WHERE id = $1 FOR UPDATE`,
		customerID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to lock customer row: %w", err)
	}
	if current != from {
		return repository.ErrStaleTransition
	}

	var open int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM charges
		WHERE customer_id = $1 AND gateway_used = $2 AND status NOT IN ('paid', 'dead')
	`, customerID, gw).Scan(&open)
	if err != nil {
		return fmt.Errorf("failed to count open charges: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%w: %d charges on gateway %s", repository.ErrChargesOpen, open, gw)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE customers SET gateway_assignment = $1, updated_at = now() WHERE id = $2
	`, to, customerID); err != nil {
		return fmt.Errorf("failed to update gateway assignment: %w", err)
	}

	auditQuery := `
		INSERT INTO migration_audit (id, customer_id, from_assignment, to_assignment, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	if _, err := tx.Exec(ctx, auditQuery, uuid.New(), customerID, from, to); err != nil {
		return fmt.Errorf("failed to insert migration audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit assignment update: %w", err)
	}

	return nil
}

// GetAuditLog возвращает журнал миграций клиента
func (r *PostgresCustomerRepository) GetAuditLog(ctx context.Context, customerID uuid.UUID) ([]domain.MigrationAuditEntry, error) {
	query := `
		SELECT id, customer_id, from_assignment, to_assignment, created_at
		FROM migration_audit
		WHERE customer_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.MigrationAuditEntry
	for rows.Next() {
		var entry domain.MigrationAuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.CustomerID,
			&entry.FromAssignment,
			&entry.ToAssignment,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

var _ repository.CustomerRepository = (*PostgresCustomerRepository)(nil)

// PostgresProductCatalog read-only справочник продуктов (локальная
// реплика справочных данных, владеют ими внешние сервисы)
type PostgresProductCatalog struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresProductCatalog создает новый справочник продуктов через PostgreSQL
func NewPostgresProductCatalog(db *pgxpool.Pool, log *logger.Logger) *PostgresProductCatalog {
	return &PostgresProductCatalog{
		db:  db,
		log: log,
	}
}

// Exists проверяет существование продукта
func (c *PostgresProductCatalog) Exists(ctx context.Context, productType, productID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM products WHERE product_type = $1 AND product_id = $2)`

	var exists bool
	if err := c.db.QueryRow(ctx, query, productType, productID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check product existence: %w", err)
	}

	return exists, nil
}

var _ repository.ProductCatalog = (*PostgresProductCatalog)(nil)

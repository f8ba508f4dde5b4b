package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
)

// ChargeCache кеш снапшотов платежей
type ChargeCache interface {
	CacheCharge(ctx context.Context, charge domain.Charge) error
	GetCachedCharge(ctx context.Context, id uuid.UUID) (*domain.Charge, error)
	InvalidateCharge(ctx context.Context, id uuid.UUID) error
}

// CachedChargeRepository реализует ChargeRepository с кешированием чтений.
// Ошибки кеша не фатальны: основное хранилище всегда авторитетно.
type CachedChargeRepository struct {
	repo  ChargeRepository
	cache ChargeCache
	log   *logger.Logger
}

// NewCachedChargeRepository создает новый репозиторий с кешированием
func NewCachedChargeRepository(
	repo ChargeRepository,
	cache ChargeCache,
	log *logger.Logger,
) ChargeRepository {
	return &CachedChargeRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// CreateWithItems сохраняет платеж в БД и кеширует его
func (r *CachedChargeRepository) CreateWithItems(ctx context.Context, charge domain.Charge) (domain.Charge, error) {
	created, err := r.repo.CreateWithItems(ctx, charge)
	if err != nil {
		return domain.Charge{}, err
	}

	if err := r.cache.CacheCharge(ctx, created); err != nil {
		r.log.Warnw("Failed to cache charge after creation", "error", err, "chargeID", created.ID)
	}

	return created, nil
}

// GetByID получает платеж по ID (сначала из кеша, потом из БД)
func (r *CachedChargeRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	cached, err := r.cache.GetCachedCharge(ctx, id)
	if err != nil {
		r.log.Warnw("Error getting charge from cache", "error", err, "chargeID", id)
	}
	if cached != nil {
		return *cached, nil
	}

	charge, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Charge{}, err
	}

	// На пути чтения кешируются только терминальные платежи: их статус
	// неизменен. Снапшот незавершенного платежа, прочитанный из БД перед
	// самым переходом, пережил бы инвалидацию и отдавался бы устаревшим
	// до конца TTL.
	if domain.IsTerminal(charge.Status) {
		if err := r.cache.CacheCharge(ctx, charge); err != nil {
			r.log.Warnw("Failed to cache charge after read", "error", err, "chargeID", id)
		}
	}

	return charge, nil
}

// GetByIdempotencyKey идет напрямую в БД: ключ участвует в контроле
// дубликатов и не должен читаться из устаревшего кеша
func (r *CachedChargeRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Charge, error) {
	return r.repo.GetByIdempotencyKey(ctx, key)
}

// GetByExternalID идет напрямую в БД: используется пайплайном вебхуков
func (r *CachedChargeRepository) GetByExternalID(ctx context.Context, gw domain.GatewayVariant, externalID string) (domain.Charge, error) {
	return r.repo.GetByExternalID(ctx, gw, externalID)
}

// GetByCustomerID возвращает платежи клиента из БД
func (r *CachedChargeRepository) GetByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error) {
	return r.repo.GetByCustomerID(ctx, customerID)
}

// CountNonTerminal считает незавершенные платежи в БД
func (r *CachedChargeRepository) CountNonTerminal(ctx context.Context, customerID uuid.UUID, gw domain.GatewayVariant) (int, error) {
	return r.repo.CountNonTerminal(ctx, customerID, gw)
}

// ApplyTransition применяет переход и инвалидирует кеш
func (r *CachedChargeRepository) ApplyTransition(ctx context.Context, t Transition) (domain.Charge, error) {
	charge, err := r.repo.ApplyTransition(ctx, t)
	if err != nil {
		return domain.Charge{}, err
	}

	if err := r.cache.InvalidateCharge(ctx, t.ChargeID); err != nil {
		r.log.Warnw("Failed to invalidate charge cache after transition", "error", err, "chargeID", t.ChargeID)
	}

	return charge, nil
}

// ClaimSubmission передает захват отправки основному хранилищу
func (r *CachedChargeRepository) ClaimSubmission(ctx context.Context, chargeID uuid.UUID, staleAfter time.Duration) (bool, error) {
	return r.repo.ClaimSubmission(ctx, chargeID, staleAfter)
}

// ReleaseSubmission передает снятие захвата основному хранилищу
func (r *CachedChargeRepository) ReleaseSubmission(ctx context.Context, chargeID uuid.UUID) error {
	return r.repo.ReleaseSubmission(ctx, chargeID)
}

var _ ChargeRepository = (*CachedChargeRepository)(nil)

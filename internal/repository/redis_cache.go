package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	chargeKeyPrefix = "charge:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository кеширование снапшотов платежей в Redis.
// Позиции платежа неизменяемы, поэтому снапшот с суммой безопасен;
// при смене статуса запись инвалидируется.
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheCharge кеширует снапшот платежа в Redis
func (r *RedisCacheRepository) CacheCharge(ctx context.Context, charge domain.Charge) error {
	key := chargeKeyPrefix + charge.ID.String()

	data, err := json.Marshal(charge)
	if err != nil {
		return fmt.Errorf("failed to marshal charge for cache: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache charge: %w", err)
	}

	return nil
}

// GetCachedCharge возвращает снапшот платежа из кеша, nil при промахе
func (r *RedisCacheRepository) GetCachedCharge(ctx context.Context, id uuid.UUID) (*domain.Charge, error) {
	key := chargeKeyPrefix + id.String()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached charge: %w", err)
	}

	var charge domain.Charge
	if err := json.Unmarshal(data, &charge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached charge: %w", err)
	}

	return &charge, nil
}

// InvalidateCharge удаляет снапшот платежа из кеша
func (r *RedisCacheRepository) InvalidateCharge(ctx context.Context, id uuid.UUID) error {
	key := chargeKeyPrefix + id.String()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached charge: %w", err)
	}
	return nil
}

var _ ChargeCache = (*RedisCacheRepository)(nil)

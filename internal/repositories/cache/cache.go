// Package cache wraps the Redis client used for safe-view caching and the
// idempotency middleware. Nothing sensitive is ever cached here: card
// plaintext and derived keys stay out of Redis entirely.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sika/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func NewRedisClient(cfg *RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{client: client, ttl: defaultTTL}
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Card safe-view caching. Only the masked projection goes in, and the key
// carries the owner so one user's cached view can never serve another.

func cardViewKey(ownerID, cardID uint) string {
	return fmt.Sprintf("cardview:%d:%d", ownerID, cardID)
}

func (s *CacheService) CacheCardView(ctx context.Context, ownerID uint, view models.CardView) error {
	return s.Set(ctx, cardViewKey(ownerID, view.ID), view)
}

func (s *CacheService) GetCardView(ctx context.Context, ownerID, cardID uint) (*models.CardView, error) {
	var view models.CardView
	if err := s.Get(ctx, cardViewKey(ownerID, cardID), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *CacheService) InvalidateCardView(ctx context.Context, ownerID, cardID uint) error {
	return s.Delete(ctx, cardViewKey(ownerID, cardID))
}

func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

func (s *CacheService) Close() error {
	return s.client.Close()
}

// Client exposes the underlying Redis client for middleware that needs
// raw commands.
func (s *CacheService) Client() *redis.Client {
	return s.client
}

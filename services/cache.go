package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"taxiflow/config"
	"taxiflow/errors"
	"taxiflow/models"
)

// RunEventsChannel carries one message per finished batch run.
const RunEventsChannel = "taxiflow:runs"

type CacheService struct {
	client *redis.Client
}

// NewCacheService pings Redis up to attempts times. On failure it still
// returns a usable service whose operations are no-ops.
func NewCacheService(cfg config.RedisConfig, attempts int) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		log.Warn().Err(lastErr).Msgf("redis ping attempt %d/%d failed", i+1, attempts)
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}

	_ = client.Close()
	return &CacheService{client: nil}, errors.Wrapf(lastErr, "redis ping failed after %d attempts", attempts)
}

// NewCacheServiceFromClient wraps an existing client; nil disables caching.
func NewCacheServiceFromClient(client *redis.Client) *CacheService {
	return &CacheService{client: client}
}

func (s *CacheService) Client() *redis.Client {
	return s.client
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// Get decodes the cached value into dest. A miss returns redis.Nil.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if !s.Available() {
		return redis.Nil
	}
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Delete(ctx context.Context, key string) error {
	if !s.Available() {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message interface{}) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// PublishRun announces a finished run on RunEventsChannel.
func (s *CacheService) PublishRun(ctx context.Context, run *models.BatchRun) error {
	return s.Publish(ctx, RunEventsChannel, run)
}

func (s *CacheService) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if !s.Available() {
		return nil
	}
	return s.client.Subscribe(ctx, channel)
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

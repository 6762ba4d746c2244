package redis

import (
	"context"
	"time"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Service struct {
	client *redis.Client
}

// NewService connects to REDIS_URL. It returns nil when Redis is not
// configured or unreachable so callers can fall back to process memory.
func NewService() *Service {
	url := config.GetRedisURL()

	if url == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: config.GetRedisPassword(),
		DB:       config.GetRedisDB(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().
			Err(err).
			Str("addr", url).
			Msg("Failed to establish Redis connection")
		_ = client.Close()
		return nil
	}

	return NewServiceWithClient(client)
}

func NewServiceWithClient(client *redis.Client) *Service {
	return &Service{client: client}
}

// IncrWindow increments key and makes sure it expires after window. The
// increment and expiry are sent in one transaction.
func (s *Service) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("window", window).
			Msg("Redis INCR window operation failed")
		return 0, err
	}
	return incr.Val(), nil
}

// Ping checks if Redis is accessible
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}

package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
)

const redisKeyPrefix = "challenge-api:model:"

type RedisOptions struct {
	Address  string
	Password string
	DB       int
	// TTL of stored artifacts; zero keeps them until evicted by Redis.
	TTL time.Duration
}

// RedisStore shares fetched artifacts between server processes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(options RedisOptions) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     options.Address,
			Password: options.Password,
			DB:       options.DB,
		}),
		ttl: options.TTL,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key challenge.Key) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, FormatRedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key challenge.Key, data []byte) error {
	return s.client.Set(ctx, FormatRedisKey(key), data, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func FormatRedisKey(key challenge.Key) string {
	return redisKeyPrefix + string(key)
}

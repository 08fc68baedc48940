package snapshot

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis snapshot backend.
type RedisConfig struct {
	// Addr is the redis server address (host:port).
	Addr string
	// Password is optional.
	Password string
	// DB selects the redis database number.
	DB int
	// TTL expires snapshots after this duration; zero keeps them forever.
	TTL time.Duration
	// KeyPrefix namespaces all keys, default "gridroute:snapshot:".
	KeyPrefix string
}

// RedisStore persists snapshots in redis, for runs spread over multiple
// machines sharing one store.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gridroute:snapshot:"
	}
	return &RedisStore{client: client, ttl: cfg.TTL, prefix: prefix}, nil
}

// Save writes data under the prefixed key.
func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// Load reads the blob for key; redis.Nil maps to a miss.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Close closes the redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }

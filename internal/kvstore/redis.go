package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyTemplate = "%s:ns:%s"

// RedisStore keeps each namespace in one Redis hash. Replace runs DEL and
// HSET inside MULTI/EXEC so readers never see a partial namespace.
type RedisStore struct {
	cli    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore wraps an existing client. Keys are prefixed with prefix.
func NewRedisStore(cli *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		cli:    cli,
		prefix: prefix,
		logger: logger.Named("store"),
	}
}

// Namespace returns a handle to the named namespace
func (s *RedisStore) Namespace(name string) Namespace {
	return &redisNamespace{store: s, name: name}
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.cli.Close()
}

func (s *RedisStore) key(name string) string {
	return fmt.Sprintf(redisKeyTemplate, s.prefix, name)
}

type redisNamespace struct {
	store *RedisStore
	name  string
}

func (n *redisNamespace) Load(ctx context.Context) (map[string]string, error) {
	if err := ValidateNamespace(n.name); err != nil {
		return nil, err
	}
	values, err := n.store.cli.HGetAll(ctx, n.store.key(n.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace %s: %w", n.name, err)
	}
	return values, nil
}

func (n *redisNamespace) Replace(ctx context.Context, values map[string]string) error {
	if err := ValidateNamespace(n.name); err != nil {
		return err
	}
	key := n.store.key(n.name)

	fields := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
	}

	_, err := n.store.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace namespace %s: %w", n.name, err)
	}
	return nil
}

func (n *redisNamespace) Clear(ctx context.Context) error {
	if err := ValidateNamespace(n.name); err != nil {
		return err
	}
	if err := n.store.cli.Del(ctx, n.store.key(n.name)).Err(); err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", n.name, err)
	}
	return nil
}

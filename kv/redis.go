package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key, e.g. "despacho:"
	Prefix string
}

// Redis is a Store backed by a Redis server. Update uses optimistic
// locking (WATCH / MULTI / EXEC) and is safe across processes.
type Redis struct {
	client *redis.Client
	prefix string
}

var (
	_ Store   = &Redis{}
	_ Updater = &Redis{}
)

// NewRedis connects to the server and pings it
func NewRedis(ctx context.Context, config *RedisConfig) (*Redis, error) {
	if config == nil || config.Addr == "" {
		return nil, errors.New("kv: must provide redis address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: redis ping '%s' failed with '%w'", config.Addr, err)
	}
	return NewRedisWithClient(client, config.Prefix), nil
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (s *Redis) key(key string) string {
	return s.prefix + key
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	d, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	k := s.key(key)
	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			old, err = nil, nil
		}
		if err != nil {
			return err
		}
		v, err := fn(old)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, v, 0)
			return nil
		})
		return err
	}
	return retryOnConflict(ctx, func() error {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			return ErrConflict
		}
		return err
	})
}

func (s *Redis) Close() error {
	return s.client.Close()
}

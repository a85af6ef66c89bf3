package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisHash is the hash holding every preference.
const DefaultRedisHash = "streamwall:prefs"

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Hash        string
	DialTimeout time.Duration
}

// Redis stores preferences as fields of one hash so several walls can share them.
type Redis struct {
	client *redis.Client
	hash   string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Hash == "" {
		opts.Hash = DefaultRedisHash
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", opts.Addr, err)
	}
	return NewRedis(client, opts.Hash), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, hash string) *Redis {
	if hash == "" {
		hash = DefaultRedisHash
	}
	return &Redis{client: client, hash: hash}
}

func (s *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if !ValidKey(key) {
		return "", false, ErrInvalidKey
	}
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return v, true, nil
}

func (s *Redis) Set(ctx context.Context, key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

func (s *Redis) All(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return m, nil
}

func (s *Redis) Close() error { return s.client.Close() }

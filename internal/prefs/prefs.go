// Package prefs stores the viewer's preference flags (mute, theme, layout) as
// opaque string pairs.
package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/grafana/regexp"
)

var (
	// ErrInvalidKey is returned for keys outside 1..64 characters of [A-Za-z0-9._-].
	ErrInvalidKey = errors.New("prefs: invalid key")

	// ErrValueTooLarge is returned for values over MaxValueSize bytes.
	ErrValueTooLarge = errors.New("prefs: value too large")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("prefs: unknown backend")
)

// MaxValueSize bounds a stored value.
const MaxValueSize = 4096

var keyRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Store is a string key-value store.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// ValidKey reports whether key may be stored.
func ValidKey(key string) bool {
	return keyRe.MatchString(key)
}

func validate(key, value string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "memory", "sqlite" or "redis".
	Backend    string
	SQLitePath string
	Redis      RedisOptions
}

// Open returns the backend named by cfg.Backend. An empty name means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

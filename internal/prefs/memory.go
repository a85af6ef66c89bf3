package prefs

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory keeps preferences for the life of the process.
type Memory struct {
	m *xsync.MapOf[string, string]
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: xsync.NewMapOf[string, string]()}
}

func (s *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if !ValidKey(key) {
		return "", false, ErrInvalidKey
	}
	v, ok := s.m.Load(key)
	return v, ok, nil
}

func (s *Memory) Set(_ context.Context, key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}
	s.m.Store(key, value)
	return nil
}

func (s *Memory) All(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, s.m.Size())
	s.m.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	return out, nil
}

func (s *Memory) Close() error { return nil }

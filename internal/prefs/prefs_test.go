package prefs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "theme"); err != nil || ok {
		t.Fatalf("Get on empty store = %v, %v", ok, err)
	}
	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "muted", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "theme", "light"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	if v, ok, err := s.Get(ctx, "theme"); err != nil || !ok || v != "light" {
		t.Errorf("Get(theme) = %q, %v, %v", v, ok, err)
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all["muted"] != "true" {
		t.Errorf("All = %v", all)
	}

	if err := s.Set(ctx, "bad key!", "x"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set invalid key = %v", err)
	}
	if _, _, err := s.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Get empty key = %v", err)
	}
	if err := s.Set(ctx, "layout", strings.Repeat("x", MaxValueSize+1)); !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("Set large value = %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "prefs.db")
	s, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if v, ok, _ := reopened.Get(context.Background(), "theme"); !ok || v != "light" {
		t.Errorf("value did not persist: %q, %v", v, ok)
	}
}

func TestValidKey(t *testing.T) {
	for _, tc := range []struct {
		key  string
		want bool
	}{
		{"theme", true},
		{"layout.cols", true},
		{"stream_1-muted", true},
		{"", false},
		{"has space", false},
		{"slash/key", false},
		{strings.Repeat("k", 64), true},
		{strings.Repeat("k", 65), false},
	} {
		if got := ValidKey(tc.key); got != tc.want {
			t.Errorf("ValidKey(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("default backend = %T, want *Memory", s)
	}

	if _, err := Open(ctx, Config{Backend: "etcd"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("unknown backend = %v", err)
	}
	if _, err := Open(ctx, Config{Backend: "sqlite"}); err == nil {
		t.Error("sqlite without a path should fail")
	}
}

func TestOpenRedis_unreachable(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 500 * time.Millisecond})
	if err == nil {
		t.Error("expected error connecting to a closed port")
	}
}

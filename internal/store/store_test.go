package store

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := Connect(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestGetAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	v, ok, err := s.Get(context.Background(), "ABC123", FieldHistory)
	if err != nil || ok || v != "" {
		t.Fatalf("Get absent = %q %v %v", v, ok, err)
	}
}

func TestPutGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "ABC123", FieldHistory, "1. e4"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, "ABC123", FieldHistory)
	if err != nil || !ok || v != "1. e4" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
	if got := mr.HGet("game:ABC123", FieldHistory); got != "1. e4" {
		t.Fatalf("raw hash field = %q", got)
	}
}

func TestPutAllScopedByGame(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.PutAll(ctx, "G1", map[string]string{FieldHistory: "h1", FieldStatus: "in_progress"}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if err := s.PutAll(ctx, "G2", map[string]string{FieldHistory: "h2"}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	all, err := s.GetAll(ctx, "G1")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 || all[FieldHistory] != "h1" {
		t.Fatalf("unexpected G1 fields: %v", all)
	}
	if v, _, _ := s.Get(ctx, "G2", FieldHistory); v != "h2" {
		t.Fatalf("G2 history = %q", v)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := Connect(context.Background(), "http://localhost"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}

func TestPutFailsWhenServerDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	if err := s.Put(context.Background(), "G1", FieldHistory, "x"); err == nil {
		t.Fatalf("expected error with server closed")
	}
}

package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestNewRedisClientPings(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.Exists("k"); !got {
		t.Fatalf("expected key to be written to miniredis")
	}
}

func TestNewRedisClientRejectsEmptyURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestNewPostgresPoolRejectsEmptyURL(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), "", false); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

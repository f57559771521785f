package rdx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSetNXGet(t *testing.T) {
	mr := miniredis.RunT(t)
	conn := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer conn.Close()
	ctx := context.Background()

	v, won, err := SetNXGet(ctx, conn, "k", "first", time.Minute)
	if err != nil || !won || v != "first" {
		t.Fatalf("first: %q %v %v", v, won, err)
	}
	v, won, err = SetNXGet(ctx, conn, "k", "second", time.Minute)
	if err != nil || won || v != "first" {
		t.Fatalf("second: %q %v %v", v, won, err)
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	v, won, err = SetNXGet(ctx, conn, "k", "third", time.Minute)
	if err != nil || !won || v != "third" {
		t.Fatalf("after expiry: %q %v %v", v, won, err)
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, err := Connect(context.Background(), mr.Addr(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()

	mr.Close()
	if _, err := Connect(context.Background(), mr.Addr(), ""); err == nil {
		t.Fatal("expected error against a closed server")
	}
}

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
)

func testLocker(t *testing.T) *Locker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("requires REDIS_ADDR")
	}
	rdb, err := Connect(context.Background(), config.Redis{Addr: addr}, 5*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb)
}

func TestLocker_Exclusive(t *testing.T) {
	l := testLocker(t)
	ctx := context.Background()
	key := "test-" + uuid.NewString()

	first, err := l.Obtain(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("first Obtain: %v", err)
	}
	if _, err := l.Obtain(ctx, key, time.Minute); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("second Obtain = %v, want ErrNotObtained", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := l.Obtain(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Obtain after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestLocker_ReleaseAfterExpiry(t *testing.T) {
	l := testLocker(t)
	ctx := context.Background()

	lk, err := l.Obtain(ctx, "test-"+uuid.NewString(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := lk.Release(ctx); err != nil {
		t.Fatalf("Release of expired lock = %v, want nil", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Connect(ctx, config.Redis{Addr: "127.0.0.1:1"}, 300*time.Millisecond); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

//go:build integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(testClient)

	t.Run("should hand the lock to one caller until it is released", func(t *testing.T) {
		// --- Arrange ---
		key := "lock:test:" + t.Name()

		// --- Act ---
		token, err := locker.TryLock(ctx, key, time.Minute)
		_, second := locker.TryLock(ctx, key, time.Minute)

		// --- Assert ---
		if err != nil || token == "" {
			t.Fatalf("expected first caller to lock, but got: %q %v", token, err)
		}
		if !errors.Is(second, ErrLockNotAcquired) {
			t.Fatalf("expected ErrLockNotAcquired, but got: %v", second)
		}
		if err := locker.Unlock(ctx, key, token); err != nil {
			t.Fatalf("expected unlock to succeed, but got: %v", err)
		}
		if _, err := locker.TryLock(ctx, key, time.Minute); err != nil {
			t.Fatalf("expected lock to be free after unlock, but got: %v", err)
		}
	})

	t.Run("should ignore an unlock with a stale token", func(t *testing.T) {
		key := "lock:test:" + t.Name()
		if _, err := locker.TryLock(ctx, key, time.Minute); err != nil {
			t.Fatalf("lock: %v", err)
		}

		if err := locker.Unlock(ctx, key, "not-the-owner"); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if _, err := locker.TryLock(ctx, key, time.Minute); !errors.Is(err, ErrLockNotAcquired) {
			t.Fatalf("expected the lock to remain held, but got: %v", err)
		}
	})
}

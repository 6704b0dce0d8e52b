package idempotency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paycore/config"
	"paycore/internal/domain"
	"paycore/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, ttl), mr
}

func newDBStore(t *testing.T, ttl time.Duration) *DBStore {
	t.Helper()
	return NewDBStore(testutil.NewDB(t), ttl)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"redis":    func(t *testing.T) Store { s, _ := newRedisStore(t, time.Hour); return s },
		"database": func(t *testing.T) Store { return newDBStore(t, time.Hour) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("Given new key When remembered twice Then first then already seen", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				key := EventKey("tx-1", domain.StatusCompleted)
				if got, err := s.Remember(ctx, key); err != nil || got != FirstSeen {
					t.Fatalf("first Remember = %v, %v", got, err)
				}
				if got, err := s.Remember(ctx, key); err != nil || got != AlreadySeen {
					t.Fatalf("second Remember = %v, %v", got, err)
				}
				if got, _ := s.Remember(ctx, EventKey("tx-1", domain.StatusRefunded)); got != FirstSeen {
					t.Errorf("other status of same payment = %v, want FirstSeen", got)
				}
			})

			t.Run("Given forgotten key When remembered Then first seen again", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				s.Remember(ctx, "k")
				if err := s.Forget(ctx, "k"); err != nil {
					t.Fatalf("Forget: %v", err)
				}
				if got, _ := s.Remember(ctx, "k"); got != FirstSeen {
					t.Errorf("Remember after Forget = %v", got)
				}
			})

			t.Run("Given concurrent callers When same key Then exactly one first seen", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				var first atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						got, err := s.Remember(ctx, "race")
						if err != nil {
							t.Errorf("Remember: %v", err)
							return
						}
						if got == FirstSeen {
							first.Add(1)
						}
					}()
				}
				wg.Wait()
				if first.Load() != 1 {
					t.Errorf("FirstSeen observed %d times, want 1", first.Load())
				}
			})
		})
	}
}

func TestRedisStoreKeysExpire(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	s.Remember(ctx, "k")
	mr.FastForward(2 * time.Minute)
	if got, _ := s.Remember(ctx, "k"); got != FirstSeen {
		t.Errorf("Remember after TTL = %v, want FirstSeen", got)
	}
}

func TestDBStoreReclaimsExpiredKeys(t *testing.T) {
	s := newDBStore(t, time.Minute)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Remember(ctx, "k")
	s.Remember(ctx, "old")
	now = now.Add(2 * time.Minute)

	if got, _ := s.Remember(ctx, "k"); got != FirstSeen {
		t.Fatalf("Remember after TTL = %v, want FirstSeen", got)
	}
	if got, _ := s.Remember(ctx, "k"); got != AlreadySeen {
		t.Fatalf("Remember after reclaim = %v, want AlreadySeen", got)
	}
	n, err := s.Purge(ctx)
	if err != nil || n != 1 {
		t.Errorf("Purge = %d, %v; want 1", n, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	db := testutil.NewDB(t)
	tests := []struct {
		name    string
		backend string
		addr    string
		wantErr bool
		want    string
	}{
		{"Given redis backend When server is up Then redis store", "redis", mr.Addr(), false, "*idempotency.RedisStore"},
		{"Given redis backend When server is down Then error", "redis", "127.0.0.1:1", true, ""},
		{"Given database backend When opened Then database store", "database", "", false, "*idempotency.DBStore"},
		{"Given unknown backend When opened Then error", "memcached", "", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := Open(ctx, config.IdempotencyConfig{Backend: tt.backend, TTL: time.Hour}, config.RedisConfig{Addr: tt.addr}, db)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer closeFn()
			if got := fmt.Sprintf("%T", s); got != tt.want {
				t.Fatalf("store = %s, want %s", got, tt.want)
			}
		})
	}
}

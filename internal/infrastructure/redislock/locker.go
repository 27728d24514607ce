// Package redislock serialises per-email work across replicas with a Redis
// lease (SET NX PX) released by a compare-and-delete script.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-otp-accounts/internal/pkg/token"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "otp:lock:"
	retryInterval = 25 * time.Millisecond
	opTimeout     = 250 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker satisfies otp.Locker.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewClient connects and pings, closing the client on failure.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// New builds a locker whose leases expire after ttl if never released.
func New(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: defaultPrefix, ttl: ttl}
}

// Lock polls until the lease is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	tok, err := token.New(16)
	if err != nil {
		return nil, err
	}
	redisKey := l.prefix + key

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, tok, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			return l.unlockFunc(redisKey, tok), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlockFunc(redisKey, tok string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, tok).Err(); err != nil {
				slog.Error("redis lock release failed", "key", redisKey, "err", err)
			}
		})
	}
}

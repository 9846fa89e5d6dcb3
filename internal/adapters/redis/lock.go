package redisad

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"propsync/internal/domain"
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Locker hands out leases keyed under prefix.
type Locker struct {
	c      *redis.Client
	prefix string
}

func NewLocker(c *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "propsync:lock:"
	}
	return &Locker{c: c, prefix: prefix}
}

// Acquire takes the lease with SET NX or fails with domain.ErrSyncInProgress.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSyncInProgress
	}
	log.Debug().Str("key", k).Msg("lease acquired")
	return &Lease{c: l.c, key: k, token: token}, nil
}

type Lease struct {
	c     *redis.Client
	key   string
	token string
}

// Release deletes the key only while we still own it.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.c, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLockNotHeld
	}
	log.Debug().Str("key", l.key).Msg("lease released")
	return nil
}

func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.c, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

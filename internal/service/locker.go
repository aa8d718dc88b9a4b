package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/util"
)

// AccountLocker serializes sale commits per account. The returned func releases the lock.
type AccountLocker interface {
	Lock(ctx context.Context, account models.AccountID) (func(), error)
}

// LocalLocker is an in-process keyed mutex. Waiters honour ctx.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[models.AccountID]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty keyed mutex
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[models.AccountID]*lockSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, account models.AccountID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[account]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[account] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(account, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.drop(account, slot)
		})
	}, nil
}

func (l *LocalLocker) drop(account models.AccountID, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, account)
	}
}

// lockClient is implemented by *redisclient.Client.
type lockClient interface {
	AcquireLock(ctx context.Context, account models.AccountID, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, account models.AccountID, token string) error
}

// RedisLocker holds the account lock in Redis so commits are serialized across instances.
type RedisLocker struct {
	client lockClient
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker whose locks expire after ttl. Lock gives up after wait.
func NewRedisLocker(client lockClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   25 * time.Millisecond,
		logger: util.Named("account-lock"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, account models.AccountID) (func(), error) {
	token := models.NewID()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.AcquireLock(ctx, account, token, l.ttl)
		if err != nil {
			return nil, &PersistenceError{Op: "acquire account lock", Retryable: true, Err: err}
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, &PersistenceError{Op: "acquire account lock", Retryable: true, Err: ErrLockBusy}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// released with a fresh context so a cancelled request still frees the lock
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.client.ReleaseLock(releaseCtx, account, token); err != nil {
				l.logger.Warn("failed to release account lock",
					util.AccountField(account),
					zap.Error(err))
			}
		})
	}, nil
}

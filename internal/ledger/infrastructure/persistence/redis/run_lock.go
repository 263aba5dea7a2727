package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// locker 由 *cache.RedisCache 实现
type locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type runLock struct {
	locker locker
	logger *slog.Logger
}

// NewRunLock 基于 SETNX 的跨实例互斥锁，每次获取生成独立 token，只释放自己持有的锁
func NewRunLock(l locker, logger *slog.Logger) domain.RunLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &runLock{locker: l, logger: logger}
}

func (r *runLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := r.locker.AcquireLock(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return func() {
		// 调用方 ctx 可能已取消，释放使用独立超时
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := r.locker.ReleaseLock(releaseCtx, key, token); err != nil {
			r.logger.WarnContext(ctx, "failed to release run lock", "key", key, "error", err)
		}
	}, nil
}

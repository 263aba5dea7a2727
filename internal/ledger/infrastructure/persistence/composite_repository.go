// Package persistence 组合 GORM 主库与 Redis 缓存
package persistence

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"github.com/wyfcoding/pkg/contextx"
)

// compositeProfileRepository 读路径先查缓存；写路径登记失效，在外层事务提交后执行
type compositeProfileRepository struct {
	domain.ProfileRepository
	cache  domain.ProfileCache
	logger *slog.Logger
}

// NewCompositeProfileRepository 包装主库仓储；cache 为 nil 时直接返回主库仓储
func NewCompositeProfileRepository(primary domain.ProfileRepository, cache domain.ProfileCache, logger *slog.Logger) domain.ProfileRepository {
	if cache == nil {
		return primary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &compositeProfileRepository{ProfileRepository: primary, cache: cache, logger: logger}
}

// Get 事务内读取必须看到事务自身的写入，直接走主库
func (r *compositeProfileRepository) Get(ctx context.Context, id string) (*domain.Profile, error) {
	if inTx(ctx) {
		return r.ProfileRepository.Get(ctx, id)
	}

	p, err := r.cache.Get(ctx, id)
	if err == nil && p != nil {
		return p, nil
	}
	if err != nil {
		r.logger.WarnContext(ctx, "profile cache read failed", "account_id", id, "error", err)
	}

	p, err = r.ProfileRepository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Save(ctx, p); err != nil {
		r.logger.WarnContext(ctx, "profile cache backfill failed", "account_id", id, "error", err)
	}
	return p, nil
}

func (r *compositeProfileRepository) ApplyDelta(ctx context.Context, id string, delta domain.BalanceDelta) error {
	if err := r.ProfileRepository.ApplyDelta(ctx, id, delta); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *compositeProfileRepository) SetStatus(ctx context.Context, id string, from []domain.ProfileStatus, to domain.ProfileStatus) error {
	if err := r.ProfileRepository.SetStatus(ctx, id, from, to); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *compositeProfileRepository) ClearReferrer(ctx context.Context, referrerID string) ([]string, error) {
	ids, err := r.ProfileRepository.ClearReferrer(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, ids...)
	return ids, nil
}

func (r *compositeProfileRepository) Delete(ctx context.Context, id string) error {
	if err := r.ProfileRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// invalidate 在事务提交后删除缓存，回滚时不动缓存。失效失败不影响主库结果，
// 遗留的旧快照由事件投影再次失效或等待 TTL 过期。
func (r *compositeProfileRepository) invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := r.cache.Delete(ctx, ids...); err != nil {
			r.logger.WarnContext(ctx, "profile cache invalidation failed", "account_ids", ids, "error", err)
		}
	})
}

func inTx(ctx context.Context) bool {
	return contextx.GetTx(ctx) != nil
}

// Package redis 账户快照缓存与批处理互斥锁
package redis

import (
	"context"
	"time"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// jsonStore 由 *cache.RedisCache 实现
type jsonStore interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type profileCache struct {
	store  jsonStore
	prefix string
	ttl    time.Duration
}

// NewProfileCache 创建账户缓存，ttl 为 0 时默认 10 分钟
func NewProfileCache(store jsonStore, ttl time.Duration) domain.ProfileCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &profileCache{
		store:  store,
		prefix: "ledger:profile:",
		ttl:    ttl,
	}
}

func (c *profileCache) Get(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	hit, err := c.store.GetJSON(ctx, c.key(id), &p)
	if err != nil || !hit {
		return nil, err
	}
	return &p, nil
}

func (c *profileCache) Save(ctx context.Context, p *domain.Profile) error {
	if p == nil {
		return nil
	}
	return c.store.SetJSON(ctx, c.key(p.ID), p, c.ttl)
}

func (c *profileCache) Delete(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	return c.store.Delete(ctx, keys...)
}

func (c *profileCache) key(id string) string {
	return c.prefix + id
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 闲置超过该时长的桶在下次清扫时回收
const localIdleTTL = 10 * time.Minute

type bucket struct {
	lim   *rate.Limiter
	limit Limit
	seen  time.Time
}

// LocalLimiter 进程内按 key 分桶的令牌桶，只约束本实例
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit Limit) (*Decision, error) {
	if limit.Unlimited() {
		return &Decision{Allowed: true, Remaining: limit.Burst}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	// 规则变化时重建，旧额度作废
	if !ok || b.limit != limit {
		b = &bucket{
			lim:   rate.NewLimiter(rate.Every(limit.Period/time.Duration(limit.Rate)), limit.Burst),
			limit: limit,
		}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return &Decision{Allowed: false, RetryAfter: limit.Period}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return &Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return &Decision{Allowed: true, Remaining: int(b.lim.TokensAt(now))}, nil
}

func (l *LocalLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < localIdleTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= localIdleTTL {
			delete(l.buckets, key)
		}
	}
}

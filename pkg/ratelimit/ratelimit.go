// Package ratelimit 账本写接口的按主体限流。
// Redis 可用时多实例共享额度，不可用时退化为进程内令牌桶。
package ratelimit

import (
	"context"
	"time"
)

const keyPrefix = "ledger:ratelimit:"

// Scope 限流场景，不同场景的额度互不影响
type Scope string

const (
	ScopeWithdraw Scope = "withdraw"
	ScopeInvest   Scope = "invest"
)

// Key 组合限流 key，subject 通常是账户 ID
func Key(scope Scope, subject string) string {
	return keyPrefix + string(scope) + ":" + subject
}

// Limit 每 Period 允许 Rate 次，瞬时最多 Burst 次
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerMinute rate 为 0 表示不限流
func PerMinute(rate, burst int) Limit {
	if burst <= 0 {
		burst = rate
	}
	return Limit{Rate: rate, Period: time.Minute, Burst: burst}
}

// Unlimited 规则未配置
func (l Limit) Unlimited() bool {
	return l.Rate <= 0 || l.Period <= 0
}

// Decision 单次判定结果
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter 由 RedisLimiter、LocalLimiter 与 Fallback 实现
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Decision, error)
}

// Fallback 主限流器出错时改用备用限流器判定，两者都出错才返回错误
type Fallback struct {
	primary   RateLimiter
	secondary RateLimiter
	onError   func(ctx context.Context, key string, err error)
}

// NewFallback onError 可为 nil
func NewFallback(primary, secondary RateLimiter, onError func(ctx context.Context, key string, err error)) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, onError: onError}
}

func (f *Fallback) Allow(ctx context.Context, key string, limit Limit) (*Decision, error) {
	d, err := f.primary.Allow(ctx, key, limit)
	if err == nil {
		return d, nil
	}
	if f.onError != nil {
		f.onError(ctx, key, err)
	}
	return f.secondary.Allow(ctx, key, limit)
}

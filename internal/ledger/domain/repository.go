package domain

import (
	"context"
	"time"
)

// ProfileRepository 账户仓储
type ProfileRepository interface {
	// Create 用户名重复时返回 ErrDuplicate
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	List(ctx context.Context, limit, offset int) ([]*Profile, int64, error)
	// ListActive 按 ID 升序游标分页读取激活账户
	ListActive(ctx context.Context, afterID string, limit int) ([]*Profile, error)
	// ApplyDelta 原子应用增量，余额将为负时返回 ErrInsufficientBalance 且不修改
	ApplyDelta(ctx context.Context, id string, delta BalanceDelta) error
	// SetStatus 条件更新状态，当前状态不在 from 中时返回 ErrStaleState
	SetStatus(ctx context.Context, id string, from []ProfileStatus, to ProfileStatus) error
	// ClearReferrer 清除被推荐账户上的推荐人引用，返回被修改的账户 ID
	ClearReferrer(ctx context.Context, referrerID string) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// ProfileCache 账户快照缓存，未命中时返回 (nil, nil)
type ProfileCache interface {
	Get(ctx context.Context, id string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, ids ...string) error
}

// InvestmentRepository 投资仓储
type InvestmentRepository interface {
	Create(ctx context.Context, inv *Investment) error
	Get(ctx context.Context, id string) (*Investment, error)
	// Transition 条件迁移，当前状态不是 from 时返回 ErrStaleState
	Transition(ctx context.Context, id string, from, to InvestmentStatus, at time.Time) error
	// ListPending 按提交时间升序
	ListPending(ctx context.Context, limit, offset int) ([]*Investment, int64, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Investment, error)
	DeleteByAccount(ctx context.Context, accountID string) error
}

// WithdrawalRepository 提现仓储
type WithdrawalRepository interface {
	Create(ctx context.Context, w *Withdrawal) error
	Get(ctx context.Context, id string) (*Withdrawal, error)
	Transition(ctx context.Context, id string, from, to WithdrawalStatus, at time.Time) error
	// ListByAccount 按申请时间倒序
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Withdrawal, int64, error)
	// ListPending 处理中的提现，按申请时间升序
	ListPending(ctx context.Context, limit, offset int) ([]*Withdrawal, int64, error)
	// DeleteProcessing 只删除仍在 processing 的提现；已处理返回 ErrStaleState
	DeleteProcessing(ctx context.Context, id string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

// WithdrawalMethodRepository 收款方式仓储
type WithdrawalMethodRepository interface {
	// Upsert 以 account_id 为键覆盖写入
	Upsert(ctx context.Context, m *WithdrawalMethod) error
	GetByAccount(ctx context.Context, accountID string) (*WithdrawalMethod, error)
	DeleteByAccount(ctx context.Context, accountID string) error
}

// ReferralRepository 推荐记录仓储
type ReferralRepository interface {
	// Create 被推荐账户已有记录时返回 ErrDuplicate
	Create(ctx context.Context, r *Referral) error
	GetByReferred(ctx context.Context, referredID string) (*Referral, error)
	ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*Referral, int64, error)
	DeleteByReferred(ctx context.Context, referredID string) error
}

// EarningsRepository 收益流水仓储
type EarningsRepository interface {
	Append(ctx context.Context, entries []*EarningsEntry) error
	// ListByAccount 按时间倒序
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*EarningsEntry, int64, error)
	DeleteByAccount(ctx context.Context, accountID string) error
}

// AccrualRepository 每日收益入账标记，(account_id, date) 唯一
type AccrualRepository interface {
	// Mark 插入入账标记，已存在返回 false
	Mark(ctx context.Context, date AccrualDate, credit AccrualCredit) (bool, error)
	CountByDate(ctx context.Context, date AccrualDate) (int64, error)
}

// SagaRepository 工作流记录仓储
type SagaRepository interface {
	Create(ctx context.Context, s *Saga) error
	Get(ctx context.Context, gid string) (*Saga, error)
	// Transition 条件迁移并记录错误信息，当前状态不是 from 时返回 ErrStaleState
	Transition(ctx context.Context, gid string, from, to SagaState, lastErr string) error
	// Touch 记录一次推进尝试
	Touch(ctx context.Context, gid string, lastErr string) error
	// ListStale 更新时间早于 before 的未结束工作流
	ListStale(ctx context.Context, states []SagaState, before time.Time, limit int) ([]*Saga, error)
}

// Transactor 在单个存储事务中执行 fn，事务句柄通过 ctx 传递
type Transactor interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// RunLock 跨实例互斥，防止批处理重叠执行
type RunLock interface {
	// Acquire 获取成功返回释放函数；已被占用返回 ErrLockHeld
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Store 账本存储的全部协作者
type Store struct {
	Profiles    ProfileRepository
	Investments InvestmentRepository
	Withdrawals WithdrawalRepository
	Methods     WithdrawalMethodRepository
	Referrals   ReferralRepository
	Earnings    EarningsRepository
	Accruals    AccrualRepository
	Sagas       SagaRepository
	Barrier     Barrier
	Tx          Transactor
}

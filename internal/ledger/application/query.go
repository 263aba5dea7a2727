package application

import (
	"context"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

const maxPageSize = 200

// Page 分页结果
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func newPage[T any](items []T, total int64, limit, offset int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}

// QueryService 只读查询
type QueryService struct {
	*Runtime
}

// NewQueryService 创建查询服务
func NewQueryService(rt *Runtime) *QueryService {
	return &QueryService{Runtime: rt}
}

// Plans 套餐表
func (q *QueryService) Plans() []domain.Plan {
	return domain.Plans()
}

// ListProfiles 账户列表
func (q *QueryService) ListProfiles(ctx context.Context, limit, offset int) (*Page[*domain.Profile], error) {
	limit, offset = clampPage(limit, offset)
	var (
		items []*domain.Profile
		total int64
	)
	err := q.step(ctx, "profile.list", func(ctx context.Context) (err error) {
		items, total, err = q.store.Profiles.List(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}

// ListPendingInvestments 待审核投资，最早提交的在前
func (q *QueryService) ListPendingInvestments(ctx context.Context, limit, offset int) (*Page[*domain.Investment], error) {
	limit, offset = clampPage(limit, offset)
	var (
		items []*domain.Investment
		total int64
	)
	err := q.step(ctx, "investment.list_pending", func(ctx context.Context) (err error) {
		items, total, err = q.store.Investments.ListPending(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}

// ListInvestments 账户的投资记录
func (q *QueryService) ListInvestments(ctx context.Context, accountID string) ([]*domain.Investment, error) {
	var items []*domain.Investment
	err := q.step(ctx, "investment.list", func(ctx context.Context) (err error) {
		items, err = q.store.Investments.ListByAccount(ctx, accountID)
		return err
	})
	return items, err
}

// ListWithdrawals 账户的提现记录，最新的在前
func (q *QueryService) ListWithdrawals(ctx context.Context, accountID string, limit, offset int) (*Page[*domain.Withdrawal], error) {
	limit, offset = clampPage(limit, offset)
	var (
		items []*domain.Withdrawal
		total int64
	)
	err := q.step(ctx, "withdrawal.list", func(ctx context.Context) (err error) {
		items, total, err = q.store.Withdrawals.ListByAccount(ctx, accountID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}

// ListPendingWithdrawals 处理中的提现
func (q *QueryService) ListPendingWithdrawals(ctx context.Context, limit, offset int) (*Page[*domain.Withdrawal], error) {
	limit, offset = clampPage(limit, offset)
	var (
		items []*domain.Withdrawal
		total int64
	)
	err := q.step(ctx, "withdrawal.list_pending", func(ctx context.Context) (err error) {
		items, total, err = q.store.Withdrawals.ListPending(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}

// ListReferrals 推荐人获得的奖励记录
func (q *QueryService) ListReferrals(ctx context.Context, referrerID string, limit, offset int) (*Page[*domain.Referral], error) {
	limit, offset = clampPage(limit, offset)
	var (
		items []*domain.Referral
		total int64
	)
	err := q.step(ctx, "referral.list", func(ctx context.Context) (err error) {
		items, total, err = q.store.Referrals.ListByReferrer(ctx, referrerID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}

// ListEarnings 收益流水，最新的在前
func (q *QueryService) ListEarnings(ctx context.Context, accountID string, limit, offset int) (*Page[*domain.EarningsEntry], error) {
	limit, offset = clampPage(limit, offset)
	var (
		items []*domain.EarningsEntry
		total int64
	)
	err := q.step(ctx, "earnings.list", func(ctx context.Context) (err error) {
		items, total, err = q.store.Earnings.ListByAccount(ctx, accountID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}

// GetSaga 工作流诊断
func (q *QueryService) GetSaga(ctx context.Context, gid string) (*domain.Saga, error) {
	var s *domain.Saga
	err := q.step(ctx, "saga.get", func(ctx context.Context) (err error) {
		s, err = q.store.Sagas.Get(ctx, gid)
		return err
	})
	return s, err
}

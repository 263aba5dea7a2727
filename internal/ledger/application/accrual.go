package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// 跳过原因
const (
	SkipUnknownPlan    = "unknown_plan"
	SkipAccountDeleted = "account_deleted"
)

// SkippedAccount 未能入账的账户：套餐未知，或在本次运行中被删除
type SkippedAccount struct {
	AccountID string        `json:"account_id"`
	Plan      domain.PlanID `json:"plan_id"`
	Reason    string        `json:"reason"`
}

// AccrualResult 一次每日收益运行的汇总
type AccrualResult struct {
	Date            domain.AccrualDate `json:"date"`
	Credited        int                `json:"credited"`
	AlreadyCredited int                `json:"already_credited"`
	Skipped         []SkippedAccount   `json:"skipped"`
	HistoryFailed   int                `json:"history_failed"`
	Duration        time.Duration      `json:"duration"`
}

// AccrualJob 每日收益：为每个激活账户按套餐日收益入账，并追加收益流水
type AccrualJob struct {
	*Runtime
	lock domain.RunLock
}

// NewAccrualJob 创建每日收益任务；lock 为 nil 时不做跨实例互斥
func NewAccrualJob(rt *Runtime, lock domain.RunLock) *AccrualJob {
	return &AccrualJob{Runtime: rt, lock: lock}
}

// Run 为 date 入账。同一 (账户, 日期) 至多入账一次，重复调用只补齐尚未入账的账户。
func (j *AccrualJob) Run(ctx context.Context, date domain.AccrualDate) (*AccrualResult, error) {
	start := time.Now()
	if j.lock != nil {
		release, err := j.lock.Acquire(ctx, "ledger:accrual:"+string(date), j.opts.AccrualLockTTL)
		if err != nil {
			j.runMetric("skipped_locked")
			return nil, fmt.Errorf("acquire accrual lock for %s: %w", date, err)
		}
		defer release()
	}

	result := &AccrualResult{Date: date, Skipped: []SkippedAccount{}}
	afterID := ""
	for {
		var batch []*domain.Profile
		if err := j.step(ctx, "accrual.list_active", func(ctx context.Context) (err error) {
			batch, err = j.store.Profiles.ListActive(ctx, afterID, j.opts.AccrualBatchSize)
			return err
		}); err != nil {
			j.runMetric("failed")
			return result, fmt.Errorf("list active profiles: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		if err := j.processBatch(ctx, date, batch, result); err != nil {
			j.runMetric("failed")
			return result, err
		}
		if len(batch) < j.opts.AccrualBatchSize {
			break
		}
	}

	result.Duration = time.Since(start)
	j.runMetric("ok")
	if len(result.Skipped) > 0 {
		j.alert(ctx, domain.AlertAccrualSkipped, "accounts skipped by daily accrual", nil,
			"date", string(date), "accounts", fmt.Sprint(len(result.Skipped)))
	}
	j.logger.InfoContext(ctx, "daily accrual finished", "date", date, "credited", result.Credited,
		"already_credited", result.AlreadyCredited, "skipped", len(result.Skipped),
		"history_failed", result.HistoryFailed, "duration", result.Duration)
	return result, nil
}

// processBatch 一批账户的入账标记、余额增量与事件在同一事务内提交；流水在事务后追加，失败只告警
func (j *AccrualJob) processBatch(ctx context.Context, date domain.AccrualDate, batch []*domain.Profile, result *AccrualResult) error {
	staged := make([]domain.AccrualCredit, 0, len(batch))
	plans := make(map[string]domain.PlanID, len(batch))
	for _, p := range batch {
		plan, ok := domain.LookupPlan(p.Plan)
		if !ok {
			j.logger.WarnContext(ctx, "skipping account with unknown plan", "account_id", p.ID, "plan_id", p.Plan)
			result.Skipped = append(result.Skipped, SkippedAccount{AccountID: p.ID, Plan: p.Plan, Reason: SkipUnknownPlan})
			continue
		}
		if !plan.DailyReturn.IsPositive() {
			continue
		}
		staged = append(staged, domain.AccrualCredit{AccountID: p.ID, Amount: plan.DailyReturn})
		plans[p.ID] = p.Plan
	}
	if len(staged) == 0 {
		return nil
	}

	var credited, deleted []domain.AccrualCredit
	err := j.step(ctx, "accrual.apply_batch", func(ctx context.Context) error {
		credited, deleted = credited[:0], deleted[:0]
		return j.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			for _, c := range staged {
				marked, err := j.store.Accruals.Mark(txCtx, date, c)
				if err != nil {
					return fmt.Errorf("mark accrual %s: %w", c.AccountID, err)
				}
				if !marked {
					continue
				}
				err = j.store.Profiles.ApplyDelta(txCtx, c.AccountID, domain.BalanceDelta{
					Balance:       c.Amount,
					DailyEarnings: c.Amount,
				})
				if errors.Is(err, domain.ErrNotFound) {
					// 列出之后被删除；入账标记留在已删除账户名下，不影响其他账户
					deleted = append(deleted, c)
					continue
				}
				if err != nil {
					return fmt.Errorf("credit %s: %w", c.AccountID, err)
				}
				if err := j.emit(txCtx, domain.EventAccrualCredited, c.AccountID, string(date), c.Amount); err != nil {
					return err
				}
				credited = append(credited, c)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("apply accrual batch for %s: %w", date, err)
	}

	for _, c := range deleted {
		j.logger.WarnContext(ctx, "skipping account deleted during accrual", "account_id", c.AccountID, "date", date)
		result.Skipped = append(result.Skipped, SkippedAccount{AccountID: c.AccountID, Plan: plans[c.AccountID], Reason: SkipAccountDeleted})
	}
	result.Credited += len(credited)
	result.AlreadyCredited += len(staged) - len(credited) - len(deleted)
	if j.metrics != nil {
		j.metrics.AccrualCredited.Add(float64(len(credited)))
	}
	if len(credited) == 0 {
		return nil
	}

	now := j.now()
	entries := make([]*domain.EarningsEntry, 0, len(credited))
	total := decimal.Zero
	for _, c := range credited {
		entries = append(entries, &domain.EarningsEntry{
			ID:        j.opts.NewID("ERN"),
			AccountID: c.AccountID,
			Amount:    c.Amount,
			Type:      domain.EarningTypeDaily,
			CreatedAt: now,
		})
		total = total.Add(c.Amount)
	}
	if err := j.step(ctx, "accrual.append_history", func(ctx context.Context) error {
		return j.store.Earnings.Append(ctx, entries)
	}); err != nil {
		result.HistoryFailed += len(entries)
		j.alert(ctx, domain.AlertHistoryAppendFailed, "earnings history append failed, credits already applied", err,
			"date", string(date), "accounts", fmt.Sprint(len(entries)))
	}

	j.logger.DebugContext(ctx, "accrual batch applied", "date", date, "accounts", len(credited), "total", total.String())
	return nil
}

func (j *AccrualJob) runMetric(result string) {
	if j.metrics != nil {
		j.metrics.AccrualRuns.WithLabelValues(result).Inc()
	}
}

// IsLockHeld 判断是否因已有运行而跳过
func IsLockHeld(err error) bool {
	return errors.Is(err, domain.ErrLockHeld)
}

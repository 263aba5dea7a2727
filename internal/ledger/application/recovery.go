package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// RecoveryResult 一次恢复扫描的汇总
type RecoveryResult struct {
	Scanned     int `json:"scanned"`
	Resumed     int `json:"resumed"`
	Compensated int `json:"compensated"`
	Failed      int `json:"failed"`
}

// RecoveryService 接管中途崩溃或补偿失败的工作流。审批以管理员决定为准向前推进；
// 提现以登记记录为准：记录已存在说明正向分支全部提交，只补记完成，否则回滚。
type RecoveryService struct {
	*Runtime
	approvals   *ApprovalService
	withdrawals *WithdrawalService
}

// NewRecoveryService 创建恢复服务
func NewRecoveryService(rt *Runtime, approvals *ApprovalService, withdrawals *WithdrawalService) *RecoveryService {
	return &RecoveryService{Runtime: rt, approvals: approvals, withdrawals: withdrawals}
}

// Run 扫描一批过期的 started/compensating 工作流
func (s *RecoveryService) Run(ctx context.Context) (*RecoveryResult, error) {
	before := s.now().Add(-s.opts.RecoveryStaleAfter)
	var stale []*domain.Saga
	if err := s.step(ctx, "saga.list_stale", func(ctx context.Context) (err error) {
		stale, err = s.store.Sagas.ListStale(ctx,
			[]domain.SagaState{domain.SagaStateStarted, domain.SagaStateCompensating},
			before, s.opts.RecoveryBatchSize)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list stale sagas: %w", err)
	}

	result := &RecoveryResult{Scanned: len(stale)}
	for _, saga := range stale {
		outcome := s.recover(context.WithoutCancel(ctx), saga)
		switch outcome {
		case "resumed":
			result.Resumed++
		case "compensated":
			result.Compensated++
		default:
			result.Failed++
		}
	}
	if result.Scanned > 0 {
		s.logger.InfoContext(ctx, "saga recovery pass finished", "scanned", result.Scanned,
			"resumed", result.Resumed, "compensated", result.Compensated, "failed", result.Failed)
	}
	return result, nil
}

func (s *RecoveryService) recover(ctx context.Context, saga *domain.Saga) string {
	s.logger.InfoContext(ctx, "recovering saga", "gid", saga.GID, "kind", saga.Kind, "state", saga.State, "attempts", saga.Attempts)

	switch saga.Kind {
	case domain.SagaKindApproval:
		steps := s.approvals.approvalSteps(saga)
		if saga.State == domain.SagaStateStarted {
			return s.resumeApproval(ctx, saga, steps)
		}
		return s.rollback(ctx, saga, steps)
	case domain.SagaKindWithdrawal:
		return s.settleWithdrawal(ctx, saga)
	}

	s.logger.ErrorContext(ctx, "unknown saga kind", "gid", saga.GID, "kind", saga.Kind)
	return "failed"
}

func (s *RecoveryService) resumeApproval(ctx context.Context, saga *domain.Saga, steps []sagaStep) string {
	if err := s.forward(ctx, saga, steps); err != nil {
		s.logger.WarnContext(ctx, "resumed approval failed, compensating", "gid", saga.GID, "error", err)
		return s.rollback(ctx, saga, steps)
	}

	var (
		inv     *domain.Investment
		profile *domain.Profile
	)
	err := s.step(ctx, "recovery.load", func(ctx context.Context) (err error) {
		if inv, err = s.store.Investments.Get(ctx, saga.Ref); err != nil {
			return err
		}
		profile, err = s.store.Profiles.Get(ctx, saga.AccountID)
		return err
	})
	if err != nil {
		// 资金已入账，只缺事件通知；标记完成并告警，推荐奖励需人工补发
		s.complete(ctx, saga)
		s.alert(ctx, domain.AlertListenerFailed, "approval resumed but listeners were not notified", err,
			"gid", saga.GID, "investment_id", saga.Ref, "account_id", saga.AccountID)
		return "resumed"
	}

	s.approvals.finishApproval(ctx, saga, profile.ReferredBy, inv.Plan)
	return "resumed"
}

// settleWithdrawal 登记分支是最后一步，记录存在时申请可能已向用户返回成功甚至已被批准
func (s *RecoveryService) settleWithdrawal(ctx context.Context, saga *domain.Saga) string {
	steps := s.withdrawals.withdrawalSteps(saga, nil)
	if saga.State != domain.SagaStateStarted {
		return s.rollback(ctx, saga, steps)
	}

	var w *domain.Withdrawal
	err := s.step(ctx, "withdrawal.get", func(ctx context.Context) (err error) {
		w, err = s.store.Withdrawals.Get(ctx, saga.Ref)
		return err
	})
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "withdrawal already recorded, completing saga", "gid", saga.GID, "withdrawal_id", w.ID, "status", w.Status)
		s.complete(ctx, saga)
		return "resumed"
	case errors.Is(err, domain.ErrNotFound):
		return s.rollback(ctx, saga, steps)
	default:
		s.touchSaga(ctx, saga, err.Error())
		s.logger.ErrorContext(ctx, "failed to inspect withdrawal during recovery", "gid", saga.GID, "error", err)
		return "failed"
	}
}

func (s *RecoveryService) rollback(ctx context.Context, saga *domain.Saga, steps []sagaStep) string {
	if err := s.abort(ctx, saga, steps, fmt.Errorf("recovered after %d attempts", saga.Attempts)); err != nil {
		return "failed"
	}
	return "compensated"
}

package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// DecisionResult 审批结果
type DecisionResult struct {
	InvestmentID string                  `json:"investment_id"`
	AccountID    string                  `json:"account_id"`
	Status       domain.InvestmentStatus `json:"status"`
	SagaID       string                  `json:"saga_id,omitempty"`
}

// ApprovalService 投资审批工作流
type ApprovalService struct {
	*Runtime
	dispatcher *EventDispatcher
}

// NewApprovalService 创建审批服务
func NewApprovalService(rt *Runtime, dispatcher *EventDispatcher) *ApprovalService {
	return &ApprovalService{Runtime: rt, dispatcher: dispatcher}
}

// Decide 处理管理员的批准或拒绝
func (s *ApprovalService) Decide(ctx context.Context, investmentID string, decision domain.Decision) (*DecisionResult, error) {
	var inv *domain.Investment
	if err := s.step(ctx, "investment.get", func(ctx context.Context) (err error) {
		inv, err = s.store.Investments.Get(ctx, investmentID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("load investment %s: %w", investmentID, err)
	}

	switch decision {
	case domain.DecisionApprove:
		return s.approve(ctx, inv)
	case domain.DecisionReject:
		return s.reject(ctx, inv)
	}
	return nil, domain.NewValidationError("decision", "must be approve or reject")
}

// reject 只改投资状态；对已拒绝的记录重复拒绝为空操作
func (s *ApprovalService) reject(ctx context.Context, inv *domain.Investment) (*DecisionResult, error) {
	result := &DecisionResult{InvestmentID: inv.ID, AccountID: inv.AccountID, Status: domain.InvestmentStatusRejected}
	if inv.Status == domain.InvestmentStatusRejected {
		return result, nil
	}
	if _, err := inv.Status.Next(ctx, domain.InvestmentEventReject); err != nil {
		return nil, domain.NewPolicyViolation("investment is already "+string(inv.Status), err)
	}

	err := s.step(ctx, "investment.reject", func(ctx context.Context) error {
		return s.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			if err := s.store.Investments.Transition(txCtx, inv.ID, domain.InvestmentStatusPending, domain.InvestmentStatusRejected, s.now()); err != nil {
				return err
			}
			return s.emit(txCtx, domain.EventInvestmentRejected, inv.AccountID, inv.ID, inv.Amount)
		})
	})
	if errors.Is(err, domain.ErrStaleState) {
		return nil, domain.NewPolicyViolation("investment was decided concurrently", err)
	}
	if err != nil {
		return nil, fmt.Errorf("reject investment %s: %w", inv.ID, err)
	}

	s.logger.InfoContext(ctx, "investment rejected", "investment_id", inv.ID, "account_id", inv.AccountID)
	s.outcome("rejection", "completed")
	return result, nil
}

func (s *ApprovalService) approve(ctx context.Context, inv *domain.Investment) (*DecisionResult, error) {
	if _, err := inv.Status.Next(ctx, domain.InvestmentEventApprove); err != nil {
		return nil, domain.NewPolicyViolation("investment is already "+string(inv.Status), err)
	}

	var profile *domain.Profile
	if err := s.step(ctx, "profile.get", func(ctx context.Context) (err error) {
		profile, err = s.store.Profiles.Get(ctx, inv.AccountID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("load profile %s: %w", inv.AccountID, err)
	}

	saga := &domain.Saga{
		GID:        s.opts.NewID("APV"),
		Kind:       domain.SagaKindApproval,
		Ref:        inv.ID,
		AccountID:  inv.AccountID,
		Amount:     inv.Amount,
		PrevStatus: profile.Status,
	}
	ctx, err := s.startSaga(ctx, saga)
	if err != nil {
		return nil, err
	}

	steps := s.approvalSteps(saga)
	if err := s.forward(ctx, saga, steps); err != nil {
		if cerr := s.abort(ctx, saga, steps, err); cerr != nil {
			return nil, fmt.Errorf("approve investment %s: %w (compensation pending: %v)", inv.ID, err, cerr)
		}
		return nil, fmt.Errorf("approve investment %s: %w", inv.ID, err)
	}

	s.finishApproval(ctx, saga, profile.ReferredBy, inv.Plan)
	return &DecisionResult{InvestmentID: inv.ID, AccountID: inv.AccountID, Status: domain.InvestmentStatusApproved, SagaID: saga.GID}, nil
}

// approvalSteps 批准投资 -> 入账并激活账户
func (s *ApprovalService) approvalSteps(saga *domain.Saga) []sagaStep {
	return []sagaStep{
		{
			branch: domain.BranchInvestment,
			action: func(ctx context.Context) error {
				err := s.store.Investments.Transition(ctx, saga.Ref, domain.InvestmentStatusPending, domain.InvestmentStatusApproved, s.now())
				if errors.Is(err, domain.ErrStaleState) {
					return domain.NewPolicyViolation("investment was decided concurrently", err)
				}
				return err
			},
			compensate: func(ctx context.Context) error {
				err := s.store.Investments.Transition(ctx, saga.Ref, domain.InvestmentStatusApproved, domain.InvestmentStatusPending, s.now())
				if errors.Is(err, domain.ErrStaleState) {
					s.logger.WarnContext(ctx, "investment already left approved state during compensation", "investment_id", saga.Ref)
					return nil
				}
				return err
			},
		},
		{
			branch: domain.BranchCredit,
			action: func(ctx context.Context) error {
				if err := s.store.Profiles.ApplyDelta(ctx, saga.AccountID, domain.BalanceDelta{
					Balance:         saga.Amount,
					TotalInvestment: saga.Amount,
					Status:          domain.ProfileStatusActive,
				}); err != nil {
					return err
				}
				return s.emit(ctx, domain.EventInvestmentApproved, saga.AccountID, saga.Ref, saga.Amount)
			},
			compensate: func(ctx context.Context) error {
				return s.store.Profiles.ApplyDelta(ctx, saga.AccountID, domain.BalanceDelta{
					Balance:         saga.Amount.Neg(),
					TotalInvestment: saga.Amount.Neg(),
					Status:          saga.PrevStatus,
				})
			},
		},
	}
}

// finishApproval 通知订阅者（推荐奖励等），随后标记完成。订阅者失败不影响审批结果。
func (s *ApprovalService) finishApproval(ctx context.Context, saga *domain.Saga, referredBy string, plan domain.PlanID) {
	s.logger.InfoContext(ctx, "investment approved", "investment_id", saga.Ref, "account_id", saga.AccountID,
		"amount", saga.Amount.String(), "gid", saga.GID)

	if s.dispatcher != nil {
		s.dispatcher.InvestmentApproved(ctx, domain.InvestmentApprovedEvent{
			InvestmentID: saga.Ref,
			AccountID:    saga.AccountID,
			ReferredBy:   referredBy,
			Amount:       saga.Amount,
			Plan:         plan,
			ApprovedAt:   s.now(),
		})
	}
	s.complete(ctx, saga)
}

package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// WithdrawalService 提现申请与处理
type WithdrawalService struct {
	*Runtime
}

// NewWithdrawalService 创建提现服务
func NewWithdrawalService(rt *Runtime) *WithdrawalService {
	return &WithdrawalService{Runtime: rt}
}

// Request 预留资金并登记提现；登记失败时退回预留金额
func (s *WithdrawalService) Request(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}

	var method *domain.WithdrawalMethod
	err := s.step(ctx, "method.get", func(ctx context.Context) (err error) {
		method, err = s.store.Methods.GetByAccount(ctx, accountID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.ValidationError{Field: "method", Reason: "a withdrawal method must be saved first", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("load withdrawal method: %w", err)
	}

	var profile *domain.Profile
	if err := s.step(ctx, "profile.get", func(ctx context.Context) (err error) {
		profile, err = s.store.Profiles.Get(ctx, accountID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("load profile %s: %w", accountID, err)
	}
	if err := domain.ValidateWithdrawalAmount(amount, profile.Balance); err != nil {
		return nil, err
	}

	w := &domain.Withdrawal{
		ID:          s.opts.NewID("WDR"),
		AccountID:   accountID,
		Amount:      amount,
		Status:      domain.WithdrawalStatusProcessing,
		MethodID:    method.ID,
		RequestedAt: s.now(),
	}
	saga := &domain.Saga{
		GID:       s.opts.NewID("WSG"),
		Kind:      domain.SagaKindWithdrawal,
		Ref:       w.ID,
		AccountID: accountID,
		Amount:    amount,
	}
	ctx, err = s.startSaga(ctx, saga)
	if err != nil {
		return nil, err
	}

	steps := s.withdrawalSteps(saga, w)
	if err := s.forward(ctx, saga, steps); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			// 并发扣减导致条件更新未命中，没有写入发生
			err = &domain.ValidationError{Field: "amount", Reason: "exceeds available balance", Err: err}
		}
		if cerr := s.abort(ctx, saga, steps, err); cerr != nil {
			return nil, fmt.Errorf("request withdrawal: %w (compensation pending: %v)", err, cerr)
		}
		return nil, fmt.Errorf("request withdrawal: %w", err)
	}

	s.complete(ctx, saga)
	s.logger.InfoContext(ctx, "withdrawal requested", "withdrawal_id", w.ID, "account_id", accountID, "amount", amount.String())
	return w, nil
}

// withdrawalSteps 预留资金 -> 登记提现
func (s *WithdrawalService) withdrawalSteps(saga *domain.Saga, w *domain.Withdrawal) []sagaStep {
	record := sagaStep{
		branch: domain.BranchRecord,
		// 管理员已处理的提现不能撤销，返回 ErrStaleState 使工作流转为 failed
		compensate: func(ctx context.Context) error {
			err := s.store.Withdrawals.DeleteProcessing(ctx, saga.Ref)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		},
	}
	if w != nil {
		record.action = func(ctx context.Context) error {
			if err := s.store.Withdrawals.Create(ctx, w); err != nil {
				return err
			}
			return s.emit(ctx, domain.EventWithdrawalRequested, w.AccountID, w.ID, w.Amount)
		}
	}

	return []sagaStep{
		{
			branch: domain.BranchReserve,
			action: func(ctx context.Context) error {
				return s.store.Profiles.ApplyDelta(ctx, saga.AccountID, domain.Debit(saga.Amount))
			},
			compensate: func(ctx context.Context) error {
				return s.store.Profiles.ApplyDelta(ctx, saga.AccountID, domain.Credit(saga.Amount))
			},
		},
		record,
	}
}

// Resolve 管理员处理提现：批准则扣减永久生效，拒绝则在同一事务中退回预留金额
func (s *WithdrawalService) Resolve(ctx context.Context, withdrawalID string, decision domain.Decision) (*domain.Withdrawal, error) {
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return nil, domain.NewValidationError("decision", "must be approve or reject")
	}

	var w *domain.Withdrawal
	if err := s.step(ctx, "withdrawal.get", func(ctx context.Context) (err error) {
		w, err = s.store.Withdrawals.Get(ctx, withdrawalID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("load withdrawal %s: %w", withdrawalID, err)
	}

	event := domain.WithdrawalEventApprove
	if decision == domain.DecisionReject {
		event = domain.WithdrawalEventReject
	}
	to, err := w.Status.Next(ctx, event)
	if err != nil {
		return nil, domain.NewPolicyViolation("withdrawal is already "+string(w.Status), err)
	}

	now := s.now()
	err = s.step(ctx, "withdrawal.resolve", func(ctx context.Context) error {
		return s.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			if err := s.store.Withdrawals.Transition(txCtx, w.ID, domain.WithdrawalStatusProcessing, to, now); err != nil {
				return err
			}
			if to == domain.WithdrawalStatusRejected {
				if err := s.store.Profiles.ApplyDelta(txCtx, w.AccountID, domain.Credit(w.Amount)); err != nil {
					return err
				}
				return s.emit(txCtx, domain.EventWithdrawalRejected, w.AccountID, w.ID, w.Amount)
			}
			return s.emit(txCtx, domain.EventWithdrawalApproved, w.AccountID, w.ID, w.Amount)
		})
	})
	if errors.Is(err, domain.ErrStaleState) {
		return nil, domain.NewPolicyViolation("withdrawal was resolved concurrently", err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve withdrawal %s: %w", w.ID, err)
	}

	w.Status = to
	w.ResolvedAt = &now
	s.logger.InfoContext(ctx, "withdrawal resolved", "withdrawal_id", w.ID, "account_id", w.AccountID, "status", to)
	return w, nil
}

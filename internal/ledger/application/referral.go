package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

var errReferralExists = errors.New("referral already granted")

// ReferralEngine 推荐奖励：被推荐账户首次投资获批时向推荐人发放固定奖励，每个被推荐账户只发一次
type ReferralEngine struct {
	*Runtime
}

// NewReferralEngine 创建推荐奖励引擎
func NewReferralEngine(rt *Runtime) *ReferralEngine {
	return &ReferralEngine{Runtime: rt}
}

// OnInvestmentApproved 订阅审批通过事件
func (e *ReferralEngine) OnInvestmentApproved(ctx context.Context, evt domain.InvestmentApprovedEvent) error {
	if evt.ReferredBy == "" {
		return nil
	}
	_, err := e.Grant(ctx, evt.ReferredBy, evt.AccountID)
	return err
}

// Grant 发放奖励，返回本次是否真正入账。入账、推荐记录、收益流水与事件在同一屏障事务中提交。
func (e *ReferralEngine) Grant(ctx context.Context, referrerID, referredID string) (bool, error) {
	if referrerID == "" || referredID == "" {
		return false, domain.NewValidationError("referral", "referrer and referred are required")
	}
	if referrerID == referredID {
		return false, domain.NewValidationError("referral", "an account cannot refer itself")
	}
	bonus := e.opts.ReferralBonus
	if !bonus.IsPositive() {
		return false, nil
	}

	gid := "REF-" + referredID
	var executed bool
	err := e.step(ctx, "referral.grant", func(ctx context.Context) error {
		var err error
		executed, err = e.store.Barrier.Run(ctx, gid, domain.BranchReferral, domain.BranchOpAction, func(txCtx context.Context) error {
			if err := e.store.Profiles.ApplyDelta(txCtx, referrerID, domain.BalanceDelta{
				Balance:          bonus,
				ReferralEarnings: bonus,
			}); err != nil {
				return fmt.Errorf("credit referrer: %w", err)
			}
			now := e.now()
			if err := e.store.Referrals.Create(txCtx, &domain.Referral{
				ReferrerID:  referrerID,
				ReferredID:  referredID,
				BonusAmount: bonus,
				CreatedAt:   now,
			}); err != nil {
				if errors.Is(err, domain.ErrDuplicate) {
					return errReferralExists
				}
				return fmt.Errorf("record referral: %w", err)
			}
			if err := e.store.Earnings.Append(txCtx, []*domain.EarningsEntry{{
				ID:        e.opts.NewID("ERN"),
				AccountID: referrerID,
				Amount:    bonus,
				Type:      domain.EarningTypeReferral,
				CreatedAt: now,
			}}); err != nil {
				return err
			}
			return e.emit(txCtx, domain.EventReferralGranted, referrerID, referredID, bonus)
		})
		return err
	})

	switch {
	case errors.Is(err, errReferralExists):
		e.logger.InfoContext(ctx, "referral bonus already granted", "referrer_id", referrerID, "referred_id", referredID)
		return false, nil
	case err != nil:
		e.outcome("referral", "failed")
		e.alert(ctx, domain.AlertReferralFailed, "referral bonus failed, manual reconciliation required", err,
			"referrer_id", referrerID, "referred_id", referredID, "bonus", bonus.String())
		return false, err
	case !executed:
		e.logger.InfoContext(ctx, "referral bonus skipped by barrier", "referrer_id", referrerID, "referred_id", referredID)
		return false, nil
	}

	e.outcome("referral", "completed")
	e.logger.InfoContext(ctx, "referral bonus granted", "referrer_id", referrerID, "referred_id", referredID, "bonus", bonus.String())
	return true, nil
}

package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// crashedSaga 写入一条停留在 state 的过期工作流
func (h *harness) crashedSaga(saga domain.Saga, state domain.SagaState) {
	h.t.Helper()
	saga.State = state
	saga.CreatedAt = h.clock.Now().Add(-time.Hour)
	saga.UpdatedAt = saga.CreatedAt
	require.NoError(h.t, h.store.Store().Sagas.Create(h.ctx, &saga))
}

func TestRecoveryResumesStartedApproval(t *testing.T) {
	h := newHarness(t)
	referrer := h.register("referrer", domain.PlanFree, "")
	p := h.register("alice", domain.PlanStarter, referrer.ID)
	inv := h.submit(p.ID, domain.PlanStarter)

	saga := domain.Saga{
		GID:        "APV-crashed",
		Kind:       domain.SagaKindApproval,
		Ref:        inv.ID,
		AccountID:  p.ID,
		Amount:     inv.Amount,
		PrevStatus: domain.ProfileStatusPendingApproval,
	}
	h.crashedSaga(saga, domain.SagaStateStarted)

	// 崩溃前只完成了第一个分支
	store := h.store.Store()
	executed, err := store.Barrier.Run(h.ctx, saga.GID, domain.BranchInvestment, domain.BranchOpAction, func(ctx context.Context) error {
		return store.Investments.Transition(ctx, inv.ID, domain.InvestmentStatusPending, domain.InvestmentStatusApproved, h.clock.Now())
	})
	require.NoError(t, err)
	require.True(t, executed)

	res, err := h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resumed)

	assert.Equal(t, domain.SagaStateCompleted, h.store.saga(saga.GID).State)
	assert.Equal(t, domain.InvestmentStatusApproved, h.store.investment(inv.ID).Status)
	got := h.profile(p.ID)
	requireAmount(t, 6000, got.Balance)
	assert.Equal(t, domain.ProfileStatusActive, got.Status)
	requireAmount(t, 200, h.profile(referrer.ID).Balance)
}

func TestRecoveryRollsBackStartedWithdrawal(t *testing.T) {
	h := newHarness(t)
	p := h.funded("alice", 1000)

	saga := domain.Saga{
		GID:       "WSG-crashed",
		Kind:      domain.SagaKindWithdrawal,
		Ref:       "WDR-crashed",
		AccountID: p.ID,
		Amount:    decimal.NewFromInt(400),
	}
	h.crashedSaga(saga, domain.SagaStateStarted)

	store := h.store.Store()
	_, err := store.Barrier.Run(h.ctx, saga.GID, domain.BranchReserve, domain.BranchOpAction, func(ctx context.Context) error {
		return store.Profiles.ApplyDelta(ctx, p.ID, domain.Debit(saga.Amount))
	})
	require.NoError(t, err)
	requireAmount(t, 600, h.profile(p.ID).Balance)

	res, err := h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Compensated)
	assert.Equal(t, domain.SagaStateCompensated, h.store.saga(saga.GID).State)
	requireAmount(t, 1000, h.profile(p.ID).Balance)

	// 补偿之后迟到的正向分支被屏障抑制
	executed, err := store.Barrier.Run(h.ctx, saga.GID, domain.BranchRecord, domain.BranchOpAction, func(ctx context.Context) error {
		return store.Withdrawals.Create(ctx, &domain.Withdrawal{ID: saga.Ref, AccountID: p.ID, Amount: saga.Amount})
	})
	require.NoError(t, err)
	assert.False(t, executed)
	withdrawals, _, _, _ := h.store.counts()
	assert.Zero(t, withdrawals)
}

func TestRecoveryCompletesRecordedWithdrawal(t *testing.T) {
	h := newHarness(t)
	p := h.funded("alice", 1000)

	// 两个分支都已提交，只有完成状态没有落库
	h.store.failOn("sagas.transition.completed", errBoom)
	w, err := h.withdrawals.Request(h.ctx, p.ID, decimal.NewFromInt(400))
	require.NoError(t, err)
	h.store.clearFailures()
	sagas := h.store.sagasByRef(w.ID)
	require.Len(t, sagas, 1)
	require.Equal(t, domain.SagaStateStarted, sagas[0].State)

	_, err = h.withdrawals.Resolve(h.ctx, w.ID, domain.DecisionApprove)
	require.NoError(t, err)

	h.clock.Advance(3 * time.Minute)
	res, err := h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resumed)
	assert.Zero(t, res.Compensated)

	requireAmount(t, 600, h.profile(p.ID).Balance)
	got, err := h.store.Store().Withdrawals.Get(h.ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusApproved, got.Status)
	assert.Equal(t, domain.SagaStateCompleted, h.store.saga(sagas[0].GID).State)
	assert.Zero(t, h.events.count(domain.EventSagaCompensated))

	res, err = h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func TestRecoveryKeepsResolvedWithdrawalWhenCompensating(t *testing.T) {
	h := newHarness(t)
	p := h.funded("alice", 1000)
	w, err := h.withdrawals.Request(h.ctx, p.ID, decimal.NewFromInt(400))
	require.NoError(t, err)
	_, err = h.withdrawals.Resolve(h.ctx, w.ID, domain.DecisionApprove)
	require.NoError(t, err)

	sagas := h.store.sagasByRef(w.ID)
	require.Len(t, sagas, 1)
	require.NoError(t, h.store.Store().Sagas.Transition(h.ctx, sagas[0].GID, domain.SagaStateCompleted, domain.SagaStateCompensating, "manual"))
	h.clock.Advance(10 * time.Minute)

	res, err := h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, domain.SagaStateFailed, h.store.saga(sagas[0].GID).State)
	assert.Equal(t, 1, h.alerts.count(domain.AlertCompensationFailed))

	// 已批准的提现既不删除也不退款
	requireAmount(t, 600, h.profile(p.ID).Balance)
	got, err := h.store.Store().Withdrawals.Get(h.ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusApproved, got.Status)
}

func TestRecoveryMarksUnrecoverableCompensationFailed(t *testing.T) {
	h := newHarness(t)
	p := h.register("alice", domain.PlanStarter, "")
	res := h.approve(h.submit(p.ID, domain.PlanStarter).ID)
	h.saveMethod(p.ID)
	_, err := h.withdrawals.Request(h.ctx, p.ID, decimal.NewFromInt(6000))
	require.NoError(t, err)

	// 已完成的审批被人工置为补偿中，但资金已被提走
	require.NoError(t, h.store.Store().Sagas.Transition(h.ctx, res.SagaID, domain.SagaStateCompleted, domain.SagaStateCompensating, "manual"))
	h.clock.Advance(10 * time.Minute)

	out, err := h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, domain.SagaStateFailed, h.store.saga(res.SagaID).State)
	assert.Equal(t, 1, h.alerts.count(domain.AlertCompensationFailed))
	requireAmount(t, 0, h.profile(p.ID).Balance)

	// failed 不再被自动扫描
	out, err = h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, out.Scanned)
}

func TestRecoveryIgnoresFreshSagas(t *testing.T) {
	h := newHarness(t)
	p := h.funded("alice", 1000)
	saga := &domain.Saga{
		GID:       "WSG-fresh",
		Kind:      domain.SagaKindWithdrawal,
		Ref:       "WDR-fresh",
		AccountID: p.ID,
		Amount:    decimal.NewFromInt(1),
		State:     domain.SagaStateStarted,
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, h.store.Store().Sagas.Create(h.ctx, saga))

	res, err := h.recovery.Run(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Equal(t, domain.SagaStateStarted, h.store.saga(saga.GID).State)
}

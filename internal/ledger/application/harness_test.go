package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/metrics"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *testClock
	store *memStore

	alerts *fakeAlerter
	events memOutbox
	lock   *fakeLock

	rt          *Runtime
	dispatcher  *EventDispatcher
	profiles    *ProfileService
	approvals   *ApprovalService
	referrals   *ReferralEngine
	withdrawals *WithdrawalService
	accrual     *AccrualJob
	recovery    *RecoveryService
	query       *QueryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)

	var seq atomic.Int64
	opts := Options{
		StepTimeout:        time.Second,
		ReferralBonus:      decimal.NewFromInt(200),
		AccrualBatchSize:   2,
		AccrualLockTTL:     time.Minute,
		RecoveryStaleAfter: 2 * time.Minute,
		RecoveryBatchSize:  10,
		Now:                clock.Now,
		NewID: func(prefix string) string {
			return fmt.Sprintf("%s-%03d", prefix, seq.Add(1))
		},
	}

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		store:  store,
		alerts: &fakeAlerter{},
		events: memOutbox{store},
		lock:   &fakeLock{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.rt = NewRuntime(store.Store(), opts, logger, h.alerts, h.events, metrics.New("test"))
	h.referrals = NewReferralEngine(h.rt)
	h.dispatcher = NewEventDispatcher(h.rt)
	h.dispatcher.Subscribe("referral", h.referrals)
	h.profiles = NewProfileService(h.rt)
	h.approvals = NewApprovalService(h.rt, h.dispatcher)
	h.withdrawals = NewWithdrawalService(h.rt)
	h.accrual = NewAccrualJob(h.rt, h.lock)
	h.recovery = NewRecoveryService(h.rt, h.approvals, h.withdrawals)
	h.query = NewQueryService(h.rt)
	return h
}

func (h *harness) register(username string, plan domain.PlanID, referredBy string) *domain.Profile {
	h.t.Helper()
	p, err := h.profiles.Register(h.ctx, RegisterCommand{Username: username, Plan: plan, ReferredBy: referredBy})
	require.NoError(h.t, err)
	return p
}

func (h *harness) submit(accountID string, plan domain.PlanID) *domain.Investment {
	h.t.Helper()
	inv, err := h.profiles.SubmitInvestment(h.ctx, SubmitInvestmentCommand{AccountID: accountID, Plan: plan, ProofRef: "proof/" + accountID})
	require.NoError(h.t, err)
	return inv
}

func (h *harness) approve(investmentID string) *DecisionResult {
	h.t.Helper()
	res, err := h.approvals.Decide(h.ctx, investmentID, domain.DecisionApprove)
	require.NoError(h.t, err)
	return res
}

// funded 注册免费套餐账户并直接设置余额
func (h *harness) funded(username string, balance int64) *domain.Profile {
	h.t.Helper()
	p := h.register(username, domain.PlanFree, "")
	stored, ok := h.store.profile(p.ID)
	require.True(h.t, ok)
	stored.Balance = decimal.NewFromInt(balance)
	h.store.seedProfile(stored)
	h.saveMethod(p.ID)
	return &stored
}

func (h *harness) saveMethod(accountID string) {
	h.t.Helper()
	_, err := h.profiles.UpsertWithdrawalMethod(h.ctx, &domain.WithdrawalMethod{
		AccountID:     accountID,
		Method:        "bank",
		HolderName:    "holder " + accountID,
		AccountNumber: "PK00" + accountID,
	})
	require.NoError(h.t, err)
}

func (h *harness) profile(id string) domain.Profile {
	h.t.Helper()
	p, ok := h.store.profile(id)
	require.True(h.t, ok, "profile %s missing", id)
	return p
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got)
}

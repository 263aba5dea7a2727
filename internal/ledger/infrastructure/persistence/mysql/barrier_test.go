package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

func TestBarrierRunsActionOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	p := seedProfile(t, store, "ACC-1", 0)

	credit := func(txCtx context.Context) error {
		return store.Profiles.ApplyDelta(txCtx, p.ID, domain.Credit(decimal.NewFromInt(100)))
	}
	executed, err := store.Barrier.Run(ctx, "APV-1", domain.BranchCredit, domain.BranchOpAction, credit)
	require.NoError(t, err)
	assert.True(t, executed)

	executed, err = store.Barrier.Run(ctx, "APV-1", domain.BranchCredit, domain.BranchOpAction, credit)
	require.NoError(t, err)
	assert.False(t, executed)
	assertAmount(t, 100, balanceOf(t, store, p.ID))

	// 其他工作流的同名分支互不影响
	executed, err = store.Barrier.Run(ctx, "APV-2", domain.BranchCredit, domain.BranchOpAction, credit)
	require.NoError(t, err)
	assert.True(t, executed)
	assertAmount(t, 200, balanceOf(t, store, p.ID))
}

func TestBarrierCompensatesExecutedAction(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	p := seedProfile(t, store, "ACC-1", 1000)

	debit := func(txCtx context.Context) error {
		return store.Profiles.ApplyDelta(txCtx, p.ID, domain.Debit(decimal.NewFromInt(400)))
	}
	refund := func(txCtx context.Context) error {
		return store.Profiles.ApplyDelta(txCtx, p.ID, domain.Credit(decimal.NewFromInt(400)))
	}

	_, err := store.Barrier.Run(ctx, "WDR-1", domain.BranchReserve, domain.BranchOpAction, debit)
	require.NoError(t, err)
	assertAmount(t, 600, balanceOf(t, store, p.ID))

	executed, err := store.Barrier.Run(ctx, "WDR-1", domain.BranchReserve, domain.BranchOpCompensate, refund)
	require.NoError(t, err)
	assert.True(t, executed)

	executed, err = store.Barrier.Run(ctx, "WDR-1", domain.BranchReserve, domain.BranchOpCompensate, refund)
	require.NoError(t, err)
	assert.False(t, executed)
	assertAmount(t, 1000, balanceOf(t, store, p.ID))
}

func TestBarrierNullCompensationSuppressesLateAction(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}

	executed, err := store.Barrier.Run(ctx, "WDR-1", domain.BranchRecord, domain.BranchOpCompensate, fn)
	require.NoError(t, err)
	assert.False(t, executed, "compensation without a prior action is a no-op")

	executed, err = store.Barrier.Run(ctx, "WDR-1", domain.BranchRecord, domain.BranchOpAction, fn)
	require.NoError(t, err)
	assert.False(t, executed, "action arriving after its compensation is suppressed")
	assert.Zero(t, calls)
}

func TestBarrierRollsBackWithBranch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	p := seedProfile(t, store, "ACC-1", 0)
	boom := errors.New("boom")

	failing := func(txCtx context.Context) error {
		if err := store.Profiles.ApplyDelta(txCtx, p.ID, domain.Credit(decimal.NewFromInt(100))); err != nil {
			return err
		}
		return boom
	}
	executed, err := store.Barrier.Run(ctx, "APV-1", domain.BranchCredit, domain.BranchOpAction, failing)
	require.ErrorIs(t, err, boom)
	assert.False(t, executed)
	assertAmount(t, 0, balanceOf(t, store, p.ID))

	// 屏障记录随分支一起回滚，重试仍会执行
	executed, err = store.Barrier.Run(ctx, "APV-1", domain.BranchCredit, domain.BranchOpAction, func(txCtx context.Context) error {
		return store.Profiles.ApplyDelta(txCtx, p.ID, domain.Credit(decimal.NewFromInt(100)))
	})
	require.NoError(t, err)
	assert.True(t, executed)
	assertAmount(t, 100, balanceOf(t, store, p.ID))
}

func TestBarrierJoinsOuterTransaction(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Tx.Transaction(ctx, func(txCtx context.Context) error {
		executed, err := store.Barrier.Run(txCtx, "REF-ACC-2", domain.BranchReferral, domain.BranchOpAction, func(context.Context) error {
			return nil
		})
		require.NoError(t, err)
		require.True(t, executed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	executed, err := store.Barrier.Run(ctx, "REF-ACC-2", domain.BranchReferral, domain.BranchOpAction, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, executed)
}

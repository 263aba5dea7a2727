package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type hookRow struct {
	ID   uint
	Name string
}

func newSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dialector, err := Dialector("sqlite", filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard, TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, gdb.AutoMigrate(&hookRow{}))
	return gdb
}

func TestAfterCommitRunsOnlyAfterCommit(t *testing.T) {
	gdb := newSQLite(t)
	ctx := context.Background()

	var ran []string
	err := Transaction(ctx, gdb, func(txCtx context.Context) error {
		if err := Conn(txCtx, gdb).Create(&hookRow{Name: "a"}).Error; err != nil {
			return err
		}
		AfterCommit(txCtx, func(context.Context) { ran = append(ran, "outer") })

		// 嵌套调用复用同一事务与同一回调队列
		return Transaction(txCtx, gdb, func(inner context.Context) error {
			AfterCommit(inner, func(context.Context) { ran = append(ran, "inner") })
			assert.Empty(t, ran)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, ran)
}

func TestAfterCommitDiscardedOnRollback(t *testing.T) {
	gdb := newSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	ran := false
	err := Transaction(ctx, gdb, func(txCtx context.Context) error {
		if err := Conn(txCtx, gdb).Create(&hookRow{Name: "b"}).Error; err != nil {
			return err
		}
		AfterCommit(txCtx, func(context.Context) { ran = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, ran)

	var n int64
	require.NoError(t, gdb.Model(&hookRow{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAfterCommitOutsideTransactionRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}

func TestCommitHooksSurviveCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hookCtx, flush := WithCommitHooks(ctx)

	var hookErr error
	AfterCommit(hookCtx, func(ctx context.Context) { hookErr = ctx.Err() })
	cancel()
	flush(true)
	assert.NoError(t, hookErr)
}

package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	barrierTransType = "saga"
	barrierID        = "01"
)

// NewBarrier 按驱动选择屏障实现：MySQL 直接使用 dtm 的子事务屏障，其余驱动使用同构的 GORM 实现
func NewBarrier(gdb *gorm.DB, driver, table string) domain.Barrier {
	if table == "" {
		table = "ledger_barriers"
	}
	if driver == "mysql" {
		dtmcli.SetBarrierTableName(table)
		return &dtmBarrier{db: gdb}
	}
	return &gormBarrier{db: gdb, table: table}
}

// dtmBarrier 屏障记录与业务写入共用一个 *sql.Tx，由 BranchBarrier.Call 提交或回滚
type dtmBarrier struct {
	db *gorm.DB
}

func (b *dtmBarrier) Run(ctx context.Context, gid, branch string, op domain.BranchOp, fn func(txCtx context.Context) error) (bool, error) {
	bb, err := dtmcli.BarrierFrom(barrierTransType, gid, branch, dtmOp(op))
	if err != nil {
		return false, fmt.Errorf("build barrier %s/%s: %w", gid, branch, err)
	}

	tx := b.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return false, tx.Error
	}
	sqlTx, ok := tx.Statement.ConnPool.(*sql.Tx)
	if !ok {
		tx.Rollback()
		return false, fmt.Errorf("barrier %s/%s: connection pool is not a *sql.Tx", gid, branch)
	}

	executed := false
	hookCtx, flush := db.WithCommitHooks(ctx)
	err = bb.Call(sqlTx, func(*sql.Tx) error {
		executed = true
		return fn(contextx.WithTx(hookCtx, tx))
	})
	flush(err == nil)
	if err != nil {
		return false, err
	}
	return executed, nil
}

func dtmOp(op domain.BranchOp) string {
	if op == domain.BranchOpCompensate {
		return dtmcli.BranchCompensate
	}
	return dtmcli.BranchAction
}

// gormBarrier 与 dtm 相同的判定：先插入原操作行再插入当前行。
// 补偿时原操作行插入成功说明正向分支从未执行，属于空补偿；当前行已存在说明是重复调用或悬挂请求。
type gormBarrier struct {
	db    *gorm.DB
	table string
}

func (b *gormBarrier) Run(ctx context.Context, gid, branch string, op domain.BranchOp, fn func(txCtx context.Context) error) (bool, error) {
	executed := false
	err := db.Transaction(ctx, b.db, func(txCtx context.Context) error {
		conn := db.Conn(txCtx, b.db)

		var originAffected int64
		if op == domain.BranchOpCompensate {
			n, err := b.insert(conn, gid, branch, domain.BranchOpAction, op)
			if err != nil {
				return err
			}
			originAffected = n
		}
		currentAffected, err := b.insert(conn, gid, branch, op, op)
		if err != nil {
			return err
		}

		if (op == domain.BranchOpCompensate && originAffected > 0) || currentAffected == 0 {
			return nil
		}
		executed = true
		return fn(txCtx)
	})
	if err != nil {
		return false, err
	}
	return executed, nil
}

func (b *gormBarrier) insert(conn *gorm.DB, gid, branch string, op, reason domain.BranchOp) (int64, error) {
	res := conn.Table(b.table).Clauses(clause.OnConflict{DoNothing: true}).Create(&BarrierModel{
		TransType: barrierTransType,
		GID:       gid,
		BranchID:  branch,
		Op:        string(op),
		BarrierID: barrierID,
		Reason:    string(reason),
	})
	return res.RowsAffected, res.Error
}

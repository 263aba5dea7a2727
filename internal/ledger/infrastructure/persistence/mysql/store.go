package mysql

import (
	"context"
	"fmt"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"gorm.io/gorm"
)

type transactor struct {
	db *gorm.DB
}

// NewTransactor 创建事务执行器，事务句柄经 contextx 在 ctx 中传递
func NewTransactor(gdb *gorm.DB) domain.Transactor {
	return &transactor{db: gdb}
}

func (t *transactor) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return db.Transaction(ctx, t.db, fn)
}

// AutoMigrate 建表；屏障表名可配置
func AutoMigrate(gdb *gorm.DB, barrierTable string) error {
	if err := gdb.AutoMigrate(
		&ProfileModel{},
		&InvestmentModel{},
		&WithdrawalModel{},
		&WithdrawalMethodModel{},
		&ReferralModel{},
		&EarningsModel{},
		&AccrualModel{},
		&SagaModel{},
	); err != nil {
		return fmt.Errorf("migrate ledger tables: %w", err)
	}
	if err := gdb.Table(barrierTable).AutoMigrate(&BarrierModel{}); err != nil {
		return fmt.Errorf("migrate barrier table %s: %w", barrierTable, err)
	}
	return nil
}

// NewStore 组装全部 GORM 仓储
func NewStore(gdb *gorm.DB, driver, barrierTable string) domain.Store {
	return domain.Store{
		Profiles:    NewProfileRepository(gdb),
		Investments: NewInvestmentRepository(gdb),
		Withdrawals: NewWithdrawalRepository(gdb),
		Methods:     NewWithdrawalMethodRepository(gdb),
		Referrals:   NewReferralRepository(gdb),
		Earnings:    NewEarningsRepository(gdb),
		Accruals:    NewAccrualRepository(gdb),
		Sagas:       NewSagaRepository(gdb),
		Barrier:     NewBarrier(gdb, driver, barrierTable),
		Tx:          NewTransactor(gdb),
	}
}

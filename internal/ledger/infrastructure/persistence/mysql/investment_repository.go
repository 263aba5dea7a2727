package mysql

import (
	"context"
	"time"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"gorm.io/gorm"
)

type investmentRepository struct {
	db *gorm.DB
}

// NewInvestmentRepository 创建投资仓储
func NewInvestmentRepository(gdb *gorm.DB) domain.InvestmentRepository {
	return &investmentRepository{db: gdb}
}

func (r *investmentRepository) Create(ctx context.Context, inv *domain.Investment) error {
	return translate(db.Conn(ctx, r.db).Create(toInvestmentModel(inv)).Error)
}

func (r *investmentRepository) Get(ctx context.Context, id string) (*domain.Investment, error) {
	var m InvestmentModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toDomain(), nil
}

// Transition 回到待审核时清空决定时间
func (r *investmentRepository) Transition(ctx context.Context, id string, from, to domain.InvestmentStatus, at time.Time) error {
	updates := map[string]any{"status": string(to), "decided_at": at.UTC()}
	if to == domain.InvestmentStatusPending {
		updates["decided_at"] = nil
	}
	conn := db.Conn(ctx, r.db)
	res := conn.Model(&InvestmentModel{}).Where("id = ? AND status = ?", id, string(from)).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return missing(conn, &InvestmentModel{}, "id", id, domain.ErrStaleState)
}

func (r *investmentRepository) ListPending(ctx context.Context, limit, offset int) ([]*domain.Investment, int64, error) {
	var (
		models []InvestmentModel
		total  int64
	)
	query := db.Conn(ctx, r.db).Model(&InvestmentModel{}).Where("status = ?", string(domain.InvestmentStatusPending)).Session(&gorm.Session{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("submitted_at ASC, id ASC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return mapModels(models, (*InvestmentModel).toDomain), total, nil
}

func (r *investmentRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Investment, error) {
	var models []InvestmentModel
	if err := db.Conn(ctx, r.db).Where("account_id = ?", accountID).Order("submitted_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, (*InvestmentModel).toDomain), nil
}

func (r *investmentRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	return db.Conn(ctx, r.db).Where("account_id = ?", accountID).Delete(&InvestmentModel{}).Error
}

type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository 创建提现仓储
func NewWithdrawalRepository(gdb *gorm.DB) domain.WithdrawalRepository {
	return &withdrawalRepository{db: gdb}
}

func (r *withdrawalRepository) Create(ctx context.Context, w *domain.Withdrawal) error {
	return translate(db.Conn(ctx, r.db).Create(toWithdrawalModel(w)).Error)
}

func (r *withdrawalRepository) Get(ctx context.Context, id string) (*domain.Withdrawal, error) {
	var m WithdrawalModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toDomain(), nil
}

func (r *withdrawalRepository) Transition(ctx context.Context, id string, from, to domain.WithdrawalStatus, at time.Time) error {
	conn := db.Conn(ctx, r.db)
	res := conn.Model(&WithdrawalModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(to), "resolved_at": at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return missing(conn, &WithdrawalModel{}, "id", id, domain.ErrStaleState)
}

func (r *withdrawalRepository) list(ctx context.Context, where string, arg any, order string, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	var (
		models []WithdrawalModel
		total  int64
	)
	query := db.Conn(ctx, r.db).Model(&WithdrawalModel{}).Where(where, arg).Session(&gorm.Session{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order(order).Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return mapModels(models, (*WithdrawalModel).toDomain), total, nil
}

func (r *withdrawalRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	return r.list(ctx, "account_id = ?", accountID, "requested_at DESC, id DESC", limit, offset)
}

func (r *withdrawalRepository) ListPending(ctx context.Context, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	return r.list(ctx, "status = ?", string(domain.WithdrawalStatusProcessing), "requested_at ASC, id ASC", limit, offset)
}

func (r *withdrawalRepository) DeleteProcessing(ctx context.Context, id string) error {
	conn := db.Conn(ctx, r.db)
	res := conn.Where("id = ? AND status = ?", id, string(domain.WithdrawalStatusProcessing)).Delete(&WithdrawalModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return missing(conn, &WithdrawalModel{}, "id", id, domain.ErrStaleState)
}

func (r *withdrawalRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	return db.Conn(ctx, r.db).Where("account_id = ?", accountID).Delete(&WithdrawalModel{}).Error
}

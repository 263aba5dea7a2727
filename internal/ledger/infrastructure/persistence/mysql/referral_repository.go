package mysql

import (
	"context"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type methodRepository struct {
	db *gorm.DB
}

// NewWithdrawalMethodRepository 创建收款方式仓储
func NewWithdrawalMethodRepository(gdb *gorm.DB) domain.WithdrawalMethodRepository {
	return &methodRepository{db: gdb}
}

// Upsert account_id 冲突时覆盖字段，保留原有 ID
func (r *methodRepository) Upsert(ctx context.Context, m *domain.WithdrawalMethod) error {
	model := &WithdrawalMethodModel{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Method:        m.Method,
		HolderName:    m.HolderName,
		AccountNumber: m.AccountNumber,
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
	return db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"method", "holder_name", "account_number", "updated_at"}),
	}).Create(model).Error
}

func (r *methodRepository) GetByAccount(ctx context.Context, accountID string) (*domain.WithdrawalMethod, error) {
	var m WithdrawalMethodModel
	if err := db.Conn(ctx, r.db).Where("account_id = ?", accountID).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toDomain(), nil
}

func (r *methodRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	return db.Conn(ctx, r.db).Where("account_id = ?", accountID).Delete(&WithdrawalMethodModel{}).Error
}

type referralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建推荐记录仓储
func NewReferralRepository(gdb *gorm.DB) domain.ReferralRepository {
	return &referralRepository{db: gdb}
}

func (r *referralRepository) Create(ctx context.Context, ref *domain.Referral) error {
	return translate(db.Conn(ctx, r.db).Create(&ReferralModel{
		ReferrerID:  ref.ReferrerID,
		ReferredID:  ref.ReferredID,
		BonusAmount: ref.BonusAmount,
		CreatedAt:   ref.CreatedAt.UTC(),
	}).Error)
}

func (r *referralRepository) GetByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	var m ReferralModel
	if err := db.Conn(ctx, r.db).Where("referred_id = ?", referredID).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toDomain(), nil
}

func (r *referralRepository) ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.Referral, int64, error) {
	var (
		models []ReferralModel
		total  int64
	)
	query := db.Conn(ctx, r.db).Model(&ReferralModel{}).Where("referrer_id = ?", referrerID).Session(&gorm.Session{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return mapModels(models, (*ReferralModel).toDomain), total, nil
}

func (r *referralRepository) DeleteByReferred(ctx context.Context, referredID string) error {
	return db.Conn(ctx, r.db).Where("referred_id = ?", referredID).Delete(&ReferralModel{}).Error
}

type earningsRepository struct {
	db *gorm.DB
}

// NewEarningsRepository 创建收益流水仓储
func NewEarningsRepository(gdb *gorm.DB) domain.EarningsRepository {
	return &earningsRepository{db: gdb}
}

// Append 批量追加
func (r *earningsRepository) Append(ctx context.Context, entries []*domain.EarningsEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]EarningsModel, len(entries))
	for i, e := range entries {
		models[i] = EarningsModel{
			ID:        e.ID,
			AccountID: e.AccountID,
			Amount:    e.Amount,
			Type:      string(e.Type),
			CreatedAt: e.CreatedAt.UTC(),
		}
	}
	return translate(db.Conn(ctx, r.db).CreateInBatches(models, 200).Error)
}

func (r *earningsRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.EarningsEntry, int64, error) {
	var (
		models []EarningsModel
		total  int64
	)
	query := db.Conn(ctx, r.db).Model(&EarningsModel{}).Where("account_id = ?", accountID).Session(&gorm.Session{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return mapModels(models, (*EarningsModel).toDomain), total, nil
}

func (r *earningsRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	return db.Conn(ctx, r.db).Where("account_id = ?", accountID).Delete(&EarningsModel{}).Error
}

type accrualRepository struct {
	db *gorm.DB
}

// NewAccrualRepository 创建每日收益标记仓储
func NewAccrualRepository(gdb *gorm.DB) domain.AccrualRepository {
	return &accrualRepository{db: gdb}
}

// Mark 依赖 (account_id, accrual_date) 唯一键，冲突时不插入
func (r *accrualRepository) Mark(ctx context.Context, date domain.AccrualDate, credit domain.AccrualCredit) (bool, error) {
	res := db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "accrual_date"}},
		DoNothing: true,
	}).Create(&AccrualModel{
		AccountID:   credit.AccountID,
		AccrualDate: string(date),
		Amount:      credit.Amount,
		CreatedAt:   utcNow(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *accrualRepository) CountByDate(ctx context.Context, date domain.AccrualDate) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.db).Model(&AccrualModel{}).Where("accrual_date = ?", string(date)).Count(&n).Error
	return n, err
}

package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"gorm.io/gorm"
)

// translate 把 GORM 错误转换为领域哨兵错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrDuplicate
	}
	return err
}

func utcNow() time.Time {
	return time.Now().UTC()
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建账户仓储
func NewProfileRepository(gdb *gorm.DB) domain.ProfileRepository {
	return &profileRepository{db: gdb}
}

func (r *profileRepository) Create(ctx context.Context, p *domain.Profile) error {
	return translate(db.Conn(ctx, r.db).Create(toProfileModel(p)).Error)
}

func (r *profileRepository) Get(ctx context.Context, id string) (*domain.Profile, error) {
	var m ProfileModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toDomain(), nil
}

func (r *profileRepository) List(ctx context.Context, limit, offset int) ([]*domain.Profile, int64, error) {
	var (
		models []ProfileModel
		total  int64
	)
	conn := db.Conn(ctx, r.db)
	if err := conn.Model(&ProfileModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := conn.Order("created_at ASC, id ASC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return mapModels(models, (*ProfileModel).toDomain), total, nil
}

func (r *profileRepository) ListActive(ctx context.Context, afterID string, limit int) ([]*domain.Profile, error) {
	var models []ProfileModel
	err := db.Conn(ctx, r.db).
		Where("status = ? AND id > ?", string(domain.ProfileStatusActive), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return mapModels(models, (*ProfileModel).toDomain), nil
}

// ApplyDelta 以 col = col + ? 的单条条件更新应用增量，余额条件保证并发扣减不会透支
func (r *profileRepository) ApplyDelta(ctx context.Context, id string, delta domain.BalanceDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	updates := map[string]any{"updated_at": utcNow()}
	if !delta.Balance.IsZero() {
		updates["balance"] = gorm.Expr("balance + ?", delta.Balance)
	}
	if !delta.TotalInvestment.IsZero() {
		updates["total_investment"] = gorm.Expr("total_investment + ?", delta.TotalInvestment)
	}
	if !delta.DailyEarnings.IsZero() {
		updates["daily_earnings"] = gorm.Expr("daily_earnings + ?", delta.DailyEarnings)
	}
	if !delta.ReferralEarnings.IsZero() {
		updates["referral_earnings"] = gorm.Expr("referral_earnings + ?", delta.ReferralEarnings)
	}
	if delta.Status != "" {
		updates["status"] = string(delta.Status)
	}

	conn := db.Conn(ctx, r.db)
	query := conn.Model(&ProfileModel{}).Where("id = ?", id)
	if delta.Balance.IsNegative() {
		query = query.Where("balance + ? >= 0", delta.Balance)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return missing(conn, &ProfileModel{}, "id", id, domain.ErrInsufficientBalance)
}

// missing 条件更新未命中时区分记录不存在与条件不满足
func missing(conn *gorm.DB, model any, column, key string, conditionErr error) error {
	var n int64
	if err := conn.Model(model).Where(column+" = ?", key).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return conditionErr
}

func (r *profileRepository) SetStatus(ctx context.Context, id string, from []domain.ProfileStatus, to domain.ProfileStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	conn := db.Conn(ctx, r.db)
	res := conn.Model(&ProfileModel{}).
		Where("id = ? AND status IN ?", id, states).
		Updates(map[string]any{"status": string(to), "updated_at": utcNow()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return missing(conn, &ProfileModel{}, "id", id, domain.ErrStaleState)
}

func (r *profileRepository) ClearReferrer(ctx context.Context, referrerID string) ([]string, error) {
	conn := db.Conn(ctx, r.db)
	var ids []string
	if err := conn.Model(&ProfileModel{}).Where("referred_by = ?", referrerID).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err := conn.Model(&ProfileModel{}).
		Where("id IN ? AND referred_by = ?", ids, referrerID).
		Updates(map[string]any{"referred_by": "", "updated_at": utcNow()}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *profileRepository) Delete(ctx context.Context, id string) error {
	res := db.Conn(ctx, r.db).Where("id = ?", id).Delete(&ProfileModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

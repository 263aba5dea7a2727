// Package mysql 账本的 GORM 仓储实现，兼容 MySQL、PostgreSQL 与 SQLite
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// ProfileModel 账户表
type ProfileModel struct {
	ID               string          `gorm:"column:id;type:varchar(32);primaryKey;comment:账户ID"`
	Username         string          `gorm:"column:username;type:varchar(64);uniqueIndex:uniq_ledger_profile_username;not null;comment:用户名"`
	Status           string          `gorm:"column:status;type:varchar(32);index;not null;comment:状态"`
	PlanID           int             `gorm:"column:plan_id;not null;comment:套餐"`
	Balance          decimal.Decimal `gorm:"column:balance;type:decimal(32,8);default:0;not null;comment:可用余额"`
	TotalInvestment  decimal.Decimal `gorm:"column:total_investment;type:decimal(32,8);default:0;not null;comment:累计投资"`
	DailyEarnings    decimal.Decimal `gorm:"column:daily_earnings;type:decimal(32,8);default:0;not null;comment:累计日收益"`
	ReferralEarnings decimal.Decimal `gorm:"column:referral_earnings;type:decimal(32,8);default:0;not null;comment:累计推荐奖励"`
	ReferredBy       string          `gorm:"column:referred_by;type:varchar(32);index;not null;default:'';comment:推荐人"`
	CreatedAt        time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;not null"`
}

func (ProfileModel) TableName() string { return "ledger_profiles" }

// InvestmentModel 投资凭证表
type InvestmentModel struct {
	ID          string          `gorm:"column:id;type:varchar(32);primaryKey"`
	AccountID   string          `gorm:"column:account_id;type:varchar(32);index;not null"`
	PlanID      int             `gorm:"column:plan_id;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
	Status      string          `gorm:"column:status;type:varchar(20);index;not null"`
	ProofRef    string          `gorm:"column:proof_ref;type:varchar(255);not null"`
	SubmittedAt time.Time       `gorm:"column:submitted_at;index;not null"`
	DecidedAt   *time.Time      `gorm:"column:decided_at"`
}

func (InvestmentModel) TableName() string { return "ledger_investments" }

// WithdrawalModel 提现表
type WithdrawalModel struct {
	ID          string          `gorm:"column:id;type:varchar(32);primaryKey"`
	AccountID   string          `gorm:"column:account_id;type:varchar(32);index;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
	Status      string          `gorm:"column:status;type:varchar(20);index;not null"`
	MethodID    string          `gorm:"column:method_id;type:varchar(32);not null"`
	RequestedAt time.Time       `gorm:"column:requested_at;index;not null"`
	ResolvedAt  *time.Time      `gorm:"column:resolved_at"`
}

func (WithdrawalModel) TableName() string { return "ledger_withdrawals" }

// WithdrawalMethodModel 收款方式表，每个账户一条
type WithdrawalMethodModel struct {
	ID            string    `gorm:"column:id;type:varchar(32);primaryKey"`
	AccountID     string    `gorm:"column:account_id;type:varchar(32);uniqueIndex:uniq_ledger_method_account;not null"`
	Method        string    `gorm:"column:method;type:varchar(32);not null"`
	HolderName    string    `gorm:"column:holder_name;type:varchar(128);not null"`
	AccountNumber string    `gorm:"column:account_number;type:varchar(64);not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

func (WithdrawalMethodModel) TableName() string { return "ledger_withdrawal_methods" }

// ReferralModel 推荐奖励表，referred_id 唯一
type ReferralModel struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	ReferrerID  string          `gorm:"column:referrer_id;type:varchar(32);index;not null"`
	ReferredID  string          `gorm:"column:referred_id;type:varchar(32);uniqueIndex:uniq_ledger_referral_referred;not null"`
	BonusAmount decimal.Decimal `gorm:"column:bonus_amount;type:decimal(32,8);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null"`
}

func (ReferralModel) TableName() string { return "ledger_referrals" }

// EarningsModel 收益流水表
type EarningsModel struct {
	ID        string          `gorm:"column:id;type:varchar(32);primaryKey"`
	AccountID string          `gorm:"column:account_id;type:varchar(32);index:idx_ledger_earnings_account_time,priority:1;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
	Type      string          `gorm:"column:type;type:varchar(20);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;index:idx_ledger_earnings_account_time,priority:2;not null"`
}

func (EarningsModel) TableName() string { return "ledger_earnings" }

// AccrualModel 每日收益入账标记，(account_id, accrual_date) 唯一
type AccrualModel struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	AccountID   string          `gorm:"column:account_id;type:varchar(32);uniqueIndex:uniq_ledger_accrual,priority:1;not null"`
	AccrualDate string          `gorm:"column:accrual_date;type:varchar(10);uniqueIndex:uniq_ledger_accrual,priority:2;index;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null"`
}

func (AccrualModel) TableName() string { return "ledger_accruals" }

// SagaModel 工作流记录表
type SagaModel struct {
	GID        string          `gorm:"column:gid;type:varchar(64);primaryKey"`
	Kind       string          `gorm:"column:kind;type:varchar(20);not null"`
	Ref        string          `gorm:"column:ref;type:varchar(64);index;not null"`
	AccountID  string          `gorm:"column:account_id;type:varchar(32);index;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
	State      string          `gorm:"column:state;type:varchar(20);index:idx_ledger_saga_state_updated,priority:1;not null"`
	PrevStatus string          `gorm:"column:prev_status;type:varchar(32);not null;default:''"`
	LastError  string          `gorm:"column:last_error;type:text"`
	Attempts   int             `gorm:"column:attempts;not null;default:0"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;index:idx_ledger_saga_state_updated,priority:2;not null"`
}

func (SagaModel) TableName() string { return "ledger_sagas" }

// BarrierModel 子事务屏障表，列与 dtm 的 barrier 表一致
type BarrierModel struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TransType  string    `gorm:"column:trans_type;type:varchar(45);default:''"`
	GID        string    `gorm:"column:gid;type:varchar(128);uniqueIndex:uniq_ledger_barrier,priority:1;default:''"`
	BranchID   string    `gorm:"column:branch_id;type:varchar(128);uniqueIndex:uniq_ledger_barrier,priority:2;default:''"`
	Op         string    `gorm:"column:op;type:varchar(45);uniqueIndex:uniq_ledger_barrier,priority:3;default:''"`
	BarrierID  string    `gorm:"column:barrier_id;type:varchar(45);uniqueIndex:uniq_ledger_barrier,priority:4;default:''"`
	Reason     string    `gorm:"column:reason;type:varchar(45);default:''"`
	CreateTime time.Time `gorm:"column:create_time;default:CURRENT_TIMESTAMP"`
	UpdateTime time.Time `gorm:"column:update_time;default:CURRENT_TIMESTAMP"`
}

func toProfileModel(p *domain.Profile) *ProfileModel {
	return &ProfileModel{
		ID:               p.ID,
		Username:         p.Username,
		Status:           string(p.Status),
		PlanID:           int(p.Plan),
		Balance:          p.Balance,
		TotalInvestment:  p.TotalInvestment,
		DailyEarnings:    p.DailyEarnings,
		ReferralEarnings: p.ReferralEarnings,
		ReferredBy:       p.ReferredBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (m *ProfileModel) toDomain() *domain.Profile {
	return &domain.Profile{
		ID:               m.ID,
		Username:         m.Username,
		Status:           domain.ProfileStatus(m.Status),
		Plan:             domain.PlanID(m.PlanID),
		Balance:          m.Balance,
		TotalInvestment:  m.TotalInvestment,
		DailyEarnings:    m.DailyEarnings,
		ReferralEarnings: m.ReferralEarnings,
		ReferredBy:       m.ReferredBy,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toInvestmentModel(inv *domain.Investment) *InvestmentModel {
	return &InvestmentModel{
		ID:          inv.ID,
		AccountID:   inv.AccountID,
		PlanID:      int(inv.Plan),
		Amount:      inv.Amount,
		Status:      string(inv.Status),
		ProofRef:    inv.ProofRef,
		SubmittedAt: inv.SubmittedAt,
		DecidedAt:   inv.DecidedAt,
	}
}

func (m *InvestmentModel) toDomain() *domain.Investment {
	return &domain.Investment{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Plan:        domain.PlanID(m.PlanID),
		Amount:      m.Amount,
		Status:      domain.InvestmentStatus(m.Status),
		ProofRef:    m.ProofRef,
		SubmittedAt: m.SubmittedAt,
		DecidedAt:   m.DecidedAt,
	}
}

func toWithdrawalModel(w *domain.Withdrawal) *WithdrawalModel {
	return &WithdrawalModel{
		ID:          w.ID,
		AccountID:   w.AccountID,
		Amount:      w.Amount,
		Status:      string(w.Status),
		MethodID:    w.MethodID,
		RequestedAt: w.RequestedAt,
		ResolvedAt:  w.ResolvedAt,
	}
}

func (m *WithdrawalModel) toDomain() *domain.Withdrawal {
	return &domain.Withdrawal{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Amount:      m.Amount,
		Status:      domain.WithdrawalStatus(m.Status),
		MethodID:    m.MethodID,
		RequestedAt: m.RequestedAt,
		ResolvedAt:  m.ResolvedAt,
	}
}

func (m *WithdrawalMethodModel) toDomain() *domain.WithdrawalMethod {
	return &domain.WithdrawalMethod{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Method:        m.Method,
		HolderName:    m.HolderName,
		AccountNumber: m.AccountNumber,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (m *ReferralModel) toDomain() *domain.Referral {
	return &domain.Referral{
		ReferrerID:  m.ReferrerID,
		ReferredID:  m.ReferredID,
		BonusAmount: m.BonusAmount,
		CreatedAt:   m.CreatedAt,
	}
}

func (m *EarningsModel) toDomain() *domain.EarningsEntry {
	return &domain.EarningsEntry{
		ID:        m.ID,
		AccountID: m.AccountID,
		Amount:    m.Amount,
		Type:      domain.EarningType(m.Type),
		CreatedAt: m.CreatedAt,
	}
}

func toSagaModel(s *domain.Saga) *SagaModel {
	return &SagaModel{
		GID:        s.GID,
		Kind:       string(s.Kind),
		Ref:        s.Ref,
		AccountID:  s.AccountID,
		Amount:     s.Amount,
		State:      string(s.State),
		PrevStatus: string(s.PrevStatus),
		LastError:  s.LastError,
		Attempts:   s.Attempts,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (m *SagaModel) toDomain() *domain.Saga {
	return &domain.Saga{
		GID:        m.GID,
		Kind:       domain.SagaKind(m.Kind),
		Ref:        m.Ref,
		AccountID:  m.AccountID,
		Amount:     m.Amount,
		State:      domain.SagaState(m.State),
		PrevStatus: domain.ProfileStatus(m.PrevStatus),
		LastError:  m.LastError,
		Attempts:   m.Attempts,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func mapModels[M any, D any](models []M, fn func(*M) D) []D {
	out := make([]D, len(models))
	for i := range models {
		out[i] = fn(&models[i])
	}
	return out
}

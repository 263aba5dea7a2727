package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EarningType 收益流水类型
type EarningType string

const (
	EarningTypeDaily    EarningType = "daily_earning"
	EarningTypeReferral EarningType = "referral_bonus"
)

// EarningsEntry 收益流水，只追加
type EarningsEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      EarningType     `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}

// Referral 推荐奖励记录，每个被推荐账户至多一条
type Referral struct {
	ReferrerID  string          `json:"referrer_id"`
	ReferredID  string          `json:"referred_id"`
	BonusAmount decimal.Decimal `json:"bonus_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AccrualDate 计息日，按配置时区截断到自然日
type AccrualDate string

// NewAccrualDate 将时间转换为 loc 下的日期
func NewAccrualDate(t time.Time, loc *time.Location) AccrualDate {
	if loc == nil {
		loc = time.UTC
	}
	return AccrualDate(t.In(loc).Format(time.DateOnly))
}

// ParseAccrualDate 解析 YYYY-MM-DD
func ParseAccrualDate(s string) (AccrualDate, error) {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return "", NewValidationError("date", "must be YYYY-MM-DD")
	}
	return AccrualDate(s), nil
}

// AccrualCredit 单个账户某日的收益入账
type AccrualCredit struct {
	AccountID string
	Amount    decimal.Decimal
}

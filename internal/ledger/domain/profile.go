// Package domain 账本服务的领域模型：账户、投资、提现、推荐、收益流水与 Saga 记录
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// ProfileStatus 账户生命周期状态
type ProfileStatus string

const (
	ProfileStatusPendingInvestment ProfileStatus = "pending_investment" // 已注册，待提交投资
	ProfileStatusPendingApproval   ProfileStatus = "pending_approval"   // 投资待审核
	ProfileStatusActive            ProfileStatus = "active"             // 已激活，参与每日收益
	ProfileStatusRejected          ProfileStatus = "rejected"           // 审核未通过
)

// ProfileEvent 驱动账户状态迁移的事件
type ProfileEvent string

const (
	ProfileEventSubmitInvestment ProfileEvent = "submit_investment"
	ProfileEventActivate         ProfileEvent = "activate"
)

var profileLifecycle = newLifecycle(
	[]ProfileStatus{ProfileStatusPendingInvestment, ProfileStatusPendingApproval, ProfileStatusActive, ProfileStatusRejected},
	rule(ProfileStatusPendingInvestment, ProfileEventSubmitInvestment, ProfileStatusPendingApproval),
	rule(ProfileStatusPendingInvestment, ProfileEventActivate, ProfileStatusActive),
	rule(ProfileStatusPendingApproval, ProfileEventActivate, ProfileStatusActive),
	rule(ProfileStatusRejected, ProfileEventSubmitInvestment, ProfileStatusPendingApproval),
	rule(ProfileStatusRejected, ProfileEventActivate, ProfileStatusActive),
	// 已激活账户追加投资不改变状态
	rule(ProfileStatusActive, ProfileEventSubmitInvestment, ProfileStatusActive),
	rule(ProfileStatusActive, ProfileEventActivate, ProfileStatusActive),
)

// Next 计算事件作用后的状态
func (s ProfileStatus) Next(ctx context.Context, event ProfileEvent) (ProfileStatus, error) {
	to, err := profileLifecycle.fire(ctx, fsm.State(s), fsm.Event(event))
	return ProfileStatus(to), err
}

// Valid 是否为已知状态
func (s ProfileStatus) Valid() bool {
	return profileLifecycle.known(fsm.State(s))
}

// Profile 账户聚合根
type Profile struct {
	ID               string          `json:"id"`
	Username         string          `json:"username"`
	Status           ProfileStatus   `json:"status"`
	Plan             PlanID          `json:"selected_plan"`
	Balance          decimal.Decimal `json:"balance"`
	TotalInvestment  decimal.Decimal `json:"total_investment"`
	DailyEarnings    decimal.Decimal `json:"daily_earnings"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
	// 推荐人账户 ID，为空表示无推荐人
	ReferredBy string    `json:"referred_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewProfile 注册新账户；免费套餐直接激活，付费套餐等待投资
func NewProfile(id, username string, plan PlanID, referredBy string, now time.Time) (*Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, NewValidationError("username", "must not be empty")
	}
	if len(username) > 64 {
		return nil, NewValidationError("username", "must be at most 64 characters")
	}
	p, ok := LookupPlan(plan)
	if !ok {
		return nil, &ValidationError{Field: "plan", Reason: "unknown plan", Err: ErrUnknownPlan}
	}

	status := ProfileStatusPendingInvestment
	if !p.RequiresInvestment() {
		status = ProfileStatusActive
	}
	return &Profile{
		ID:               id,
		Username:         username,
		Status:           status,
		Plan:             plan,
		Balance:          decimal.Zero,
		TotalInvestment:  decimal.Zero,
		DailyEarnings:    decimal.Zero,
		ReferralEarnings: decimal.Zero,
		ReferredBy:       strings.TrimSpace(referredBy),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// BalanceDelta 账户资金字段的增量，由存储层以 col = col + ? 原子应用
type BalanceDelta struct {
	Balance          decimal.Decimal
	TotalInvestment  decimal.Decimal
	DailyEarnings    decimal.Decimal
	ReferralEarnings decimal.Decimal
	// 非空时同时设置状态
	Status ProfileStatus
}

// Credit 仅余额增加
func Credit(amount decimal.Decimal) BalanceDelta {
	return BalanceDelta{Balance: amount}
}

// Debit 仅余额减少
func Debit(amount decimal.Decimal) BalanceDelta {
	return BalanceDelta{Balance: amount.Neg()}
}

// Validate 累计收益字段只增不减
func (d BalanceDelta) Validate() error {
	if d.DailyEarnings.IsNegative() {
		return NewValidationError("daily_earnings", "cumulative daily earnings never decrease")
	}
	if d.ReferralEarnings.IsNegative() {
		return NewValidationError("referral_earnings", "cumulative referral earnings never decrease")
	}
	if d.Status != "" && !d.Status.Valid() {
		return NewValidationError("status", "unknown profile status "+string(d.Status))
	}
	return nil
}

// Apply 在内存中应用增量，余额不足时返回 ErrInsufficientBalance 且不修改
func (p *Profile) Apply(d BalanceDelta, now time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	next := p.Balance.Add(d.Balance)
	if next.IsNegative() {
		return ErrInsufficientBalance
	}
	p.Balance = next
	p.TotalInvestment = p.TotalInvestment.Add(d.TotalInvestment)
	p.DailyEarnings = p.DailyEarnings.Add(d.DailyEarnings)
	p.ReferralEarnings = p.ReferralEarnings.Add(d.ReferralEarnings)
	if d.Status != "" {
		p.Status = d.Status
	}
	p.UpdatedAt = now
	return nil
}

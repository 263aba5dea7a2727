package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentApprovedEvent 投资审批通过且已入账后发出
type InvestmentApprovedEvent struct {
	InvestmentID string          `json:"investment_id"`
	AccountID    string          `json:"account_id"`
	ReferredBy   string          `json:"referred_by,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Plan         PlanID          `json:"plan_id"`
	ApprovedAt   time.Time       `json:"approved_at"`
}

// InvestmentApprovedListener 审批通过事件的订阅者；返回的错误只告警，不影响审批结果
type InvestmentApprovedListener interface {
	OnInvestmentApproved(ctx context.Context, event InvestmentApprovedEvent) error
}

// LedgerEventType 对外发布的账本事件类型
type LedgerEventType string

const (
	EventInvestmentSubmitted LedgerEventType = "investment.submitted"
	EventInvestmentApproved  LedgerEventType = "investment.approved"
	EventInvestmentRejected  LedgerEventType = "investment.rejected"
	EventWithdrawalRequested LedgerEventType = "withdrawal.requested"
	EventWithdrawalApproved  LedgerEventType = "withdrawal.approved"
	EventWithdrawalRejected  LedgerEventType = "withdrawal.rejected"
	EventReferralGranted     LedgerEventType = "referral.granted"
	EventAccrualCredited     LedgerEventType = "accrual.credited"
	EventProfileRegistered   LedgerEventType = "profile.registered"
	EventProfileDeleted      LedgerEventType = "profile.deleted"
	EventSagaCompensated     LedgerEventType = "saga.compensated"
)

// LedgerEvent 账户资金或状态变化通知，按 AccountID 分区
type LedgerEvent struct {
	Type       LedgerEventType `json:"type"`
	AccountID  string          `json:"account_id"`
	Ref        string          `json:"ref,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventPublisher 账本事件登记。ctx 携带事务时写入同一事务，由后台投递器异步发送；
// 登记失败使所在事务回滚。
type EventPublisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}

// AlertKind 运维告警类别
type AlertKind string

const (
	AlertReferralFailed      AlertKind = "referral_failed"
	AlertHistoryAppendFailed AlertKind = "history_append_failed"
	AlertCompensationFailed  AlertKind = "compensation_failed"
	AlertListenerFailed      AlertKind = "listener_failed"
	AlertAccrualSkipped      AlertKind = "accrual_skipped"
)

// Alert 需要人工对账的非关键失败
type Alert struct {
	Kind     AlertKind         `json:"kind"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Error    string            `json:"error,omitempty"`
	RaisedAt time.Time         `json:"raised_at"`
}

// Alerter 运维告警通道
type Alerter interface {
	Alert(ctx context.Context, alert Alert)
}

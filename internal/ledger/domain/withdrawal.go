package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// WithdrawalStatus 提现状态
type WithdrawalStatus string

const (
	WithdrawalStatusProcessing WithdrawalStatus = "processing" // 资金已预留，等待处理
	WithdrawalStatusApproved   WithdrawalStatus = "approved"   // 已打款，扣减永久生效
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"   // 已拒绝，预留资金退回余额
)

// WithdrawalEvent 提现状态事件
type WithdrawalEvent string

const (
	WithdrawalEventApprove WithdrawalEvent = "approve"
	WithdrawalEventReject  WithdrawalEvent = "reject"
)

var withdrawalLifecycle = newLifecycle(
	[]WithdrawalStatus{WithdrawalStatusProcessing, WithdrawalStatusApproved, WithdrawalStatusRejected},
	rule(WithdrawalStatusProcessing, WithdrawalEventApprove, WithdrawalStatusApproved),
	rule(WithdrawalStatusProcessing, WithdrawalEventReject, WithdrawalStatusRejected),
)

// Next 计算事件作用后的状态
func (s WithdrawalStatus) Next(ctx context.Context, event WithdrawalEvent) (WithdrawalStatus, error) {
	to, err := withdrawalLifecycle.fire(ctx, fsm.State(s), fsm.Event(event))
	return WithdrawalStatus(to), err
}

// Resolved 已批准或已拒绝
func (s WithdrawalStatus) Resolved() bool {
	return withdrawalLifecycle.final(fsm.State(s))
}

// Withdrawal 提现申请
type Withdrawal struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"account_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      WithdrawalStatus `json:"status"`
	MethodID    string           `json:"method_id"`
	RequestedAt time.Time        `json:"requested_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// WithdrawalMethod 收款方式，每个账户一条，后写覆盖
type WithdrawalMethod struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Method        string    `json:"method"`
	HolderName    string    `json:"holder_name"`
	AccountNumber string    `json:"account_number"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate 校验收款方式字段
func (m *WithdrawalMethod) Validate() error {
	m.Method = strings.TrimSpace(m.Method)
	m.HolderName = strings.TrimSpace(m.HolderName)
	m.AccountNumber = strings.TrimSpace(m.AccountNumber)
	switch {
	case m.Method == "":
		return NewValidationError("method", "must not be empty")
	case m.HolderName == "":
		return NewValidationError("holder_name", "must not be empty")
	case m.AccountNumber == "":
		return NewValidationError("account_number", "must not be empty")
	}
	return nil
}

// ValidateWithdrawalAmount 金额必须为正且不超过当前余额
func ValidateWithdrawalAmount(amount, balance decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}
	if amount.GreaterThan(balance) {
		return &ValidationError{Field: "amount", Reason: "exceeds available balance", Err: ErrInsufficientBalance}
	}
	return nil
}

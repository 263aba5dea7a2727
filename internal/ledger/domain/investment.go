package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// InvestmentStatus 投资审核状态
type InvestmentStatus string

const (
	InvestmentStatusPending  InvestmentStatus = "pending"
	InvestmentStatusApproved InvestmentStatus = "approved"
	InvestmentStatusRejected InvestmentStatus = "rejected"
)

// InvestmentEvent 投资状态事件
type InvestmentEvent string

const (
	InvestmentEventApprove InvestmentEvent = "approve"
	InvestmentEventReject  InvestmentEvent = "reject"
	// InvestmentEventRevert 审批 Saga 的补偿动作，只允许撤回尚未入账的批准
	InvestmentEventRevert InvestmentEvent = "revert"
)

var investmentLifecycle = newLifecycle(
	[]InvestmentStatus{InvestmentStatusPending, InvestmentStatusApproved, InvestmentStatusRejected},
	rule(InvestmentStatusPending, InvestmentEventApprove, InvestmentStatusApproved),
	rule(InvestmentStatusPending, InvestmentEventReject, InvestmentStatusRejected),
	rule(InvestmentStatusApproved, InvestmentEventRevert, InvestmentStatusPending),
)

// Next 计算事件作用后的状态
func (s InvestmentStatus) Next(ctx context.Context, event InvestmentEvent) (InvestmentStatus, error) {
	to, err := investmentLifecycle.fire(ctx, fsm.State(s), fsm.Event(event))
	return InvestmentStatus(to), err
}

// Decision 管理员审批结果
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision 解析审批结果
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove, "approved":
		return DecisionApprove, nil
	case DecisionReject, "rejected":
		return DecisionReject, nil
	}
	return "", NewValidationError("decision", "must be approve or reject")
}

// Investment 投资凭证记录
type Investment struct {
	ID        string           `json:"id"`
	AccountID string           `json:"account_id"`
	Plan      PlanID           `json:"plan_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Status    InvestmentStatus `json:"status"`
	// 外部凭证存储的引用，不解析
	ProofRef    string     `json:"proof_ref"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// NewInvestment 创建待审核投资，金额取自套餐表
func NewInvestment(id, accountID string, plan PlanID, proofRef string, now time.Time) (*Investment, error) {
	p, ok := LookupPlan(plan)
	if !ok {
		return nil, &ValidationError{Field: "plan", Reason: "unknown plan", Err: ErrUnknownPlan}
	}
	if !p.RequiresInvestment() {
		return nil, NewValidationError("plan", "plan does not require an investment")
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, NewValidationError("proof_ref", "must not be empty")
	}
	return &Investment{
		ID:          id,
		AccountID:   accountID,
		Plan:        plan,
		Amount:      p.Price,
		Status:      InvestmentStatusPending,
		ProofRef:    proofRef,
		SubmittedAt: now,
	}, nil
}

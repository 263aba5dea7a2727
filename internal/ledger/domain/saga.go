package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// SagaKind 多步工作流类型
type SagaKind string

const (
	SagaKindApproval   SagaKind = "approval"
	SagaKindWithdrawal SagaKind = "withdrawal"
)

// SagaState 持久化的工作流进度
type SagaState string

const (
	SagaStateStarted      SagaState = "started"
	SagaStateCompleted    SagaState = "completed"
	SagaStateCompensating SagaState = "compensating"
	SagaStateCompensated  SagaState = "compensated"
	SagaStateFailed       SagaState = "failed"
)

// SagaEvent 工作流状态事件
type SagaEvent string

const (
	SagaEventComplete    SagaEvent = "complete"
	SagaEventCompensate  SagaEvent = "compensate"
	SagaEventCompensated SagaEvent = "compensated"
	SagaEventFail        SagaEvent = "fail"
)

var sagaLifecycle = newLifecycle(
	[]SagaState{SagaStateStarted, SagaStateCompleted, SagaStateCompensating, SagaStateCompensated, SagaStateFailed},
	rule(SagaStateStarted, SagaEventComplete, SagaStateCompleted),
	rule(SagaStateStarted, SagaEventCompensate, SagaStateCompensating),
	rule(SagaStateCompensating, SagaEventCompensated, SagaStateCompensated),
	rule(SagaStateCompensating, SagaEventFail, SagaStateFailed),
	// 人工或恢复任务重试补偿
	rule(SagaStateFailed, SagaEventCompensate, SagaStateCompensating),
)

// Next 计算事件作用后的状态
func (s SagaState) Next(ctx context.Context, event SagaEvent) (SagaState, error) {
	to, err := sagaLifecycle.fire(ctx, fsm.State(s), fsm.Event(event))
	return SagaState(to), err
}

// Terminal 是否为终态
func (s SagaState) Terminal() bool {
	return sagaLifecycle.final(fsm.State(s))
}

// 分支名，与 gid 一起构成屏障键
const (
	BranchInvestment = "investment"
	BranchCredit     = "credit"
	BranchReserve    = "reserve"
	BranchRecord     = "record"
	BranchReferral   = "referral"
)

// BranchOp 分支操作
type BranchOp string

const (
	BranchOpAction     BranchOp = "action"
	BranchOpCompensate BranchOp = "compensate"
)

// Saga 审批/提现工作流的持久化记录，崩溃后由恢复任务继续或回滚
type Saga struct {
	GID       string          `json:"gid"`
	Kind      SagaKind        `json:"kind"`
	Ref       string          `json:"ref"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	State     SagaState       `json:"state"`
	// 审批前的账户状态，补偿入账时恢复
	PrevStatus ProfileStatus `json:"prev_status,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Attempts   int           `json:"attempts"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Barrier 分支屏障：同一 (gid, branch, op) 至多执行一次；动作未执行过的补偿为空补偿，
// 补偿之后到达的动作被抑制。fn 与屏障记录在同一事务中提交。
type Barrier interface {
	// Run 返回 fn 是否真正执行
	Run(ctx context.Context, gid, branch string, op BranchOp, fn func(txCtx context.Context) error) (bool, error)
}

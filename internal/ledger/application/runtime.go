// Package application 账本应用层：审批、推荐奖励、提现、每日收益与 Saga 恢复
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/metrics"
	"github.com/wyfcoding/pkg/idgen"
)

// Options 应用层运行参数
type Options struct {
	// 单步存储调用超时
	StepTimeout time.Duration
	// 推荐奖励金额
	ReferralBonus decimal.Decimal
	// 每日收益任务单批账户数
	AccrualBatchSize int
	// 每日收益互斥锁有效期
	AccrualLockTTL time.Duration
	// 超过该时长未推进的 Saga 由恢复任务接管
	RecoveryStaleAfter time.Duration
	RecoveryBatchSize  int

	Now   func() time.Time
	NewID func(prefix string) string
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		StepTimeout:        5 * time.Second,
		ReferralBonus:      decimal.NewFromInt(200),
		AccrualBatchSize:   200,
		AccrualLockTTL:     30 * time.Minute,
		RecoveryStaleAfter: 2 * time.Minute,
		RecoveryBatchSize:  100,
		Now:                time.Now,
		NewID:              snowflakeID,
	}
}

func snowflakeID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idgen.GenID())
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StepTimeout <= 0 {
		o.StepTimeout = d.StepTimeout
	}
	if o.AccrualBatchSize <= 0 {
		o.AccrualBatchSize = d.AccrualBatchSize
	}
	if o.AccrualLockTTL <= 0 {
		o.AccrualLockTTL = d.AccrualLockTTL
	}
	if o.RecoveryStaleAfter <= 0 {
		o.RecoveryStaleAfter = d.RecoveryStaleAfter
	}
	if o.RecoveryBatchSize <= 0 {
		o.RecoveryBatchSize = d.RecoveryBatchSize
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.NewID == nil {
		o.NewID = d.NewID
	}
	return o
}

// Runtime 各服务共享的协作者
type Runtime struct {
	store     domain.Store
	opts      Options
	logger    *slog.Logger
	alerter   domain.Alerter
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
}

// NewRuntime 组装共享协作者；publisher、alerter、metrics 可为 nil。
// publisher 必须参与 ctx 中的事务，事件随业务写入原子提交。
func NewRuntime(store domain.Store, opts Options, logger *slog.Logger, alerter domain.Alerter, publisher domain.EventPublisher, m *metrics.Metrics) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:     store,
		opts:      opts.withDefaults(),
		logger:    logger,
		alerter:   alerter,
		publisher: publisher,
		metrics:   m,
	}
}

// step 以独立超时执行一次存储调用，并把底层错误归类为 StoreError
func (r *Runtime) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()
	if r.metrics != nil {
		defer r.metrics.ObserveStep(name)()
	}
	return domain.WrapStore(name, fn(stepCtx))
}

func (r *Runtime) now() time.Time {
	return r.opts.Now().UTC()
}

// emit 在 ctx 携带的事务中登记账本事件，与业务写入一起提交或回滚
func (r *Runtime) emit(ctx context.Context, typ domain.LedgerEventType, accountID, ref string, amount decimal.Decimal) error {
	if r.publisher == nil {
		return nil
	}
	evt := domain.LedgerEvent{Type: typ, AccountID: accountID, Ref: ref, Amount: amount, OccurredAt: r.now()}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("stage %s event: %w", typ, err)
	}
	return nil
}

// alert 记录日志并上报运维告警，kv 为成对的字段
func (r *Runtime) alert(ctx context.Context, kind domain.AlertKind, msg string, err error, kv ...string) {
	fields := make(map[string]string, len(kv)/2)
	args := make([]any, 0, len(kv)+4)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
		args = append(args, kv[i], kv[i+1])
	}
	a := domain.Alert{Kind: kind, Message: msg, Fields: fields, RaisedAt: r.now()}
	if err != nil {
		a.Error = err.Error()
		args = append(args, "error", err)
	}
	r.logger.ErrorContext(ctx, msg, append(args, "alert", string(kind))...)
	if r.alerter != nil {
		r.alerter.Alert(ctx, a)
	}
}

func (r *Runtime) outcome(workflow, result string) {
	if r.metrics != nil {
		r.metrics.WorkflowOutcomes.WithLabelValues(workflow, result).Inc()
	}
}

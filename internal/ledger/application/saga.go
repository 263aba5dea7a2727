package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// sagaStep 一个分支的正向动作与补偿动作，二者都在屏障事务内执行
type sagaStep struct {
	branch     string
	action     func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// startSaga 持久化工作流记录；之后的执行与调用方取消解耦，保证走到完成或补偿
func (r *Runtime) startSaga(ctx context.Context, saga *domain.Saga) (context.Context, error) {
	saga.State = domain.SagaStateStarted
	saga.CreatedAt = r.now()
	saga.UpdatedAt = saga.CreatedAt
	if err := r.step(ctx, "saga.create", func(ctx context.Context) error {
		return r.store.Sagas.Create(ctx, saga)
	}); err != nil {
		return ctx, fmt.Errorf("start %s saga: %w", saga.Kind, err)
	}
	return context.WithoutCancel(ctx), nil
}

// forward 依次执行正向分支，已执行过的分支由屏障跳过
func (r *Runtime) forward(ctx context.Context, saga *domain.Saga, steps []sagaStep) error {
	for _, st := range steps {
		if st.action == nil {
			continue
		}
		err := r.step(ctx, string(saga.Kind)+"."+st.branch, func(ctx context.Context) error {
			_, err := r.store.Barrier.Run(ctx, saga.GID, st.branch, domain.BranchOpAction, st.action)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s branch %s: %w", saga.Kind, st.branch, err)
		}
	}
	return nil
}

// compensate 逆序执行补偿，遇到失败立即停止以保持逆序语义
func (r *Runtime) compensate(ctx context.Context, saga *domain.Saga, steps []sagaStep) error {
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		if st.compensate == nil {
			continue
		}
		err := r.step(ctx, string(saga.Kind)+"."+st.branch+".compensate", func(ctx context.Context) error {
			executed, err := r.store.Barrier.Run(ctx, saga.GID, st.branch, domain.BranchOpCompensate, st.compensate)
			if err == nil && !executed {
				r.logger.DebugContext(ctx, "compensation skipped by barrier", "gid", saga.GID, "branch", st.branch)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("compensate %s branch %s: %w", saga.Kind, st.branch, err)
		}
	}
	return nil
}

// complete 标记工作流完成
func (r *Runtime) complete(ctx context.Context, saga *domain.Saga) {
	r.moveSaga(ctx, saga, domain.SagaEventComplete, "")
	r.outcome(string(saga.Kind), "completed")
}

// abort 正向失败后执行补偿。补偿成功返回 nil；失败时工作流保持 compensating 等待恢复任务，
// 无法重试的失败（余额不足、记录缺失或已被处理）转为 failed 并告警。
func (r *Runtime) abort(ctx context.Context, saga *domain.Saga, steps []sagaStep, cause error) error {
	if saga.State == domain.SagaStateStarted || saga.State == domain.SagaStateFailed {
		r.moveSaga(ctx, saga, domain.SagaEventCompensate, errString(cause))
	}

	if err := r.compensate(ctx, saga, steps); err != nil {
		if r.metrics != nil {
			r.metrics.Compensations.WithLabelValues(string(saga.Kind), "failed").Inc()
		}
		if errors.Is(err, domain.ErrInsufficientBalance) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStaleState) {
			r.moveSaga(ctx, saga, domain.SagaEventFail, err.Error())
		} else {
			r.touchSaga(ctx, saga, err.Error())
		}
		r.alert(ctx, domain.AlertCompensationFailed, "saga compensation failed, manual reconciliation required", err,
			"gid", saga.GID, "kind", string(saga.Kind), "ref", saga.Ref, "account_id", saga.AccountID, "amount", saga.Amount.String())
		r.outcome(string(saga.Kind), "failed")
		return err
	}

	r.moveSaga(ctx, saga, domain.SagaEventCompensated, errString(cause), func(txCtx context.Context) error {
		return r.emit(txCtx, domain.EventSagaCompensated, saga.AccountID, saga.Ref, saga.Amount)
	})
	if r.metrics != nil {
		r.metrics.Compensations.WithLabelValues(string(saga.Kind), "ok").Inc()
	}
	r.outcome(string(saga.Kind), "compensated")
	return nil
}

// moveSaga 持久化状态迁移；with 与迁移在同一事务中执行
func (r *Runtime) moveSaga(ctx context.Context, saga *domain.Saga, event domain.SagaEvent, lastErr string, with ...func(txCtx context.Context) error) {
	to, err := saga.State.Next(ctx, event)
	if err != nil {
		r.logger.WarnContext(ctx, "saga transition rejected", "gid", saga.GID, "state", saga.State, "event", event)
		return
	}
	err = r.step(ctx, "saga.transition", func(ctx context.Context) error {
		return r.store.Tx.Transaction(ctx, func(txCtx context.Context) error {
			if err := r.store.Sagas.Transition(txCtx, saga.GID, saga.State, to, lastErr); err != nil {
				return err
			}
			for _, fn := range with {
				if err := fn(txCtx); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		// 状态落库失败不影响已提交的分支，恢复任务会重新推进，屏障保证不会重复执行
		r.logger.ErrorContext(ctx, "failed to persist saga state", "gid", saga.GID, "from", saga.State, "to", to, "error", err)
		return
	}
	saga.State = to
	saga.LastError = lastErr
}

func (r *Runtime) touchSaga(ctx context.Context, saga *domain.Saga, lastErr string) {
	if err := r.step(ctx, "saga.touch", func(ctx context.Context) error {
		return r.store.Sagas.Touch(ctx, saga.GID, lastErr)
	}); err != nil {
		r.logger.ErrorContext(ctx, "failed to record saga attempt", "gid", saga.GID, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

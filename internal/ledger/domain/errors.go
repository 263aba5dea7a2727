package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientBalance 扣减后余额将为负
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidTransition 状态机不允许的迁移
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStaleState 条件更新时记录已不在预期状态
	ErrStaleState = errors.New("record is no longer in the expected state")
	// ErrUnknownPlan 未知套餐
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrLockHeld 互斥锁已被占用
	ErrLockHeld = errors.New("lock already held")
)

// ValidationError 输入不合法，未产生任何写入
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError 构造校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// PolicyViolation 违反业务规则（如重复审批），未产生任何写入
type PolicyViolation struct {
	Reason string
	Err    error
}

func (e *PolicyViolation) Error() string {
	return "policy violation: " + e.Reason
}

func (e *PolicyViolation) Unwrap() error { return e.Err }

// NewPolicyViolation 构造业务规则错误
func NewPolicyViolation(reason string, err error) *PolicyViolation {
	return &PolicyViolation{Reason: reason, Err: err}
}

// StoreError 存储读写失败
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore 把底层错误包装为 StoreError；业务哨兵错误与已分类错误原样返回
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		pv *PolicyViolation
		se *StoreError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &pv), errors.As(err, &se):
		return err
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrStaleState):
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError 判断是否为存储错误
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

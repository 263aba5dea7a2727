package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

type namedListener struct {
	name     string
	listener domain.InvestmentApprovedListener
}

// EventDispatcher 同步分发审批事件，每个订阅者相互隔离：错误与 panic 都不会传回审批流程
type EventDispatcher struct {
	rt        *Runtime
	mu        sync.RWMutex
	listeners []namedListener
}

// NewEventDispatcher 创建分发器
func NewEventDispatcher(rt *Runtime) *EventDispatcher {
	return &EventDispatcher{rt: rt}
}

// Subscribe 注册订阅者
func (d *EventDispatcher) Subscribe(name string, l domain.InvestmentApprovedListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, namedListener{name: name, listener: l})
}

// InvestmentApproved 分发审批通过事件
func (d *EventDispatcher) InvestmentApproved(ctx context.Context, evt domain.InvestmentApprovedEvent) {
	d.mu.RLock()
	listeners := append([]namedListener(nil), d.listeners...)
	d.mu.RUnlock()

	for _, nl := range listeners {
		if err := d.invoke(ctx, nl, evt); err != nil {
			d.rt.logger.ErrorContext(ctx, "investment approved listener failed",
				"listener", nl.name, "investment_id", evt.InvestmentID, "account_id", evt.AccountID, "error", err)
		}
	}
}

func (d *EventDispatcher) invoke(ctx context.Context, nl namedListener, evt domain.InvestmentApprovedEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener %s panicked: %v", nl.name, p)
			d.rt.alert(ctx, domain.AlertListenerFailed, "investment approved listener panicked", err,
				"listener", nl.name, "investment_id", evt.InvestmentID, "account_id", evt.AccountID)
		}
	}()
	return nl.listener.OnInvestmentApproved(ctx, evt)
}

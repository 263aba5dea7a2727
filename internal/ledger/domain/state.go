package domain

import (
	"context"
	"fmt"

	"github.com/wyfcoding/pkg/fsm"
)

// lifecycle 封闭的状态迁移表，未列出的迁移一律拒绝。
// 每次判定都在当前状态上装配一台新的状态机，聚合本身不持有机器实例。
type lifecycle struct {
	rules  []fsm.Transition
	states map[fsm.State]bool
}

func rule[S ~string, E ~string](from S, event E, to S) fsm.Transition {
	return fsm.Transition{From: fsm.State(from), Event: fsm.Event(event), To: fsm.State(to)}
}

func newLifecycle[S ~string](known []S, rules ...fsm.Transition) lifecycle {
	l := lifecycle{rules: rules, states: make(map[fsm.State]bool, len(known))}
	for _, s := range known {
		l.states[fsm.State(s)] = true
	}
	return l
}

func (l lifecycle) machine(from fsm.State) *fsm.Machine {
	m := fsm.NewMachine(from)
	for _, r := range l.rules {
		m.AddTransition(r.From, r.Event, r.To)
	}
	return m
}

// fire 在 from 上触发事件，返回迁移后的状态
func (l lifecycle) fire(ctx context.Context, from fsm.State, event fsm.Event) (fsm.State, error) {
	m := l.machine(from)
	if err := m.Trigger(ctx, event); err != nil {
		return from, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return m.Current(), nil
}

func (l lifecycle) known(s fsm.State) bool {
	return l.states[s]
}

// final 已知且没有任何出边
func (l lifecycle) final(s fsm.State) bool {
	if !l.known(s) {
		return false
	}
	for _, r := range l.rules {
		if r.From == s {
			return false
		}
	}
	return true
}

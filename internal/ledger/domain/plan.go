package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PlanID 套餐编号
type PlanID int

const (
	PlanFree     PlanID = 0
	PlanStarter  PlanID = 1
	PlanAdvanced PlanID = 2
	PlanPro      PlanID = 3
)

// Plan 投资套餐，金额与日收益由服务端决定，不接受客户端传入
type Plan struct {
	ID           PlanID          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	DailyReturn  decimal.Decimal `json:"daily_return"`
	DurationDays int             `json:"duration_days"`
}

// RequiresInvestment 付费套餐需要提交投资凭证
func (p Plan) RequiresInvestment() bool {
	return p.Price.IsPositive()
}

var planTable = map[PlanID]Plan{
	PlanFree:     {ID: PlanFree, Name: "Free", Price: decimal.Zero, DailyReturn: decimal.NewFromInt(20)},
	PlanStarter:  {ID: PlanStarter, Name: "Starter", Price: decimal.NewFromInt(6000), DailyReturn: decimal.NewFromInt(120), DurationDays: 80},
	PlanAdvanced: {ID: PlanAdvanced, Name: "Advanced", Price: decimal.NewFromInt(12000), DailyReturn: decimal.NewFromInt(260), DurationDays: 75},
	PlanPro:      {ID: PlanPro, Name: "Pro", Price: decimal.NewFromInt(28000), DailyReturn: decimal.NewFromInt(560), DurationDays: 75},
}

// LookupPlan 查询套餐
func LookupPlan(id PlanID) (Plan, bool) {
	p, ok := planTable[id]
	return p, ok
}

// Plans 按编号升序返回全部套餐
func Plans() []Plan {
	out := make([]Plan, 0, len(planTable))
	for _, p := range planTable {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

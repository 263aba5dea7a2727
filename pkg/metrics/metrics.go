// Package metrics 提供 Prometheus 指标：HTTP 请求、账本工作流结果、补偿、告警与每日收益
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/investledger/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数，按 method/route/status 区分
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 工作流结果：workflow=approval|withdrawal|referral, outcome=completed|compensated|failed
	WorkflowOutcomes *prometheus.CounterVec
	// 补偿执行次数：result=ok|failed
	Compensations *prometheus.CounterVec
	// 运维告警次数
	Alerts *prometheus.CounterVec
	// 每日收益入账账户数
	AccrualCredited prometheus.Counter
	// 每日收益任务运行：result=ok|skipped_locked|failed
	AccrualRuns *prometheus.CounterVec
	// 存储步骤耗时
	StoreStepDuration *prometheus.HistogramVec
}

// New 创建指标实例，注册到独立 registry
func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WorkflowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "workflow_outcomes_total",
			Help:      "Ledger workflow outcomes",
		}, []string{"workflow", "outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "compensations_total",
			Help:      "Compensating balance actions executed",
		}, []string{"workflow", "result"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "operator_alerts_total",
			Help:      "Operator alerts raised",
		}, []string{"kind"}),
		AccrualCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "accrual_credited_accounts_total",
			Help:      "Accounts credited by the daily accrual",
		}),
		AccrualRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "accrual_runs_total",
			Help:      "Daily accrual runs",
		}, []string{"result"}),
		StoreStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "store_step_duration_seconds",
			Help:      "Duration of individual store steps",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"step"}),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkflowOutcomes,
		m.Compensations,
		m.Alerts,
		m.AccrualCredited,
		m.AccrualRuns,
		m.StoreStepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStep 记录存储步骤耗时，配合 defer 使用
func (m *Metrics) ObserveStep(step string) func() {
	start := time.Now()
	return func() {
		m.StoreStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回指标暴露 handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer 构造独立的指标 HTTP 服务
func (m *Metrics) NewServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	logger.Info(context.Background(), "metrics server configured", "port", port, "path", path)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Package job 定时触发每日收益与 Saga 恢复
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wyfcoding/investledger/internal/ledger/application"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

// AccrualRunner 由 *application.AccrualJob 实现
type AccrualRunner interface {
	Run(ctx context.Context, date domain.AccrualDate) (*application.AccrualResult, error)
}

// RecoveryRunner 由 *application.RecoveryService 实现
type RecoveryRunner interface {
	Run(ctx context.Context) (*application.RecoveryResult, error)
}

// Config 调度配置，表达式为空表示不调度该任务
type Config struct {
	AccrualSchedule  string
	RecoverySchedule string
	// 计息日与 cron 表达式都按此时区解释
	Location *time.Location
}

// Scheduler 基于 robfig/cron 的任务调度，同一任务上一次未结束时跳过本次
type Scheduler struct {
	cron     *cron.Cron
	accrual  AccrualRunner
	recovery RecoveryRunner
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
	ctx      context.Context
}

// NewScheduler 创建调度器并注册任务
func NewScheduler(cfg Config, accrual AccrualRunner, recovery RecoveryRunner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		accrual:  accrual,
		recovery: recovery,
		location: loc,
		now:      time.Now,
		logger:   logger,
		ctx:      context.Background(),
	}

	if cfg.AccrualSchedule != "" && accrual != nil {
		if _, err := s.cron.AddFunc(cfg.AccrualSchedule, func() { _ = s.RunAccrual(s.ctx) }); err != nil {
			return nil, fmt.Errorf("schedule accrual %q: %w", cfg.AccrualSchedule, err)
		}
	}
	if cfg.RecoverySchedule != "" && recovery != nil {
		if _, err := s.cron.AddFunc(cfg.RecoverySchedule, func() { _ = s.RunRecovery(s.ctx) }); err != nil {
			return nil, fmt.Errorf("schedule recovery %q: %w", cfg.RecoverySchedule, err)
		}
	}
	return s, nil
}

// Start 启动调度并阻塞到 ctx 结束，返回前等待运行中的任务退出
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", len(s.cron.Entries()), "location", s.location.String())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("job scheduler stopped")
	return nil
}

// RunAccrual 为计息时区的当天入账；已有实例在运行时跳过，不视为失败
func (s *Scheduler) RunAccrual(ctx context.Context) error {
	date := domain.NewAccrualDate(s.now(), s.location)
	res, err := s.accrual.Run(ctx, date)
	if application.IsLockHeld(err) {
		s.logger.InfoContext(ctx, "daily accrual already running elsewhere", "date", string(date))
		return nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "daily accrual failed", "date", string(date), "error", err)
		return err
	}
	s.logger.InfoContext(ctx, "daily accrual finished",
		"date", string(res.Date),
		"credited", res.Credited,
		"already_credited", res.AlreadyCredited,
		"skipped", len(res.Skipped),
		"history_failed", res.HistoryFailed,
		"duration", res.Duration,
	)
	return nil
}

// RunRecovery 执行一次恢复扫描
func (s *Scheduler) RunRecovery(ctx context.Context) error {
	res, err := s.recovery.Run(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "saga recovery failed", "error", err)
		return err
	}
	if res.Scanned > 0 {
		s.logger.InfoContext(ctx, "saga recovery finished",
			"scanned", res.Scanned, "resumed", res.Resumed, "compensated", res.Compensated, "failed", res.Failed)
	}
	return nil
}

// cronLogger 把 cron 内部日志接到 slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

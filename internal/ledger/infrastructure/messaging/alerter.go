// Package messaging 账本事件的 outbox 暂存与运维告警的 Kafka 投递
package messaging

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/metrics"
)

// Sender 由 *mq.KafkaProducer 实现
type Sender interface {
	SendMessage(ctx context.Context, topic, key string, value any) error
}

// Alerter 告警写日志、计数，并在配置了 Kafka 时投递到告警 topic
type Alerter struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	sender  Sender
	topic   string
}

// NewAlerter 创建告警通道；sender 与 m 可为 nil
func NewAlerter(logger *slog.Logger, m *metrics.Metrics, sender Sender, topic string) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = "ledger.alerts"
	}
	return &Alerter{logger: logger, metrics: m, sender: sender, topic: topic}
}

// Alert 投递失败只记录日志
func (a *Alerter) Alert(ctx context.Context, alert domain.Alert) {
	if a.metrics != nil {
		a.metrics.Alerts.WithLabelValues(string(alert.Kind)).Inc()
	}
	a.logger.WarnContext(ctx, "operator alert",
		"kind", string(alert.Kind),
		"message", alert.Message,
		"fields", alert.Fields,
		"error", alert.Error,
	)
	if a.sender == nil {
		return
	}
	// 告警发生时调用方 ctx 往往已超时
	if err := a.sender.SendMessage(context.WithoutCancel(ctx), a.topic, string(alert.Kind), alert); err != nil {
		a.logger.ErrorContext(ctx, "failed to deliver operator alert", "kind", string(alert.Kind), "error", err)
	}
}

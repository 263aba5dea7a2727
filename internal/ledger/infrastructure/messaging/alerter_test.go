package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/metrics"
)

type sent struct {
	topic string
	key   string
	value any
}

type recordingSender struct {
	msgs []sent
	err  error
}

func (s *recordingSender) SendMessage(_ context.Context, topic, key string, value any) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, sent{topic: topic, key: key, value: value})
	return nil
}

func TestAlerterCountsAndForwards(t *testing.T) {
	sender := &recordingSender{}
	m := metrics.New("test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerter := NewAlerter(logger, m, sender, "ops.alerts")

	alerter.Alert(context.Background(), domain.Alert{Kind: domain.AlertReferralFailed, Message: "referral bonus failed"})
	alerter.Alert(context.Background(), domain.Alert{Kind: domain.AlertReferralFailed, Message: "referral bonus failed"})

	assert.InDelta(t, 2, testutil.ToFloat64(m.Alerts.WithLabelValues(string(domain.AlertReferralFailed))), 0)
	require.Len(t, sender.msgs, 2)
	assert.Equal(t, "ops.alerts", sender.msgs[0].topic)
	assert.Equal(t, string(domain.AlertReferralFailed), sender.msgs[0].key)

	// 投递失败不向调用方传播
	sender.err = errors.New("broker down")
	alerter.Alert(context.Background(), domain.Alert{Kind: domain.AlertCompensationFailed})
	assert.InDelta(t, 1, testutil.ToFloat64(m.Alerts.WithLabelValues(string(domain.AlertCompensationFailed))), 0)

	NewAlerter(nil, nil, nil, "").Alert(context.Background(), domain.Alert{Kind: domain.AlertListenerFailed})
}

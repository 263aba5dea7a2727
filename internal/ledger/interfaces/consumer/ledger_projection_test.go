package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/mq"
)

type recordingCache struct {
	deleted [][]string
	err     error
}

func (c *recordingCache) Get(context.Context, string) (*domain.Profile, error) { return nil, nil }
func (c *recordingCache) Save(context.Context, *domain.Profile) error        { return nil }
func (c *recordingCache) Delete(_ context.Context, ids ...string) error {
	c.deleted = append(c.deleted, ids)
	return c.err
}

func message(t *testing.T, evt domain.LedgerEvent) *mq.Message {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return &mq.Message{Topic: "ledger.events", Key: evt.AccountID, Value: data}
}

func TestProjectionInvalidatesAccount(t *testing.T) {
	cache := &recordingCache{}
	h := NewLedgerProjectionHandler(cache, nil)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, message(t, domain.LedgerEvent{
		Type: domain.EventWithdrawalRequested, AccountID: "ACC-1", Ref: "WDR-1", Amount: decimal.NewFromInt(400), OccurredAt: time.Now(),
	})))
	require.NoError(t, h.Handle(ctx, message(t, domain.LedgerEvent{
		Type: domain.EventReferralGranted, AccountID: "ACC-1", Ref: "ACC-2", Amount: decimal.NewFromInt(200),
	})))

	assert.Equal(t, [][]string{{"ACC-1"}, {"ACC-1", "ACC-2"}}, cache.deleted)
}

func TestProjectionIgnoresUnknownAndBadPayloads(t *testing.T) {
	cache := &recordingCache{}
	h := NewLedgerProjectionHandler(cache, nil)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, message(t, domain.LedgerEvent{Type: "something.else", AccountID: "ACC-1"})))
	require.NoError(t, h.Handle(ctx, message(t, domain.LedgerEvent{Type: domain.EventAccrualCredited})))
	require.Error(t, h.Handle(ctx, &mq.Message{Value: []byte("{not json")}))
	assert.Empty(t, cache.deleted)

	cache.err = errors.New("redis down")
	require.Error(t, h.Handle(ctx, message(t, domain.LedgerEvent{Type: domain.EventAccrualCredited, AccountID: "ACC-1"})))
}

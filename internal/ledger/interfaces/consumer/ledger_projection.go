// Package consumer 消费账本事件，维护其他实例上的账户缓存
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/mq"
)

// LedgerProjectionHandler 事件提交后失效相关账户的缓存快照，覆盖事务提交前被回填的旧值
type LedgerProjectionHandler struct {
	cache  domain.ProfileCache
	logger *slog.Logger
}

// NewLedgerProjectionHandler 创建处理器
func NewLedgerProjectionHandler(cache domain.ProfileCache, logger *slog.Logger) *LedgerProjectionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerProjectionHandler{cache: cache, logger: logger}
}

// Handle 处理一条 ledger.events 消息
func (h *LedgerProjectionHandler) Handle(ctx context.Context, msg *mq.Message) error {
	var evt domain.LedgerEvent
	if err := msg.UnmarshalPayload(&evt); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal ledger event", "offset", msg.Offset, "error", err)
		return fmt.Errorf("decode ledger event: %w", err)
	}
	if evt.AccountID == "" {
		return nil
	}

	ids := []string{evt.AccountID}
	switch evt.Type {
	case domain.EventReferralGranted:
		// Ref 为被推荐账户
		if evt.Ref != "" {
			ids = append(ids, evt.Ref)
		}
	case domain.EventInvestmentSubmitted,
		domain.EventInvestmentApproved,
		domain.EventInvestmentRejected,
		domain.EventWithdrawalRequested,
		domain.EventWithdrawalApproved,
		domain.EventWithdrawalRejected,
		domain.EventAccrualCredited,
		domain.EventProfileRegistered,
		domain.EventProfileDeleted,
		domain.EventSagaCompensated:
	default:
		h.logger.WarnContext(ctx, "unknown ledger event type", "type", string(evt.Type))
		return nil
	}

	if err := h.cache.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("invalidate profiles %v: %w", ids, err)
	}
	h.logger.DebugContext(ctx, "profile cache invalidated", "type", string(evt.Type), "account_ids", ids)
	return nil
}

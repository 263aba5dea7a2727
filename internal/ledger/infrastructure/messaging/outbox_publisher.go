package messaging

import (
	"context"
	"time"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"gorm.io/gorm"
)

// OutboxEventPublisher 把账本事件写入 ctx 中的事务，提交后由 relay 投递到 Kafka。
// 事务回滚时事件随之丢弃，已提交的业务变更一定有对应的待投递事件。
type OutboxEventPublisher struct {
	db    *gorm.DB
	mgr   *outbox.Manager
	topic string
}

// NewOutboxEventPublisher 创建事件发布器；同一账户的事件以 AccountID 为 key 落在同一分区
func NewOutboxEventPublisher(gdb *gorm.DB, mgr *outbox.Manager, topic string) *OutboxEventPublisher {
	if topic == "" {
		topic = "ledger.events"
	}
	return &OutboxEventPublisher{db: gdb, mgr: mgr, topic: topic}
}

// Publish 暂存单条事件，不处于事务中时直接写入
func (p *OutboxEventPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	return p.mgr.PublishInTx(db.Conn(ctx, p.db), p.topic, event.AccountID, event)
}

// NewOutboxRelay 创建后台投递器，push 通常是 (*mq.KafkaProducer).Push
func NewOutboxRelay(mgr *outbox.Manager, push func(ctx context.Context, topic, key string, payload []byte) error, batchSize int, interval time.Duration) *outbox.Processor {
	return outbox.NewProcessor(mgr, push, batchSize, interval)
}

// MigrateOutbox 建 outbox 表。列类型按 MySQL/SQLite 声明，PostgreSQL 需自行建表
func MigrateOutbox(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&outbox.OutboxMessage{})
}

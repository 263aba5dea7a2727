package mysql

import (
	"context"
	"time"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/db"
	"gorm.io/gorm"
)

type sagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository 创建工作流记录仓储
func NewSagaRepository(gdb *gorm.DB) domain.SagaRepository {
	return &sagaRepository{db: gdb}
}

func (r *sagaRepository) Create(ctx context.Context, s *domain.Saga) error {
	m := toSagaModel(s)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return translate(db.Conn(ctx, r.db).Create(m).Error)
}

func (r *sagaRepository) Get(ctx context.Context, gid string) (*domain.Saga, error) {
	var m SagaModel
	if err := db.Conn(ctx, r.db).Where("gid = ?", gid).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toDomain(), nil
}

func (r *sagaRepository) Transition(ctx context.Context, gid string, from, to domain.SagaState, lastErr string) error {
	conn := db.Conn(ctx, r.db)
	res := conn.Model(&SagaModel{}).
		Where("gid = ? AND state = ?", gid, string(from)).
		Updates(map[string]any{
			"state":      string(to),
			"last_error": lastErr,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": utcNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return missing(conn, &SagaModel{}, "gid", gid, domain.ErrStaleState)
}

func (r *sagaRepository) Touch(ctx context.Context, gid string, lastErr string) error {
	res := db.Conn(ctx, r.db).Model(&SagaModel{}).
		Where("gid = ?", gid).
		Updates(map[string]any{
			"last_error": lastErr,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": utcNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sagaRepository) ListStale(ctx context.Context, states []domain.SagaState, before time.Time, limit int) ([]*domain.Saga, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	var models []SagaModel
	err := db.Conn(ctx, r.db).
		Where("state IN ? AND updated_at < ?", names, before.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return mapModels(models, (*SagaModel).toDomain), nil
}

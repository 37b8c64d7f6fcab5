package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/servicehub/orchestrator/pkg/model"
)

// RelayRepository tracks which dead letters have been forwarded to Kafka.
type RelayRepository struct {
	db *gorm.DB
}

func NewRelayRepository(db *gorm.DB) *RelayRepository {
	return &RelayRepository{db: db}
}

func (r *RelayRepository) ListUnforwarded(ctx context.Context, limit int) ([]model.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []model.DeadLetterRecord
	err := r.db.WithContext(ctx).
		Where("forwarded_at IS NULL").
		Order("failed_at ASC, id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *RelayRepository) MarkForwarded(ctx context.Context, id uint64, forwardedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.DeadLetterRecord{}).
		Where("id = ?", id).
		Update("forwarded_at", forwardedAt).Error
}

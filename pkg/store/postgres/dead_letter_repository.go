package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// List returns the most recent dead letters first.
func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]model.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.DeadLetterRecord
	err := r.db.WithContext(ctx).
		Order("failed_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id uint64) (*model.DeadLetterRecord, error) {
	var record model.DeadLetterRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if notFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *DeadLetterRepository) CountByEvent(ctx context.Context, eventID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DeadLetterRecord{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count, err
}

func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DeadLetterRecord{}).Count(&count).Error
	return count, err
}

// Requeue publishes a fresh pending event from the dead letter and deletes
// the dead letter, atomically. The new event points back at the record
// through metadata.retried_from_dlq.
func (r *DeadLetterRepository) Requeue(ctx context.Context, id uint64, maxRetries int, now time.Time) (*model.Event, error) {
	var event *model.Event

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record model.DeadLetterRecord
		if err := tx.First(&record, "id = ?", id).Error; err != nil {
			if notFound(err) {
				return store.ErrNotFound
			}
			return err
		}

		var targets model.StringList
		var original model.Event
		err := tx.Select("target_modules").First(&original, "id = ?", record.EventID).Error
		switch {
		case err == nil:
			targets = original.TargetModules
		case !notFound(err):
			return err
		}

		metadata := record.Metadata.Clone()
		metadata[model.MetadataRetriedFromDLQ] = record.ID

		payload := record.Payload
		if payload == nil {
			payload = model.JSONB{}
		}

		event = &model.Event{
			EventType:     record.EventType,
			EventName:     record.EventName,
			SourceModule:  record.SourceModule,
			TargetModules: targets,
			Payload:       payload,
			Metadata:      metadata,
			Status:        model.EventPending,
			MaxRetries:    maxRetries,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		return tx.Delete(&model.DeadLetterRecord{}, "id = ?", record.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

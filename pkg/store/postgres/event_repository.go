package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

var claimableStatuses = []model.EventStatus{model.EventPending, model.EventRetry}

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *model.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	var event model.Event
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if notFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

// Claim moves up to limit due pending/retry events to processing on behalf
// of workerID and returns them. Every claimed row carries a fresh claim token;
// later state updates are conditional on it, so a reclaimed event cannot be
// overwritten by the worker that lost it.
func (r *EventRepository) Claim(ctx context.Context, workerID string, limit int, now time.Time) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1
	}

	token := uuid.NewString()
	var claimed []model.Event

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&model.Event{}).
			Where("status IN ? AND next_attempt_at <= ?", claimableStatuses, now).
			Order("next_attempt_at ASC, id ASC").
			Limit(limit)
		if isPostgres(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var ids []uint64
		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		result := tx.Model(&model.Event{}).
			Where("id IN ? AND status IN ? AND next_attempt_at <= ?", ids, claimableStatuses, now).
			Updates(map[string]interface{}{
				"status":      model.EventProcessing,
				"claimed_at":  now,
				"claimed_by":  workerID,
				"claim_token": token,
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		return tx.Where("claim_token = ? AND status = ?", token, model.EventProcessing).
			Order("next_attempt_at ASC, id ASC").
			Find(&claimed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	return claimed, nil
}

// Complete marks a claimed event completed and stores the merged handler
// result.
func (r *EventRepository) Complete(ctx context.Context, id uint64, claimToken string, result model.JSONB, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, model.EventProcessing, claimToken).
		Updates(map[string]interface{}{
			"status":       model.EventCompleted,
			"result":       result,
			"last_error":   "",
			"processed_at": now,
			"claim_token":  "",
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// ScheduleRetry returns a claimed event to the retry state with one more
// attempt consumed. It refuses to push retry_count past max_retries.
func (r *EventRepository) ScheduleRetry(ctx context.Context, id uint64, claimToken, lastError string, nextAttemptAt, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("id = ? AND status = ? AND claim_token = ? AND retry_count < max_retries", id, model.EventProcessing, claimToken).
		Updates(map[string]interface{}{
			"status":          model.EventRetry,
			"retry_count":     gorm.Expr("retry_count + 1"),
			"last_error":      model.Truncate(lastError, model.MaxErrorMessageLength),
			"next_attempt_at": nextAttemptAt,
			"claim_token":     "",
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// Fail marks a claimed event failed and writes its dead letter in the same
// transaction.
func (r *EventRepository) Fail(ctx context.Context, event *model.Event, claimToken, errMessage, errStack string, now time.Time) (*model.DeadLetterRecord, error) {
	var record *model.DeadLetterRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).
			Where("id = ? AND status = ? AND claim_token = ?", event.ID, model.EventProcessing, claimToken).
			Updates(map[string]interface{}{
				"status":       model.EventFailed,
				"last_error":   model.Truncate(errMessage, model.MaxErrorMessageLength),
				"processed_at": now,
				"claim_token":  "",
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrClaimLost
		}

		record = model.NewDeadLetter(event, errMessage, errStack, now)
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListStuck returns events that have been processing since before cutoff.
func (r *EventRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.Event
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", model.EventProcessing, cutoff).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *EventRepository) CountStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("status = ? AND claimed_at < ?", model.EventProcessing, cutoff).
		Count(&count).Error
	return count, err
}

// Reset makes any non-processing event claimable again from a clean retry
// budget. A failed event loses its dead letter in the same transaction so
// that a failed event never ends up with two of them.
func (r *EventRepository) Reset(ctx context.Context, id uint64, now time.Time) (*model.Event, error) {
	var event model.Event

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&event, "id = ?", id).Error; err != nil {
			if notFound(err) {
				return store.ErrNotFound
			}
			return err
		}
		if event.Status == model.EventProcessing {
			return fmt.Errorf("%w: event %d is being processed", store.ErrConflict, id)
		}

		res := tx.Model(&model.Event{}).
			Where("id = ? AND status = ?", id, event.Status).
			Updates(map[string]interface{}{
				"status":          model.EventPending,
				"retry_count":     0,
				"last_error":      "",
				"next_attempt_at": now,
				"processed_at":    nil,
				"claim_token":     "",
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: event %d changed concurrently", store.ErrConflict, id)
		}

		if event.Status == model.EventFailed {
			if err := tx.Where("event_id = ?", id).Delete(&model.DeadLetterRecord{}).Error; err != nil {
				return err
			}
		}

		return tx.First(&event, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

type statusCount struct {
	Status string
	Count  int64
}

// CountByStatus groups events by status, optionally only those created at
// or after since.
func (r *EventRepository) CountByStatus(ctx context.Context, since *time.Time) (map[model.EventStatus]int64, error) {
	var rows []statusCount
	query := r.db.WithContext(ctx).Model(&model.Event{}).
		Select("status, COUNT(*) AS count").
		Group("status")
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.EventStatus]int64, len(rows))
	for _, status := range model.AllEventStatuses() {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[model.EventStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// CountPending counts events still waiting for a worker.
func (r *EventRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("status IN ?", claimableStatuses).
		Count(&count).Error
	return count, err
}

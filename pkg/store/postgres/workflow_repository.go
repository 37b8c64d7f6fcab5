package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Create(ctx context.Context, execution *model.WorkflowExecution) error {
	return r.db.WithContext(ctx).Create(execution).Error
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id uint64) (*model.WorkflowExecution, error) {
	var execution model.WorkflowExecution
	err := r.db.WithContext(ctx).First(&execution, "id = ?", id).Error
	if err != nil {
		if notFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &execution, nil
}

// FindRunning returns the newest running execution of name started by
// triggerEventID.
func (r *WorkflowRepository) FindRunning(ctx context.Context, name string, triggerEventID uint64) (*model.WorkflowExecution, error) {
	var execution model.WorkflowExecution
	err := r.db.WithContext(ctx).
		Where("workflow_name = ? AND trigger_event_id = ? AND status = ?", name, triggerEventID, model.WorkflowRunning).
		Order("id DESC").
		First(&execution).Error
	if err != nil {
		if notFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &execution, nil
}

// Advance records step as completed and merges partial into result_data.
// A step at or below steps_completed leaves the row untouched and reports
// changed=false, even once the workflow is terminal.
func (r *WorkflowRepository) Advance(ctx context.Context, id uint64, step int, label string, partial model.JSONB) (*model.WorkflowExecution, bool, error) {
	var execution model.WorkflowExecution
	changed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&execution, "id = ?", id).Error; err != nil {
			if notFound(err) {
				return store.ErrNotFound
			}
			return err
		}
		if step <= execution.StepsCompleted {
			return nil
		}
		if execution.IsTerminal() {
			return fmt.Errorf("%w: workflow %d is %s", store.ErrConflict, id, execution.Status)
		}

		merged := execution.ResultData.Merge(partial)
		res := tx.Model(&model.WorkflowExecution{}).
			Where("id = ? AND status = ? AND steps_completed < ?", id, model.WorkflowRunning, step).
			Updates(map[string]interface{}{
				"steps_completed": step,
				"current_step":    label,
				"result_data":     merged,
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0

		return tx.First(&execution, "id = ?", id).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &execution, changed, nil
}

// Finish moves a running execution to its terminal status exactly once.
func (r *WorkflowRepository) Finish(ctx context.Context, id uint64, status model.WorkflowStatus, final model.JSONB, errMessage *string, now time.Time) (*model.WorkflowExecution, error) {
	var execution model.WorkflowExecution

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&execution, "id = ?", id).Error; err != nil {
			if notFound(err) {
				return store.ErrNotFound
			}
			return err
		}
		if execution.IsTerminal() {
			return fmt.Errorf("%w: workflow %d is already %s", store.ErrConflict, id, execution.Status)
		}

		duration := now.Sub(execution.StartedAt).Milliseconds()
		if duration < 0 {
			duration = 0
		}

		updates := map[string]interface{}{
			"status":       status,
			"completed_at": now,
			"duration_ms":  duration,
			"result_data":  execution.ResultData.Merge(final),
		}
		if errMessage != nil {
			updates["error_message"] = *errMessage
		}

		res := tx.Model(&model.WorkflowExecution{}).
			Where("id = ? AND status = ?", id, model.WorkflowRunning).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: workflow %d changed concurrently", store.ErrConflict, id)
		}

		return tx.First(&execution, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *WorkflowRepository) CountByStatus(ctx context.Context) (map[model.WorkflowStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).Model(&model.WorkflowExecution{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[model.WorkflowStatus]int64{
		model.WorkflowRunning:   0,
		model.WorkflowCompleted: 0,
		model.WorkflowFailed:    0,
	}
	for _, row := range rows {
		counts[model.WorkflowStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *WorkflowRepository) CountRunning(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WorkflowExecution{}).
		Where("status = ?", model.WorkflowRunning).
		Count(&count).Error
	return count, err
}

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if isPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

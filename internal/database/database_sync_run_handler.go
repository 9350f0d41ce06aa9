package database

import (
	"context"
	"fmt"
	"time"

	"paygate/internal/domain"
)

const maxSyncRunPage = 200

func CreateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	db, err := withContext(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(run).Error; err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs first.
func ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	db, err := withContext(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxSyncRunPage {
		limit = maxSyncRunPage
	}

	var runs []domain.SyncRun
	if err := db.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

// SyncRunRecorder stores fan-out audit rows.
type SyncRunRecorder struct{}

func (SyncRunRecorder) RecordSyncRun(ctx context.Context, run *domain.SyncRun) error {
	return CreateSyncRun(ctx, run)
}

// DeleteSyncRunsBefore prunes audit rows whose run started before cutoff.
func DeleteSyncRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := withContext(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("started_at < ?", cutoff).Delete(&domain.SyncRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune sync runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

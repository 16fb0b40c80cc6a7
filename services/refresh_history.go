package services

import (
	"context"
	"strings"

	"cpls_refresh/errors"
	"cpls_refresh/models"

	"gorm.io/gorm"
)

// History list bounds
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// RefreshHistory persists refresh runs and invalidation audits.
// A history without a database accepts writes and returns empty lists.
type RefreshHistory struct {
	db *gorm.DB
}

// NewRefreshHistory creates a history store backed by db (may be nil)
func NewRefreshHistory(db *gorm.DB) *RefreshHistory {
	return &RefreshHistory{db: db}
}

// Enabled reports whether a database is attached
func (h *RefreshHistory) Enabled() bool {
	return h != nil && h.db != nil
}

// RecordRun stores one refresh execution
func (h *RefreshHistory) RecordRun(ctx context.Context, run *models.RefreshRun) error {
	if !h.Enabled() {
		return nil
	}
	if err := h.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.Wrapf(err, "record refresh run %s", run.RunID)
	}
	return nil
}

// RecentRuns returns the newest runs first. limit is clamped to
// [1, MaxHistoryLimit]; zero or negative means DefaultHistoryLimit.
func (h *RefreshHistory) RecentRuns(ctx context.Context, limit int) ([]models.RefreshRun, error) {
	runs := []models.RefreshRun{}
	if !h.Enabled() {
		return runs, nil
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	err := h.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list refresh runs")
	}
	return runs, nil
}

// RecordInvalidation stores the outcome of a prefix invalidation. result may
// be nil when the call failed before any key was listed.
func (h *RefreshHistory) RecordInvalidation(ctx context.Context, prefix string, result *InvalidationResult, cause error) error {
	if !h.Enabled() {
		return nil
	}

	row := models.CacheInvalidation{Prefix: prefix}
	if result != nil {
		row.Matched = result.Matched
		row.Deleted = result.Deleted
		row.FailedKeys = strings.Join(result.FailedKeys, ",")
	}
	if cause != nil {
		row.Error = cause.Error()
	}

	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "record invalidation of %q", prefix)
	}
	return nil
}

// RecentInvalidations returns the newest invalidation audits first
func (h *RefreshHistory) RecentInvalidations(ctx context.Context, limit int) ([]models.CacheInvalidation, error) {
	rows := []models.CacheInvalidation{}
	if !h.Enabled() {
		return rows, nil
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}

	if err := h.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list invalidations")
	}
	return rows, nil
}

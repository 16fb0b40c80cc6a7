package models

import (
	"time"

	"gorm.io/gorm"
)

// RefreshRun records one execution of the market indicator refresh
type RefreshRun struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      string    `gorm:"size:36;uniqueIndex;not null" json:"run_id"`
	Trigger    string    `gorm:"size:32;index" json:"trigger"` // morning, afternoon, manual
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// CacheInvalidation records one prefix invalidation issued by an operator
type CacheInvalidation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Prefix     string    `gorm:"size:255;index" json:"prefix"`
	Matched    int       `json:"matched"`
	Deleted    int       `json:"deleted"`
	FailedKeys string    `gorm:"type:text" json:"failed_keys,omitempty"` // comma separated
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MigrateRefreshModels runs migrations for refresh bookkeeping models
func MigrateRefreshModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&RefreshRun{},
		&CacheInvalidation{},
	)
}

package services

import (
	"context"
	"time"

	"cpls_refresh/logger"
	"cpls_refresh/models"
	"cpls_refresh/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// bookkeepingTimeout bounds history and archive writes after a refresh
const bookkeepingTimeout = 10 * time.Second

// Refresher performs one indicator refresh
type Refresher interface {
	Refresh(ctx context.Context) (*scheduler.Outcome, error)
}

// SnapshotArchiver stores the payload of a successful refresh
type SnapshotArchiver interface {
	SaveSnapshot(ctx context.Context, snap *IndicatorSnapshot) error
}

// IndicatorRefresh is the scheduler's refresh action. It calls the refresh
// endpoint, then records the run and archives the payload. Bookkeeping
// failures are logged and never change the refresh outcome.
type IndicatorRefresh struct {
	client  Refresher
	history *RefreshHistory
	archive SnapshotArchiver
	log     *zap.SugaredLogger
}

// NewIndicatorRefresh wires the refresh action. history and archive may be nil.
func NewIndicatorRefresh(client Refresher, history *RefreshHistory, archive SnapshotArchiver) *IndicatorRefresh {
	return &IndicatorRefresh{
		client:  client,
		history: history,
		archive: archive,
		log:     logger.Named("refresh"),
	}
}

// Run matches scheduler.Action
func (r *IndicatorRefresh) Run(ctx context.Context) (*scheduler.Outcome, error) {
	runID := uuid.NewString()
	trigger := scheduler.TriggerFromContext(ctx)
	started := time.Now()

	outcome, err := r.client.Refresh(ctx)
	finished := time.Now()

	// bookkeeping outlives a cancelled caller
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	run := &models.RefreshRun{
		RunID:      runID,
		Trigger:    trigger,
		Success:    err == nil,
		DurationMS: finished.Sub(started).Milliseconds(),
		StartedAt:  started,
		FinishedAt: finished,
	}
	if outcome != nil {
		run.StatusCode = outcome.StatusCode
	}
	if err != nil {
		run.Error = err.Error()
	}

	if recErr := r.history.RecordRun(bctx, run); recErr != nil {
		r.log.Warnw("Failed to record refresh run", logger.FieldRunID, runID, logger.FieldError, recErr)
	}

	if err == nil && r.archive != nil && outcome != nil && len(outcome.Payload) > 0 {
		r.saveSnapshot(bctx, runID, trigger, outcome)
	}

	return outcome, err
}

func (r *IndicatorRefresh) saveSnapshot(ctx context.Context, runID, trigger string, outcome *scheduler.Outcome) {
	snap, err := NewIndicatorSnapshot(runID, trigger, outcome.StatusCode, outcome.Payload)
	if err == nil {
		err = r.archive.SaveSnapshot(ctx, snap)
	}
	if err != nil {
		r.log.Warnw("Failed to archive refresh payload", logger.FieldRunID, runID, logger.FieldError, err)
		return
	}
	r.log.Debugw("Refresh payload archived", logger.FieldRunID, runID, logger.FieldTrigger, trigger)
}

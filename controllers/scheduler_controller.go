package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"cpls_refresh/errors"
	"cpls_refresh/scheduler"
	"cpls_refresh/services"

	"github.com/gin-gonic/gin"
)

// Control actions accepted by POST /scheduler
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionTest  = "test"
)

// SnapshotReader loads the archived payload of the latest successful refresh.
// A nil snapshot with a nil error means nothing has been archived yet.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (*services.IndicatorSnapshot, error)
}

// SchedulerController exposes the refresh scheduler over HTTP
type SchedulerController struct {
	scheduler *scheduler.Scheduler
	history   *services.RefreshHistory
	snapshots SnapshotReader
}

// NewSchedulerController creates a new scheduler controller. snapshots may be
// nil when no payload archive exists.
func NewSchedulerController(s *scheduler.Scheduler, history *services.RefreshHistory, snapshots SnapshotReader) *SchedulerController {
	return &SchedulerController{scheduler: s, history: history, snapshots: snapshots}
}

// GetStatus returns the current job set
// GET /scheduler
func (sc *SchedulerController) GetStatus(c *gin.Context) {
	report := sc.scheduler.Status()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"jobs":      report.Jobs,
		"totalJobs": report.TotalJobs,
		"timezone":  sc.scheduler.Timezone(),
	})
}

// Control runs a lifecycle action
// POST /scheduler {"action": "start" | "stop" | "test"}
func (sc *SchedulerController) Control(c *gin.Context) {
	var request struct {
		Action string `json:"action" binding:"required"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_request",
			"message": "Request body must be JSON with an action: start, stop or test",
		})
		return
	}

	switch strings.ToLower(strings.TrimSpace(request.Action)) {
	case ActionStart:
		result, err := sc.scheduler.Start()
		if err != nil {
			respondError(c, err, gin.H{"totalJobs": sc.scheduler.Status().TotalJobs})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"message":   "Scheduler started",
			"schedules": result.Schedules,
			"timezone":  result.Timezone,
			"totalJobs": len(result.Schedules),
		})

	case ActionStop:
		stopped := sc.scheduler.Stop()
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"message":     "Scheduler stopped",
			"stoppedJobs": stopped,
			"totalJobs":   0,
		})

	case ActionTest:
		// a client disconnect must not abort the refresh it asked for
		outcome, err := sc.scheduler.FireOnce(context.WithoutCancel(c.Request.Context()))
		extra := gin.H{}
		if outcome != nil {
			extra["statusCode"] = outcome.StatusCode
			if len(outcome.Payload) > 0 {
				extra["payload"] = outcome.Payload
			}
		}
		if err != nil {
			respondError(c, err, extra)
			return
		}
		extra["success"] = true
		extra["message"] = "Refresh completed"
		c.JSON(http.StatusOK, extra)

	default:
		err := errors.WithHint(
			errors.Mark(errors.Newf("unknown action %q", request.Action), errors.ErrInvalidAction),
			"valid actions are start, stop and test",
		)
		respondError(c, err, nil)
	}
}

// Clear stops and clears every scheduled job
// DELETE /scheduler
func (sc *SchedulerController) Clear(c *gin.Context) {
	stopped := sc.scheduler.Stop()

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "All scheduled jobs cleared",
		"stoppedJobs": stopped,
		"totalJobs":   0,
	})
}

// GetHistory lists recent refresh runs
// GET /scheduler/history?limit=20
func (sc *SchedulerController) GetHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultHistoryLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_request",
			"message": "limit must be a positive integer",
		})
		return
	}

	runs, err := sc.history.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    runs,
		"count":   len(runs),
		"enabled": sc.history.Enabled(),
	})
}

// GetSnapshot returns the archived payload of the latest successful refresh
// GET /scheduler/snapshot
func (sc *SchedulerController) GetSnapshot(c *gin.Context) {
	if sc.snapshots == nil {
		respondError(c, errors.Mark(errors.New("payload archive not configured"), errors.ErrConfigurationMissing), nil)
		return
	}

	snap, err := sc.snapshots.LatestSnapshot(c.Request.Context())
	if err != nil {
		respondError(c, err, nil)
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not_found",
			"message": "No refresh snapshot archived yet",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    snap,
	})
}

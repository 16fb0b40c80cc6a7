package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cpls_refresh/logger"
	"cpls_refresh/services"

	"github.com/gin-gonic/gin"
)

// CacheController exposes prefix invalidation to operators
type CacheController struct {
	invalidator *services.CacheInvalidator
	history     *services.RefreshHistory
	prefix      string
}

// NewCacheController creates a cache controller that clears prefix
func NewCacheController(invalidator *services.CacheInvalidator, history *services.RefreshHistory, prefix string) *CacheController {
	return &CacheController{
		invalidator: invalidator,
		history:     history,
		prefix:      prefix,
	}
}

// Invalidate deletes every cache entry under the configured prefix
// POST /cache/invalidate
func (cc *CacheController) Invalidate(c *gin.Context) {
	ctx := c.Request.Context()
	result, err := cc.invalidator.ClearByPrefix(ctx, cc.prefix)

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if auditErr := cc.history.RecordInvalidation(auditCtx, cc.prefix, result, err); auditErr != nil {
		logger.Logger.Warnw("Failed to record cache invalidation",
			logger.FieldPrefix, cc.prefix,
			logger.FieldError, auditErr,
		)
	}

	if err != nil {
		extra := gin.H{"prefix": cc.prefix}
		if result != nil {
			extra["deletedCount"] = result.Deleted
			extra["failedKeys"] = result.FailedKeys
		}
		respondError(c, err, extra)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      fmt.Sprintf("Cleared %d cache entries", result.Deleted),
		"prefix":       result.Prefix,
		"deletedCount": result.Deleted,
		"failedKeys":   result.FailedKeys,
	})
}

// GetInvalidations lists recent invalidation audits
// GET /cache/invalidations?limit=20
func (cc *CacheController) GetInvalidations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultHistoryLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_request",
			"message": "limit must be a positive integer",
		})
		return
	}

	rows, err := cc.history.RecentInvalidations(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
		"count":   len(rows),
		"enabled": cc.history.Enabled(),
	})
}

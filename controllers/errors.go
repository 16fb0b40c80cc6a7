package controllers

import (
	"net/http"

	"cpls_refresh/errors"

	"github.com/gin-gonic/gin"
)

// errorStatus maps an error kind to the HTTP status returned to operators
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action"
	case errors.Is(err, errors.ErrConfigurationMissing):
		return http.StatusServiceUnavailable, "configuration_missing"
	case errors.Is(err, errors.ErrPartialInvalidation):
		return http.StatusBadGateway, "partial_invalidation"
	case errors.IsAny(err, errors.ErrTransport, errors.ErrRefreshRejected, errors.ErrStoreRejected):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes a failure body. extra fields are merged in.
func respondError(c *gin.Context, err error, extra gin.H) {
	status, code := errorStatus(err)

	body := gin.H{
		"success": false,
		"error":   code,
		"message": err.Error(),
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body["hint"] = errors.FlattenHints(err)
	}
	for k, v := range extra {
		body[k] = v
	}

	c.JSON(status, body)
}

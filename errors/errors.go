// Package errors re-exports github.com/cockroachdb/errors and defines the
// error kinds shared by the scheduler, the cache invalidator and the control
// surface.
//
// Classify with Is:
//
//	if errors.Is(err, errors.ErrConfigurationMissing) {
//	    // 503
//	}
//
// Mark attaches a kind to an error without changing its message:
//
//	return errors.Mark(errors.Wrap(err, "delete key"), errors.ErrTransport)
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New    = crdb.New
	Newf   = crdb.Newf
	Wrap   = crdb.Wrap
	Wrapf  = crdb.Wrapf
	Mark   = crdb.Mark
	Join   = crdb.Join
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap

	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Error kinds.
var (
	// ErrConfigurationMissing means required credentials or endpoints are not
	// configured. Raised before any network call.
	ErrConfigurationMissing = New("configuration missing")
	// ErrTransport is a network failure talking to the refresh endpoint or the
	// key-value store.
	ErrTransport = New("transport error")
	// ErrRefreshRejected is a non-2xx reply from the refresh endpoint.
	ErrRefreshRejected = New("refresh rejected")
	// ErrStoreRejected is an error reply from the key-value store.
	ErrStoreRejected = New("store rejected command")
	// ErrInvalidAction is an unknown control-surface action.
	ErrInvalidAction = New("invalid action")
	// ErrPartialInvalidation means some matching keys could not be deleted.
	// Keys that were deleted stay deleted.
	ErrPartialInvalidation = New("partial invalidation failure")
)

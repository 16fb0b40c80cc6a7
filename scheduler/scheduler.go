// Package scheduler keeps the market indicator dataset fresh.
// It handles:
// - Arming the morning and afternoon refresh triggers in a fixed timezone
// - Replacing the whole job set on every start
// - Stopping all triggers and cancelling their generation
// - Out-of-band test firing of the refresh action
//
// The Scheduler itself lives in refresh.go, the cron-backed Trigger in trigger.go.
package scheduler

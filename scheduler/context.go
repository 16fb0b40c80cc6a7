package scheduler

import "context"

// Trigger names. Morning and afternoon name the canonical jobs; manual names
// executions started through FireOnce.
const (
	TriggerMorning   = "morning"
	TriggerAfternoon = "afternoon"
	TriggerManual    = "manual"
)

type triggerKey struct{}

// WithTrigger tags ctx with the name of the trigger that started a refresh.
func WithTrigger(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, triggerKey{}, name)
}

// TriggerFromContext returns the trigger name stored by WithTrigger, or
// TriggerManual when none is set.
func TriggerFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(triggerKey{}).(string); ok && name != "" {
		return name
	}
	return TriggerManual
}

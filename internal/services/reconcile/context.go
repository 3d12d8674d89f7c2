package reconcile

import "context"

type cycleIDKey struct{}

// WithCycleID tags ctx with the id of the running sync cycle
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// CycleIDFrom returns the cycle id stored by WithCycleID, or ""
func CycleIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey{}).(string)
	return id
}

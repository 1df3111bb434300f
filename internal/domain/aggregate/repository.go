package aggregate

import "context"

// Repository describes aggregate bookkeeping needs from use cases.
type Repository interface {
	ListStates(ctx context.Context) ([]State, error)
	GetState(ctx context.Context, name string) (State, bool, error)
	SaveState(ctx context.Context, state State) error

	// SourceVersions returns the current value of every source counter.
	SourceVersions(ctx context.Context) (map[string]int64, error)

	// TryAcquireLock inserts the lock row if absent. On contention it
	// returns acquired=false together with the current holder.
	TryAcquireLock(ctx context.Context, name, holder string) (acquired bool, current Lock, err error)
	ReleaseLock(ctx context.Context, name, holder string) error
	ForceReleaseLock(ctx context.Context, name string) error
}

// ViewRefresher executes the actual materialized view rebuild.
type ViewRefresher interface {
	RefreshView(ctx context.Context, viewName string, mode RefreshMode) error
}

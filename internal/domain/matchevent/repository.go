package matchevent

import "context"

// Repository describes match event persistence needs from use cases.
// ListByMatch returns events ordered by (period, minute, extra minute,
// sequence); replay correctness depends on that ordering.
type Repository interface {
	ListByMatch(ctx context.Context, matchID int64) ([]Event, error)
	ListEnrichedByMatch(ctx context.Context, matchID int64) ([]EnrichedEvent, error)
}

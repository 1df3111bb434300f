package referee

import "context"

// Repository describes referee persistence needs from use cases.
type Repository interface {
	ListByMatch(ctx context.Context, matchID int64) ([]Referee, error)
}

package team

import "context"

// Repository describes team persistence needs from use cases.
type Repository interface {
	GetByID(ctx context.Context, teamID int64) (Team, bool, error)
	ListByIDs(ctx context.Context, teamIDs []int64) ([]Team, error)
}

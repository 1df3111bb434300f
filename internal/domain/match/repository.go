package match

import "context"

// Repository describes match persistence needs from use cases.
type Repository interface {
	GetByID(ctx context.Context, matchID int64) (Match, bool, error)
	ListIDsBySeason(ctx context.Context, seasonID int64) ([]int64, error)
	ListPendingEnrichment(ctx context.Context, seasonID int64) ([]int64, error)
}

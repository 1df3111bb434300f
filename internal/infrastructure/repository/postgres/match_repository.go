package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cardsight/cardsight/internal/domain/match"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

type MatchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) GetByID(ctx context.Context, matchID int64) (match.Match, bool, error) {
	query, args, err := qb.Select("*").From("matches").
		Where(qb.Eq("id", matchID)).
		ToSQL()
	if err != nil {
		return match.Match{}, false, fmt.Errorf("build select match query: %w", err)
	}

	var row matchTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return match.Match{}, false, nil
		}
		return match.Match{}, false, fmt.Errorf("select match id=%d: %w", matchID, err)
	}

	return row.toDomain(), true, nil
}

func (r *MatchRepository) ListIDsBySeason(ctx context.Context, seasonID int64) ([]int64, error) {
	query, args, err := qb.Select("id").From("matches").
		Where(qb.Eq("season_id", seasonID)).
		OrderBy("id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select match ids query: %w", err)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("select match ids season_id=%d: %w", seasonID, err)
	}
	return ids, nil
}

// ListPendingEnrichment returns matches whose timeline changed since their
// last replay. A zero seasonID means every season.
func (r *MatchRepository) ListPendingEnrichment(ctx context.Context, seasonID int64) ([]int64, error) {
	conditions := []qb.Condition{
		qb.In("enrichment_status", []any{match.EnrichmentNotStarted, match.EnrichmentInProgress}),
	}
	if seasonID > 0 {
		conditions = append(conditions, qb.Eq("season_id", seasonID))
	}

	query, args, err := qb.Select("id").From("matches").
		Where(conditions...).
		OrderBy("id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select pending matches query: %w", err)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("select pending matches: %w", err)
	}
	return ids, nil
}

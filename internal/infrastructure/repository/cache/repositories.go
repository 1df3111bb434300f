package cache

import (
	"context"
	"strconv"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
	basecache "github.com/cardsight/cardsight/internal/platform/cache"
)

// Read-through decorators for the timeline read path. Matches themselves are
// deliberately not decorated: their enrichment status changes between reads
// and a stale status would misreport timeline completeness.

type TeamRepository struct {
	next  team.Repository
	cache *basecache.Store
}

func NewTeamRepository(next team.Repository, cache *basecache.Store) *TeamRepository {
	return &TeamRepository{next: next, cache: cache}
}

func (r *TeamRepository) GetByID(ctx context.Context, teamID int64) (team.Team, bool, error) {
	key := teamByIDKey(teamID)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		item, exists, err := r.next.GetByID(ctx, teamID)
		if err != nil {
			return nil, err
		}
		return cachedTeamByID{value: item, exists: exists}, nil
	})
	if err != nil {
		return team.Team{}, false, err
	}

	cached, _ := v.(cachedTeamByID)
	return cached.value, cached.exists, nil
}

func (r *TeamRepository) ListByIDs(ctx context.Context, teamIDs []int64) ([]team.Team, error) {
	out := make([]team.Team, 0, len(teamIDs))
	missing := make([]int64, 0, len(teamIDs))
	for _, teamID := range teamIDs {
		if v, ok := r.cache.Get(ctx, teamByIDKey(teamID)); ok {
			if cached, ok := v.(cachedTeamByID); ok && cached.exists {
				out = append(out, cached.value)
			}
			continue
		}
		missing = append(missing, teamID)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := r.next.ListByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	loadedByID := make(map[int64]team.Team, len(loaded))
	for _, item := range loaded {
		loadedByID[item.ID] = item
		r.cache.Set(ctx, teamByIDKey(item.ID), cachedTeamByID{value: item, exists: true})
		out = append(out, item)
	}
	for _, teamID := range missing {
		if _, ok := loadedByID[teamID]; !ok {
			r.cache.Set(ctx, teamByIDKey(teamID), cachedTeamByID{})
		}
	}
	return out, nil
}

type cachedTeamByID struct {
	value  team.Team
	exists bool
}

func teamByIDKey(teamID int64) string {
	return "team:id:" + strconv.FormatInt(teamID, 10)
}

type RefereeRepository struct {
	next  referee.Repository
	cache *basecache.Store
}

func NewRefereeRepository(next referee.Repository, cache *basecache.Store) *RefereeRepository {
	return &RefereeRepository{next: next, cache: cache}
}

func (r *RefereeRepository) ListByMatch(ctx context.Context, matchID int64) ([]referee.Referee, error) {
	key := "referee:match:" + strconv.FormatInt(matchID, 10)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListByMatch(ctx, matchID)
		if err != nil {
			return nil, err
		}
		return append([]referee.Referee(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]referee.Referee)
	return append([]referee.Referee(nil), items...), nil
}

// MatchSeasonIndex caches only the id listing per season, which is stable
// between ingestion runs. Everything else passes through.
type MatchSeasonIndex struct {
	next  match.Repository
	cache *basecache.Store
}

func NewMatchSeasonIndex(next match.Repository, cache *basecache.Store) *MatchSeasonIndex {
	return &MatchSeasonIndex{next: next, cache: cache}
}

func (r *MatchSeasonIndex) GetByID(ctx context.Context, matchID int64) (match.Match, bool, error) {
	return r.next.GetByID(ctx, matchID)
}

func (r *MatchSeasonIndex) ListPendingEnrichment(ctx context.Context, seasonID int64) ([]int64, error) {
	return r.next.ListPendingEnrichment(ctx, seasonID)
}

func (r *MatchSeasonIndex) ListIDsBySeason(ctx context.Context, seasonID int64) ([]int64, error) {
	key := "match:season-ids:" + strconv.FormatInt(seasonID, 10)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		ids, err := r.next.ListIDsBySeason(ctx, seasonID)
		if err != nil {
			return nil, err
		}
		return append([]int64(nil), ids...), nil
	})
	if err != nil {
		return nil, err
	}

	ids, _ := v.([]int64)
	return append([]int64(nil), ids...), nil
}

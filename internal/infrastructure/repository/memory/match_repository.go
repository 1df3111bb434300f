package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cardsight/cardsight/internal/domain/match"
)

type MatchRepository struct {
	mu      sync.RWMutex
	matches map[int64]match.Match
}

func NewMatchRepository(matches []match.Match) *MatchRepository {
	byID := make(map[int64]match.Match, len(matches))
	for _, item := range matches {
		if item.EnrichmentStatus == "" {
			item.EnrichmentStatus = match.EnrichmentNotStarted
		}
		byID[item.ID] = item
	}
	return &MatchRepository{matches: byID}
}

func (r *MatchRepository) GetByID(_ context.Context, matchID int64) (match.Match, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.matches[matchID]
	return item, ok, nil
}

func (r *MatchRepository) ListIDsBySeason(_ context.Context, seasonID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.matches))
	for _, item := range r.matches {
		if item.SeasonID == seasonID {
			out = append(out, item.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *MatchRepository) ListPendingEnrichment(_ context.Context, seasonID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.matches))
	for _, item := range r.matches {
		if seasonID > 0 && item.SeasonID != seasonID {
			continue
		}
		if item.EnrichmentStatus == match.EnrichmentNotStarted || item.EnrichmentStatus == match.EnrichmentInProgress {
			out = append(out, item.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *MatchRepository) Upsert(_ context.Context, item match.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.EnrichmentStatus == "" {
		if existing, ok := r.matches[item.ID]; ok {
			item.EnrichmentStatus = existing.EnrichmentStatus
		} else {
			item.EnrichmentStatus = match.EnrichmentNotStarted
		}
	}
	r.matches[item.ID] = item
	return nil
}

func (r *MatchRepository) setEnrichment(matchID int64, status, warning string, enrichedAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.matches[matchID]
	if !ok {
		return
	}
	item.EnrichmentStatus = status
	item.EnrichmentWarning = warning
	item.EnrichedAt = enrichedAt
	r.matches[matchID] = item
}

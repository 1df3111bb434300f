package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
)

type MatchEventRepository struct {
	mu       sync.RWMutex
	matches  *MatchRepository
	events   map[int64][]matchevent.Event
	enriched map[int64][]matchevent.EnrichedEvent
}

func NewMatchEventRepository(matches *MatchRepository, events []matchevent.Event) *MatchEventRepository {
	byMatch := make(map[int64][]matchevent.Event)
	for _, item := range events {
		byMatch[item.MatchID] = append(byMatch[item.MatchID], item)
	}
	return &MatchEventRepository{
		matches:  matches,
		events:   byMatch,
		enriched: make(map[int64][]matchevent.EnrichedEvent),
	}
}

func (r *MatchEventRepository) ListByMatch(_ context.Context, matchID int64) ([]matchevent.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.events[matchID]
	out := make([]matchevent.Event, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID < out[j].PeriodID
		}
		if out[i].Minute != out[j].Minute {
			return out[i].Minute < out[j].Minute
		}
		if out[i].ExtraMinute != out[j].ExtraMinute {
			return out[i].ExtraMinute < out[j].ExtraMinute
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (r *MatchEventRepository) ListEnrichedByMatch(_ context.Context, matchID int64) ([]matchevent.EnrichedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.enriched[matchID]
	out := make([]matchevent.EnrichedEvent, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *MatchEventRepository) ReplaceEvents(_ context.Context, matchID int64, events []matchevent.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]matchevent.Event, len(events))
	copy(rows, events)
	r.events[matchID] = rows
	return nil
}

func (r *MatchEventRepository) MarkEnrichmentInProgress(_ context.Context, matchID int64) error {
	if r.matches != nil {
		r.matches.setEnrichment(matchID, match.EnrichmentInProgress, "", nil)
	}
	return nil
}

func (r *MatchEventRepository) ReplaceEnriched(_ context.Context, matchID int64, rows []matchevent.EnrichedEvent, status string, warning string) error {
	r.mu.Lock()
	stored := make([]matchevent.EnrichedEvent, len(rows))
	copy(stored, rows)
	r.enriched[matchID] = stored
	r.mu.Unlock()

	if r.matches != nil {
		now := time.Now().UTC()
		r.matches.setEnrichment(matchID, status, warning, &now)
	}
	return nil
}

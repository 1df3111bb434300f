package usecase

import (
	"context"
	"fmt"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
)

type TimelineService struct {
	matches  match.Repository
	events   matchevent.Repository
	teams    team.Repository
	referees referee.Repository
}

func NewTimelineService(
	matches match.Repository,
	events matchevent.Repository,
	teams team.Repository,
	referees referee.Repository,
) *TimelineService {
	return &TimelineService{
		matches:  matches,
		events:   events,
		teams:    teams,
		referees: referees,
	}
}

// TimelineEntry is one event joined with its derived context. Enriched is
// false when the match has not been replayed since the event arrived.
type TimelineEntry struct {
	Event    matchevent.Event
	Enriched bool
	Context  matchevent.EnrichedEvent
}

type MatchTimeline struct {
	Match    match.Match
	HomeTeam *team.Team
	AwayTeam *team.Team
	Referees []referee.Referee
	Entries  []TimelineEntry
}

func (s *TimelineService) MatchTimeline(ctx context.Context, matchID int64) (MatchTimeline, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TimelineService.MatchTimeline")
	defer span.End()

	if matchID <= 0 {
		return MatchTimeline{}, fmt.Errorf("%w: match_id is required", ErrInvalidInput)
	}

	row, found, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return MatchTimeline{}, fmt.Errorf("load match: %w", err)
	}
	if !found {
		return MatchTimeline{}, fmt.Errorf("%w: match_id=%d", ErrNotFound, matchID)
	}

	out := MatchTimeline{Match: row}

	teams, err := s.teams.ListByIDs(ctx, []int64{row.HomeTeamID, row.AwayTeamID})
	if err != nil {
		return MatchTimeline{}, fmt.Errorf("load match teams: %w", err)
	}
	for idx := range teams {
		switch teams[idx].ID {
		case row.HomeTeamID:
			out.HomeTeam = &teams[idx]
		case row.AwayTeamID:
			out.AwayTeam = &teams[idx]
		}
	}

	out.Referees, err = s.referees.ListByMatch(ctx, matchID)
	if err != nil {
		return MatchTimeline{}, fmt.Errorf("load match referees: %w", err)
	}

	events, err := s.events.ListByMatch(ctx, matchID)
	if err != nil {
		return MatchTimeline{}, fmt.Errorf("load match events: %w", err)
	}
	sortEventsForReplay(events)

	enriched, err := s.events.ListEnrichedByMatch(ctx, matchID)
	if err != nil {
		return MatchTimeline{}, fmt.Errorf("load enriched events: %w", err)
	}
	enrichedByEvent := make(map[int64]matchevent.EnrichedEvent, len(enriched))
	for _, item := range enriched {
		enrichedByEvent[item.EventID] = item
	}

	out.Entries = make([]TimelineEntry, 0, len(events))
	for _, event := range events {
		entry := TimelineEntry{Event: event}
		if derived, ok := enrichedByEvent[event.ID]; ok {
			entry.Enriched = true
			entry.Context = derived
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

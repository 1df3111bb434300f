package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
	matchmock "github.com/cardsight/cardsight/internal/mocks/domain/match"
	matcheventmock "github.com/cardsight/cardsight/internal/mocks/domain/matchevent"
	refereemock "github.com/cardsight/cardsight/internal/mocks/domain/referee"
	teammock "github.com/cardsight/cardsight/internal/mocks/domain/team"
)

func TestTimelineService_MatchTimeline_SuccessUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	eventRepo := matcheventmock.NewRepository(t)
	teamRepo := teammock.NewRepository(t)
	refereeRepo := refereemock.NewRepository(t)

	service := NewTimelineService(matchRepo, eventRepo, teamRepo, refereeRepo)

	matchID := int64(101)
	row := match.Match{
		ID:               matchID,
		CompetitionID:    8,
		SeasonID:         25583,
		Name:             "Arsenal vs Chelsea",
		KickoffAt:        time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC),
		Status:           match.StatusFinished,
		HomeTeamID:       10,
		AwayTeamID:       11,
		EnrichmentStatus: match.EnrichmentComplete,
	}

	matchRepo.
		On("GetByID", mock.Anything, matchID).
		Return(row, true, nil).
		Once()
	teamRepo.
		On("ListByIDs", mock.Anything, []int64{10, 11}).
		Return([]team.Team{{ID: 10, Name: "Arsenal"}, {ID: 11, Name: "Chelsea"}}, nil).
		Once()
	refereeRepo.
		On("ListByMatch", mock.Anything, matchID).
		Return([]referee.Referee{{ID: 6, Name: "Michael Oliver"}}, nil).
		Once()
	eventRepo.
		On("ListByMatch", mock.Anything, matchID).
		Return([]matchevent.Event{
			{ID: 9001, MatchID: matchID, TeamID: 10, TypeID: matchevent.TypeGoal, PeriodID: 1, Minute: 23, Sequence: 1},
		}, nil).
		Once()
	eventRepo.
		On("ListEnrichedByMatch", mock.Anything, matchID).
		Return([]matchevent.EnrichedEvent{
			{EventID: 9001, MatchID: matchID, ScoreHomeAt: 0, ScoreAwayAt: 0, ManpowerHomeAfter: 11, ManpowerAwayAfter: 11, MinuteBucket: "16-30"},
		}, nil).
		Once()

	got, err := service.MatchTimeline(ctx, matchID)
	if err != nil {
		t.Fatalf("match timeline: %v", err)
	}
	if got.HomeTeam == nil || got.HomeTeam.Name != "Arsenal" {
		t.Fatalf("unexpected home team: %+v", got.HomeTeam)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("unexpected entry count: got=%d want=1", len(got.Entries))
	}
	if !got.Entries[0].Enriched || got.Entries[0].Context.MinuteBucket != "16-30" {
		t.Fatalf("unexpected entry context: %+v", got.Entries[0])
	}
}

func TestTimelineService_MatchTimeline_EventLoadFailureUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	eventRepo := matcheventmock.NewRepository(t)
	teamRepo := teammock.NewRepository(t)
	refereeRepo := refereemock.NewRepository(t)

	service := NewTimelineService(matchRepo, eventRepo, teamRepo, refereeRepo)

	matchID := int64(101)
	matchRepo.
		On("GetByID", mock.Anything, matchID).
		Return(match.Match{ID: matchID, SeasonID: 25583, HomeTeamID: 10, AwayTeamID: 11}, true, nil).
		Once()
	teamRepo.
		On("ListByIDs", mock.Anything, []int64{10, 11}).
		Return([]team.Team{}, nil).
		Once()
	refereeRepo.
		On("ListByMatch", mock.Anything, matchID).
		Return([]referee.Referee{}, nil).
		Once()

	storeErr := errors.New("connection reset")
	eventRepo.
		On("ListByMatch", mock.Anything, matchID).
		Return(nil, storeErr).
		Once()

	_, err := service.MatchTimeline(ctx, matchID)
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected wrapped store error, got: %v", err)
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/infrastructure/repository/memory"
)

func intPtr(v int) *int { return &v }

func newEnrichmentFixture(t *testing.T, matches []match.Match, events []matchevent.Event) (*EnrichmentService, *memory.MatchRepository, *memory.MatchEventRepository) {
	t.Helper()

	matchRepo := memory.NewMatchRepository(matches)
	eventRepo := memory.NewMatchEventRepository(matchRepo, events)
	service := NewEnrichmentService(EnrichmentConfig{MaxWorkers: 2}, matchRepo, eventRepo, eventRepo, nil)
	return service, matchRepo, eventRepo
}

func TestEnrich_ReplayScoreAndManpower(t *testing.T) {
	kickoff := time.Date(2026, time.March, 7, 15, 0, 0, 0, time.UTC)
	matches := []match.Match{{
		ID:         101,
		SeasonID:   25583,
		KickoffAt:  kickoff,
		Status:     match.StatusFinished,
		HomeTeamID: 10,
		AwayTeamID: 20,
		HomeScore:  intPtr(2),
		AwayScore:  intPtr(2),
	}}
	events := []matchevent.Event{
		{ID: 1, MatchID: 101, TeamID: 10, TypeID: matchevent.TypeGoal, PeriodID: 1, Minute: 12, Sequence: 1},
		{ID: 2, MatchID: 101, TeamID: 10, TypeID: matchevent.TypeOwnGoal, PeriodID: 1, Minute: 30, Sequence: 2},
		{ID: 3, MatchID: 101, TeamID: 20, TypeID: matchevent.TypeRedCard, PeriodID: 2, Minute: 55, Sequence: 3},
		{ID: 4, MatchID: 101, TeamID: 10, TypeID: matchevent.TypeSecondYellow, PeriodID: 2, Minute: 70, Sequence: 4},
		{ID: 5, MatchID: 101, TeamID: 20, TypeID: matchevent.TypePenalty, PeriodID: 2, Minute: 78, Sequence: 5, Rescinded: true},
		{ID: 6, MatchID: 101, TeamID: 10, TypeID: matchevent.TypeGoal, PeriodID: 2, Minute: 85, Sequence: 6},
		{ID: 7, MatchID: 101, TeamID: 20, TypeID: matchevent.TypeGoal, PeriodID: 2, Minute: 90, ExtraMinute: 3, Sequence: 7},
	}
	service, matchRepo, eventRepo := newEnrichmentFixture(t, matches, events)

	result, err := service.Enrich(context.Background(), 101)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if result.Status != match.EnrichmentComplete {
		t.Fatalf("unexpected status: got=%s want=%s", result.Status, match.EnrichmentComplete)
	}
	if result.EventCount != len(events) {
		t.Fatalf("unexpected event count: got=%d want=%d", result.EventCount, len(events))
	}

	rows, err := eventRepo.ListEnrichedByMatch(context.Background(), 101)
	if err != nil {
		t.Fatalf("list enriched: %v", err)
	}
	if len(rows) != len(events) {
		t.Fatalf("unexpected enriched row count: got=%d want=%d", len(rows), len(events))
	}

	type want struct {
		scoreHome, scoreAway       int
		manpowerHome, manpowerAway int
		bucket                     string
	}
	expected := map[int64]want{
		1: {0, 0, 11, 11, "0-15"},  // score captured before the opening goal
		2: {1, 0, 11, 11, "16-30"}, // own goal credits the away side after this row
		3: {1, 1, 11, 10, "46-60"},
		4: {1, 1, 10, 10, "61-75"},
		5: {1, 1, 10, 10, "76-90"}, // rescinded penalty leaves both counters alone
		6: {1, 1, 10, 10, "76-90"},
		7: {2, 1, 10, 10, "76-90"}, // second-half injury time folds into the last bin
	}
	for _, row := range rows {
		exp, ok := expected[row.EventID]
		if !ok {
			t.Fatalf("unexpected enriched event id %d", row.EventID)
		}
		if row.ScoreHomeAt != exp.scoreHome || row.ScoreAwayAt != exp.scoreAway {
			t.Fatalf("event %d score: got=%d-%d want=%d-%d", row.EventID, row.ScoreHomeAt, row.ScoreAwayAt, exp.scoreHome, exp.scoreAway)
		}
		if row.ManpowerHomeAfter != exp.manpowerHome || row.ManpowerAwayAfter != exp.manpowerAway {
			t.Fatalf("event %d manpower: got=%d/%d want=%d/%d", row.EventID, row.ManpowerHomeAfter, row.ManpowerAwayAfter, exp.manpowerHome, exp.manpowerAway)
		}
		if row.MinuteBucket != exp.bucket {
			t.Fatalf("event %d bucket: got=%s want=%s", row.EventID, row.MinuteBucket, exp.bucket)
		}
		if row.ContextSummary == "" {
			t.Fatalf("event %d has empty context summary", row.EventID)
		}
	}

	stored, found, err := matchRepo.GetByID(context.Background(), 101)
	if err != nil || !found {
		t.Fatalf("load match after enrich: found=%v err=%v", found, err)
	}
	if stored.EnrichmentStatus != match.EnrichmentComplete {
		t.Fatalf("match enrichment status: got=%s want=%s", stored.EnrichmentStatus, match.EnrichmentComplete)
	}
	if stored.EnrichedAt == nil {
		t.Fatalf("match enriched_at was not set")
	}
}

func TestEnrich_FinalScoreMismatchWarns(t *testing.T) {
	matches := []match.Match{{
		ID:         102,
		SeasonID:   25583,
		Status:     match.StatusFinished,
		HomeTeamID: 10,
		AwayTeamID: 20,
		HomeScore:  intPtr(2),
		AwayScore:  intPtr(0),
	}}
	events := []matchevent.Event{
		{ID: 1, MatchID: 102, TeamID: 10, TypeID: matchevent.TypeGoal, PeriodID: 1, Minute: 20, Sequence: 1},
	}
	service, matchRepo, eventRepo := newEnrichmentFixture(t, matches, events)

	result, err := service.Enrich(context.Background(), 102)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if result.Status != match.EnrichmentCompleteWithWarning {
		t.Fatalf("unexpected status: got=%s want=%s", result.Status, match.EnrichmentCompleteWithWarning)
	}
	if result.Warning == "" {
		t.Fatalf("expected replay mismatch warning")
	}

	// The inconsistent replay is still persisted; only the status flags it.
	rows, err := eventRepo.ListEnrichedByMatch(context.Background(), 102)
	if err != nil {
		t.Fatalf("list enriched: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected enriched row count: got=%d want=1", len(rows))
	}

	stored, _, err := matchRepo.GetByID(context.Background(), 102)
	if err != nil {
		t.Fatalf("load match: %v", err)
	}
	if stored.EnrichmentStatus != match.EnrichmentCompleteWithWarning {
		t.Fatalf("match enrichment status: got=%s", stored.EnrichmentStatus)
	}
	if stored.EnrichmentWarning == "" {
		t.Fatalf("match enrichment warning was not persisted")
	}
}

func TestEnrich_UnfinishedMatchNeverWarns(t *testing.T) {
	matches := []match.Match{{
		ID:         103,
		SeasonID:   25583,
		Status:     match.StatusLive,
		HomeTeamID: 10,
		AwayTeamID: 20,
	}}
	events := []matchevent.Event{
		{ID: 1, MatchID: 103, TeamID: 20, TypeID: matchevent.TypeGoal, PeriodID: 1, Minute: 5, Sequence: 1},
	}
	service, _, _ := newEnrichmentFixture(t, matches, events)

	result, err := service.Enrich(context.Background(), 103)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if result.Status != match.EnrichmentComplete {
		t.Fatalf("unexpected status: got=%s want=%s", result.Status, match.EnrichmentComplete)
	}
}

func TestEnrich_ManpowerNeverDropsBelowZero(t *testing.T) {
	matches := []match.Match{{
		ID:         107,
		SeasonID:   25583,
		Status:     match.StatusLive,
		HomeTeamID: 10,
		AwayTeamID: 20,
	}}
	// Duplicated upstream dismissals for the away side, more than a squad
	// can hold.
	events := make([]matchevent.Event, 0, 13)
	for i := 0; i < 13; i++ {
		events = append(events, matchevent.Event{
			ID:       int64(i + 1),
			MatchID:  107,
			TeamID:   20,
			TypeID:   matchevent.TypeRedCard,
			PeriodID: 1,
			Minute:   i + 1,
			Sequence: i + 1,
		})
	}
	service, _, eventRepo := newEnrichmentFixture(t, matches, events)

	if _, err := service.Enrich(context.Background(), 107); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	rows, err := eventRepo.ListEnrichedByMatch(context.Background(), 107)
	if err != nil {
		t.Fatalf("list enriched: %v", err)
	}
	if len(rows) != len(events) {
		t.Fatalf("unexpected enriched row count: got=%d want=%d", len(rows), len(events))
	}
	for _, row := range rows {
		if row.ManpowerHomeAfter < 0 || row.ManpowerAwayAfter < 0 {
			t.Fatalf("manpower went negative at event %d: home=%d away=%d",
				row.EventID, row.ManpowerHomeAfter, row.ManpowerAwayAfter)
		}
	}
	last := rows[len(rows)-1]
	if last.ManpowerAwayAfter != 0 {
		t.Fatalf("unexpected final away manpower: got=%d want=0", last.ManpowerAwayAfter)
	}
	if last.ManpowerHomeAfter != 11 {
		t.Fatalf("unexpected final home manpower: got=%d want=11", last.ManpowerHomeAfter)
	}
}

func TestEnrich_RerunIsIdempotent(t *testing.T) {
	matches := []match.Match{{
		ID:         104,
		SeasonID:   25583,
		Status:     match.StatusFinished,
		HomeTeamID: 10,
		AwayTeamID: 20,
		HomeScore:  intPtr(1),
		AwayScore:  intPtr(0),
	}}
	events := []matchevent.Event{
		{ID: 1, MatchID: 104, TeamID: 10, TypeID: matchevent.TypeGoal, PeriodID: 1, Minute: 40, Sequence: 1},
	}
	service, _, eventRepo := newEnrichmentFixture(t, matches, events)

	first, err := service.Enrich(context.Background(), 104)
	if err != nil {
		t.Fatalf("first enrich: %v", err)
	}
	second, err := service.Enrich(context.Background(), 104)
	if err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	if first.Status != second.Status || first.EventCount != second.EventCount {
		t.Fatalf("rerun changed the result: first=%+v second=%+v", first, second)
	}

	rows, err := eventRepo.ListEnrichedByMatch(context.Background(), 104)
	if err != nil {
		t.Fatalf("list enriched: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rerun duplicated enriched rows: got=%d want=1", len(rows))
	}
}

func TestEnrich_MatchNotFound(t *testing.T) {
	service, _, _ := newEnrichmentFixture(t, nil, nil)

	_, err := service.Enrich(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingEnrichmentWriter forwards to the real writer except for one match,
// whose writes always fail.
type failingEnrichmentWriter struct {
	inner       *memory.MatchEventRepository
	failMatchID int64
}

func (w *failingEnrichmentWriter) MarkEnrichmentInProgress(ctx context.Context, matchID int64) error {
	if matchID == w.failMatchID {
		return fmt.Errorf("storage write rejected")
	}
	return w.inner.MarkEnrichmentInProgress(ctx, matchID)
}

func (w *failingEnrichmentWriter) ReplaceEnriched(ctx context.Context, matchID int64, rows []matchevent.EnrichedEvent, status string, warning string) error {
	if matchID == w.failMatchID {
		return fmt.Errorf("storage write rejected")
	}
	return w.inner.ReplaceEnriched(ctx, matchID, rows, status, warning)
}

func TestEnrichAll_IsolatesFailedMatches(t *testing.T) {
	matches := []match.Match{
		{ID: 201, SeasonID: 25583, Status: match.StatusFinished, HomeTeamID: 10, AwayTeamID: 20, HomeScore: intPtr(0), AwayScore: intPtr(0)},
		{ID: 202, SeasonID: 25583, Status: match.StatusFinished, HomeTeamID: 30, AwayTeamID: 40, HomeScore: intPtr(0), AwayScore: intPtr(0)},
		{ID: 203, SeasonID: 25583, Status: match.StatusFinished, HomeTeamID: 50, AwayTeamID: 60, HomeScore: intPtr(0), AwayScore: intPtr(0)},
	}
	matchRepo := memory.NewMatchRepository(matches)
	eventRepo := memory.NewMatchEventRepository(matchRepo, nil)
	writer := &failingEnrichmentWriter{inner: eventRepo, failMatchID: 202}
	service := NewEnrichmentService(EnrichmentConfig{MaxWorkers: 2}, matchRepo, eventRepo, writer, nil)

	report, err := service.EnrichAll(context.Background(), 25583)
	if err != nil {
		t.Fatalf("enrich all: %v", err)
	}
	if report.MatchCount != 3 {
		t.Fatalf("unexpected match count: got=%d want=3", report.MatchCount)
	}
	if report.SuccessCount != 2 || report.FailedCount != 1 {
		t.Fatalf("unexpected counts: success=%d failed=%d", report.SuccessCount, report.FailedCount)
	}
	if len(report.Results) != 3 {
		t.Fatalf("unexpected result count: got=%d want=3", len(report.Results))
	}
	for idx := 1; idx < len(report.Results); idx++ {
		if report.Results[idx-1].MatchID > report.Results[idx].MatchID {
			t.Fatalf("results are not sorted by match id: %+v", report.Results)
		}
	}
}

func TestEnrichAll_SkipsCompletedMatches(t *testing.T) {
	matches := []match.Match{
		{ID: 301, SeasonID: 25583, Status: match.StatusFinished, HomeTeamID: 10, AwayTeamID: 20, HomeScore: intPtr(0), AwayScore: intPtr(0), EnrichmentStatus: match.EnrichmentComplete},
		{ID: 302, SeasonID: 25583, Status: match.StatusFinished, HomeTeamID: 30, AwayTeamID: 40, HomeScore: intPtr(0), AwayScore: intPtr(0)},
	}
	service, _, _ := newEnrichmentFixture(t, matches, nil)

	report, err := service.EnrichAll(context.Background(), 25583)
	if err != nil {
		t.Fatalf("enrich all: %v", err)
	}
	if report.MatchCount != 1 {
		t.Fatalf("completed match was re-queued: match_count=%d", report.MatchCount)
	}
	if report.Results[0].MatchID != 302 {
		t.Fatalf("unexpected pending match: got=%d want=302", report.Results[0].MatchID)
	}
}

func TestMinuteBucket(t *testing.T) {
	cases := []struct {
		periodID    int64
		minute      int
		extraMinute int
		want        string
	}{
		{1, 1, 0, "0-15"},
		{1, 15, 0, "0-15"},
		{1, 16, 0, "16-30"},
		{1, 45, 0, "31-45"},
		{1, 45, 2, "31-45"},
		{2, 46, 0, "46-60"},
		{2, 61, 0, "61-75"},
		{2, 90, 0, "76-90"},
		{2, 90, 3, "76-90"},
		{3, 95, 0, "90+"},
		{3, 105, 2, "90+"},
	}
	for _, tc := range cases {
		got := minuteBucket(tc.periodID, tc.minute, tc.extraMinute)
		if got != tc.want {
			t.Fatalf("minuteBucket(%d, %d, %d): got=%s want=%s", tc.periodID, tc.minute, tc.extraMinute, got, tc.want)
		}
	}
}

package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/platform/logging"
)

const (
	defaultEnrichWorkers = 4
	maxEnrichWorkers     = 16

	startingManpower = 11
)

type EnrichmentConfig struct {
	MaxWorkers int
}

// enrichmentWriter persists one match's replay output atomically: the old
// enriched rows are replaced, the match enrichment state moves forward, and
// the enriched-events source version is bumped in the same transaction.
type enrichmentWriter interface {
	MarkEnrichmentInProgress(ctx context.Context, matchID int64) error
	ReplaceEnriched(ctx context.Context, matchID int64, rows []matchevent.EnrichedEvent, status string, warning string) error
}

type EnrichmentService struct {
	cfg     EnrichmentConfig
	matches match.Repository
	events  matchevent.Repository
	writer  enrichmentWriter
	logger  *logging.Logger
}

func NewEnrichmentService(
	cfg EnrichmentConfig,
	matches match.Repository,
	events matchevent.Repository,
	writer enrichmentWriter,
	logger *logging.Logger,
) *EnrichmentService {
	if logger == nil {
		logger = logging.Default()
	}
	return &EnrichmentService{
		cfg:     cfg,
		matches: matches,
		events:  events,
		writer:  writer,
		logger:  logger,
	}
}

type EnrichResult struct {
	MatchID    int64  `json:"match_id"`
	Status     string `json:"status"`
	EventCount int    `json:"event_count"`
	Warning    string `json:"warning,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type EnrichAllReport struct {
	MatchCount   int            `json:"match_count"`
	SuccessCount int            `json:"success_count"`
	WarningCount int            `json:"warning_count"`
	FailedCount  int            `json:"failed_count"`
	WorkerCount  int            `json:"worker_count"`
	Results      []EnrichResult `json:"results"`
}

// Enrich replays one match's event timeline in storage order and derives the
// per-event context fields. The replay always starts from scratch; derived
// rows have no identity of their own.
func (s *EnrichmentService) Enrich(ctx context.Context, matchID int64) (EnrichResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.EnrichmentService.Enrich")
	defer span.End()

	if matchID <= 0 {
		return EnrichResult{}, fmt.Errorf("%w: match_id is required", ErrInvalidInput)
	}
	if s.matches == nil || s.events == nil || s.writer == nil {
		return EnrichResult{}, fmt.Errorf("%w: enrichment service is not fully configured", ErrDependencyUnavailable)
	}

	start := time.Now()

	row, found, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return EnrichResult{}, fmt.Errorf("load match: %w", err)
	}
	if !found {
		return EnrichResult{}, fmt.Errorf("%w: match_id=%d", ErrNotFound, matchID)
	}

	if err := s.writer.MarkEnrichmentInProgress(ctx, matchID); err != nil {
		return EnrichResult{}, fmt.Errorf("mark match in progress: %w", err)
	}

	events, err := s.events.ListByMatch(ctx, matchID)
	if err != nil {
		return EnrichResult{}, fmt.Errorf("load match events: %w", err)
	}
	sortEventsForReplay(events)

	enriched, finalHome, finalAway, underflow := replayTimeline(row, events)
	if underflow {
		s.logger.WarnContext(ctx, "manpower underflow clamped at zero",
			"match_id", matchID,
		)
	}

	status := match.EnrichmentComplete
	warning := ""
	if row.Finished() && (*row.HomeScore != finalHome || *row.AwayScore != finalAway) {
		status = match.EnrichmentCompleteWithWarning
		warning = fmt.Sprintf(
			"replayed score %d-%d does not match reported final %d-%d",
			finalHome, finalAway, *row.HomeScore, *row.AwayScore,
		)
		s.logger.WarnContext(ctx, "replay score mismatch",
			"match_id", matchID,
			"replayed_home", finalHome,
			"replayed_away", finalAway,
			"reported_home", *row.HomeScore,
			"reported_away", *row.AwayScore,
		)
	}

	if err := s.writer.ReplaceEnriched(ctx, matchID, enriched, status, warning); err != nil {
		return EnrichResult{}, fmt.Errorf("replace enriched events: %w", err)
	}

	return EnrichResult{
		MatchID:    matchID,
		Status:     status,
		EventCount: len(enriched),
		Warning:    warning,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// EnrichAll replays every match pending enrichment. Matches are independent,
// so they run in parallel; one match failing never blocks the rest.
func (s *EnrichmentService) EnrichAll(ctx context.Context, seasonID int64) (EnrichAllReport, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.EnrichmentService.EnrichAll")
	defer span.End()

	if s.matches == nil || s.events == nil || s.writer == nil {
		return EnrichAllReport{}, fmt.Errorf("%w: enrichment service is not fully configured", ErrDependencyUnavailable)
	}

	matchIDs, err := s.matches.ListPendingEnrichment(ctx, seasonID)
	if err != nil {
		return EnrichAllReport{}, fmt.Errorf("list pending matches: %w", err)
	}

	workerCount := normalizeEnrichWorkerCount(s.cfg.MaxWorkers, len(matchIDs))
	report := EnrichAllReport{
		MatchCount:  len(matchIDs),
		WorkerCount: workerCount,
		Results:     make([]EnrichResult, 0, len(matchIDs)),
	}
	if len(matchIDs) == 0 {
		return report, nil
	}

	results := make(chan EnrichResult, len(matchIDs))

	var successCount atomic.Int32
	var warningCount atomic.Int32
	var failedCount atomic.Int32

	workers := pool.New().WithMaxGoroutines(workerCount)
	for _, matchID := range matchIDs {
		matchID := matchID
		workers.Go(func() {
			result, err := s.Enrich(ctx, matchID)
			if err != nil {
				failedCount.Add(1)
				s.logger.WarnContext(ctx, "enrich match failed", "match_id", matchID, "error", err)
				results <- EnrichResult{MatchID: matchID, Status: "failed", Warning: err.Error()}
				return
			}
			if result.Status == match.EnrichmentCompleteWithWarning {
				warningCount.Add(1)
			} else {
				successCount.Add(1)
			}
			results <- result
		})
	}
	workers.Wait()
	close(results)

	for result := range results {
		report.Results = append(report.Results, result)
	}
	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].MatchID < report.Results[j].MatchID
	})

	report.SuccessCount = int(successCount.Load())
	report.WarningCount = int(warningCount.Load())
	report.FailedCount = int(failedCount.Load())
	return report, nil
}

// replayTimeline walks the ordered events once. Each enriched row captures
// the score BEFORE its event applies and the manpower AFTER it applies;
// rescinded events are carried through without touching either counter.
// Manpower never drops below zero; a dismissal that would take it negative
// is absorbed and reported through the underflow flag instead.
func replayTimeline(row match.Match, events []matchevent.Event) ([]matchevent.EnrichedEvent, int, int, bool) {
	scoreHome, scoreAway := 0, 0
	manpowerHome, manpowerAway := startingManpower, startingManpower
	underflow := false

	out := make([]matchevent.EnrichedEvent, 0, len(events))
	for _, event := range events {
		enriched := matchevent.EnrichedEvent{
			EventID:      event.ID,
			MatchID:      event.MatchID,
			ScoreHomeAt:  scoreHome,
			ScoreAwayAt:  scoreAway,
			MinuteBucket: minuteBucket(event.PeriodID, event.Minute, event.ExtraMinute),
		}

		if !event.Rescinded {
			home := event.TeamID == row.HomeTeamID
			switch event.TypeID {
			case matchevent.TypeGoal, matchevent.TypePenalty:
				if home {
					scoreHome++
				} else {
					scoreAway++
				}
			case matchevent.TypeOwnGoal:
				// An own goal credits the opposing side.
				if home {
					scoreAway++
				} else {
					scoreHome++
				}
			case matchevent.TypeRedCard, matchevent.TypeSecondYellow:
				switch {
				case home && manpowerHome > 0:
					manpowerHome--
				case !home && manpowerAway > 0:
					manpowerAway--
				default:
					underflow = true
				}
			}
		}

		enriched.ManpowerHomeAfter = manpowerHome
		enriched.ManpowerAwayAfter = manpowerAway
		enriched.ContextSummary = contextSummary(enriched)
		out = append(out, enriched)
	}
	return out, scoreHome, scoreAway, underflow
}

func sortEventsForReplay(events []matchevent.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].PeriodID != events[j].PeriodID {
			return events[i].PeriodID < events[j].PeriodID
		}
		if events[i].Minute != events[j].Minute {
			return events[i].Minute < events[j].Minute
		}
		if events[i].ExtraMinute != events[j].ExtraMinute {
			return events[i].ExtraMinute < events[j].ExtraMinute
		}
		return events[i].Sequence < events[j].Sequence
	})
}

// minuteBucket bins the event minute in 15-minute widths. Injury time lands
// in the final bin of its period; extra-time periods all land in "90+".
func minuteBucket(periodID int64, minute int, extraMinute int) string {
	if periodID > 2 {
		return "90+"
	}
	if extraMinute > 0 {
		if periodID <= 1 {
			return "31-45"
		}
		return "76-90"
	}
	switch {
	case minute <= 15:
		return "0-15"
	case minute <= 30:
		return "16-30"
	case minute <= 45:
		return "31-45"
	case minute <= 60:
		return "46-60"
	case minute <= 75:
		return "61-75"
	case minute <= 90:
		return "76-90"
	default:
		return "90+"
	}
}

func contextSummary(row matchevent.EnrichedEvent) string {
	var state string
	switch {
	case row.ScoreHomeAt == row.ScoreAwayAt:
		state = fmt.Sprintf("level %d-%d", row.ScoreHomeAt, row.ScoreAwayAt)
	case row.ScoreHomeAt > row.ScoreAwayAt:
		state = fmt.Sprintf("home leading %d-%d", row.ScoreHomeAt, row.ScoreAwayAt)
	default:
		state = fmt.Sprintf("away leading %d-%d", row.ScoreHomeAt, row.ScoreAwayAt)
	}
	switch {
	case row.ManpowerHomeAfter < row.ManpowerAwayAfter:
		state += fmt.Sprintf(", home down to %d", row.ManpowerHomeAfter)
	case row.ManpowerAwayAfter < row.ManpowerHomeAfter:
		state += fmt.Sprintf(", away down to %d", row.ManpowerAwayAfter)
	}
	return state
}

func normalizeEnrichWorkerCount(value int, matchCount int) int {
	if matchCount <= 0 {
		return 1
	}
	if value <= 0 {
		value = defaultEnrichWorkers
	}
	if value > maxEnrichWorkers {
		value = maxEnrichWorkers
	}
	if value > matchCount {
		value = matchCount
	}
	return value
}

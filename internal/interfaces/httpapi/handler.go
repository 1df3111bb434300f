package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/domain/team"
	"github.com/cardsight/cardsight/internal/usecase"
	"github.com/go-playground/validator/v10"
)

// ReportPublisher delivers run reports to the configured sink. Delivery is
// best effort; a sink failure never fails the run itself.
type ReportPublisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

type Handler struct {
	ingestionService  *usecase.IngestionService
	enrichmentService *usecase.EnrichmentService
	refreshService    *usecase.RefreshService
	timelineService   *usecase.TimelineService
	reports           ReportPublisher
	logger            *slog.Logger
	validator         *validator.Validate
}

func NewHandler(
	ingestionService *usecase.IngestionService,
	enrichmentService *usecase.EnrichmentService,
	refreshService *usecase.RefreshService,
	timelineService *usecase.TimelineService,
	reports ReportPublisher,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		ingestionService:  ingestionService,
		enrichmentService: enrichmentService,
		refreshService:    refreshService,
		timelineService:   timelineService,
		reports:           reports,
		logger:            logger,
		validator:         validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetMatchTimeline(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetMatchTimeline")
	defer span.End()

	if h.timelineService == nil {
		writeError(ctx, w, fmt.Errorf("%w: timeline service is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	matchID, err := strconv.ParseInt(r.PathValue("matchID"), 10, 64)
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: match id must be numeric", usecase.ErrInvalidInput))
		return
	}

	timeline, err := h.timelineService.MatchTimeline(ctx, matchID)
	if err != nil {
		h.logger.WarnContext(ctx, "get match timeline failed", "match_id", matchID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, timelineToDTO(timeline))
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) publishReport(ctx context.Context, kind string, payload any) {
	if h.reports == nil {
		return
	}
	if err := h.reports.Publish(ctx, kind, payload); err != nil {
		h.logger.WarnContext(ctx, "publish run report failed", "kind", kind, "error", err)
	}
}

type matchTimelineDTO struct {
	Match    matchDTO           `json:"match"`
	HomeTeam *teamDTO           `json:"home_team,omitempty"`
	AwayTeam *teamDTO           `json:"away_team,omitempty"`
	Referees []refereeDTO       `json:"referees"`
	Entries  []timelineEntryDTO `json:"entries"`
}

type matchDTO struct {
	ID                int64  `json:"id"`
	CompetitionID     int64  `json:"competition_id"`
	SeasonID          int64  `json:"season_id"`
	Name              string `json:"name"`
	KickoffAt         string `json:"kickoff_at"`
	Status            string `json:"status"`
	HomeTeamID        int64  `json:"home_team_id"`
	AwayTeamID        int64  `json:"away_team_id"`
	HomeScore         *int   `json:"home_score"`
	AwayScore         *int   `json:"away_score"`
	EnrichmentStatus  string `json:"enrichment_status"`
	EnrichmentWarning string `json:"enrichment_warning,omitempty"`
}

type teamDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Short    string `json:"short,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type refereeDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

type timelineEntryDTO struct {
	EventID     int64            `json:"event_id"`
	TeamID      int64            `json:"team_id"`
	TypeID      int64            `json:"type_id"`
	PeriodID    int64            `json:"period_id"`
	Minute      int              `json:"minute"`
	ExtraMinute int              `json:"extra_minute,omitempty"`
	Sequence    int              `json:"sequence"`
	Rescinded   bool             `json:"rescinded,omitempty"`
	Info        string           `json:"info,omitempty"`
	Context     *eventContextDTO `json:"context,omitempty"`
}

type eventContextDTO struct {
	ScoreHomeAt       int    `json:"score_home_at"`
	ScoreAwayAt       int    `json:"score_away_at"`
	ManpowerHomeAfter int    `json:"manpower_home_after"`
	ManpowerAwayAfter int    `json:"manpower_away_after"`
	MinuteBucket      string `json:"minute_bucket"`
	Summary           string `json:"summary,omitempty"`
}

func timelineToDTO(timeline usecase.MatchTimeline) matchTimelineDTO {
	out := matchTimelineDTO{
		Match:    matchToDTO(timeline.Match),
		HomeTeam: teamToDTO(timeline.HomeTeam),
		AwayTeam: teamToDTO(timeline.AwayTeam),
		Referees: make([]refereeDTO, 0, len(timeline.Referees)),
		Entries:  make([]timelineEntryDTO, 0, len(timeline.Entries)),
	}
	for _, item := range timeline.Referees {
		out.Referees = append(out.Referees, refereeDTO{
			ID:       item.ID,
			Name:     item.Name,
			ImageURL: item.ImageURL,
		})
	}
	for _, entry := range timeline.Entries {
		out.Entries = append(out.Entries, timelineEntryToDTO(entry))
	}
	return out
}

func matchToDTO(v match.Match) matchDTO {
	return matchDTO{
		ID:                v.ID,
		CompetitionID:     v.CompetitionID,
		SeasonID:          v.SeasonID,
		Name:              v.Name,
		KickoffAt:         v.KickoffAt.UTC().Format(time.RFC3339),
		Status:            v.Status,
		HomeTeamID:        v.HomeTeamID,
		AwayTeamID:        v.AwayTeamID,
		HomeScore:         v.HomeScore,
		AwayScore:         v.AwayScore,
		EnrichmentStatus:  v.EnrichmentStatus,
		EnrichmentWarning: v.EnrichmentWarning,
	}
}

func teamToDTO(v *team.Team) *teamDTO {
	if v == nil {
		return nil
	}
	return &teamDTO{
		ID:       v.ID,
		Name:     v.Name,
		Short:    v.Short,
		ImageURL: v.ImageURL,
	}
}

func timelineEntryToDTO(entry usecase.TimelineEntry) timelineEntryDTO {
	out := timelineEntryDTO{
		EventID:     entry.Event.ID,
		TeamID:      entry.Event.TeamID,
		TypeID:      entry.Event.TypeID,
		PeriodID:    entry.Event.PeriodID,
		Minute:      entry.Event.Minute,
		ExtraMinute: entry.Event.ExtraMinute,
		Sequence:    entry.Event.Sequence,
		Rescinded:   entry.Event.Rescinded,
		Info:        entry.Event.Info,
	}
	if entry.Enriched {
		out.Context = enrichedToDTO(entry.Context)
	}
	return out
}

func enrichedToDTO(v matchevent.EnrichedEvent) *eventContextDTO {
	return &eventContextDTO{
		ScoreHomeAt:       v.ScoreHomeAt,
		ScoreAwayAt:       v.ScoreAwayAt,
		ManpowerHomeAfter: v.ManpowerHomeAfter,
		ManpowerAwayAfter: v.ManpowerAwayAfter,
		MinuteBucket:      v.MinuteBucket,
		Summary:           v.ContextSummary,
	}
}

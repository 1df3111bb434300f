package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

type MatchEventRepository struct {
	db *sqlx.DB
}

func NewMatchEventRepository(db *sqlx.DB) *MatchEventRepository {
	return &MatchEventRepository{db: db}
}

func (r *MatchEventRepository) ListByMatch(ctx context.Context, matchID int64) ([]matchevent.Event, error) {
	query, args, err := qb.Select("*").From("match_events").
		Where(qb.Eq("match_id", matchID)).
		OrderBy("period_id", "minute", "extra_minute", "sequence").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select match events query: %w", err)
	}

	var rows []matchEventTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select match events match_id=%d: %w", matchID, err)
	}

	out := make([]matchevent.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *MatchEventRepository) ListEnrichedByMatch(ctx context.Context, matchID int64) ([]matchevent.EnrichedEvent, error) {
	query, args, err := qb.Select("*").From("match_events_enriched").
		Where(qb.Eq("match_id", matchID)).
		OrderBy("event_id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select enriched events query: %w", err)
	}

	var rows []enrichedEventTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select enriched events match_id=%d: %w", matchID, err)
	}

	out := make([]matchevent.EnrichedEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *MatchEventRepository) MarkEnrichmentInProgress(ctx context.Context, matchID int64) error {
	query, args, err := qb.Update("matches").
		Set("enrichment_status", match.EnrichmentInProgress).
		SetExpr("updated_at", "NOW()").
		Where(qb.Eq("id", matchID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build mark match in progress query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark match in progress id=%d: %w", matchID, err)
	}
	return nil
}

// ReplaceEnriched swaps one match's derived rows wholesale. Enriched rows
// have no identity of their own, so delete-then-insert inside one
// transaction is the only safe shape; the enrichment state and the
// enriched-events source version move in the same commit.
func (r *MatchEventRepository) ReplaceEnriched(ctx context.Context, matchID int64, rows []matchevent.EnrichedEvent, status string, warning string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx replace enriched events: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM match_events_enriched WHERE match_id = $1", matchID); err != nil {
		return fmt.Errorf("delete enriched events match_id=%d: %w", matchID, err)
	}

	for _, row := range rows {
		insertModel := enrichedEventInsertModel{
			EventID:           row.EventID,
			MatchID:           row.MatchID,
			ScoreHomeAt:       row.ScoreHomeAt,
			ScoreAwayAt:       row.ScoreAwayAt,
			ManpowerHomeAfter: row.ManpowerHomeAfter,
			ManpowerAwayAfter: row.ManpowerAwayAfter,
			MinuteBucket:      row.MinuteBucket,
			ContextSummary:    nullableString(row.ContextSummary),
		}
		query, args, err := qb.InsertModel("match_events_enriched", insertModel, "")
		if err != nil {
			return fmt.Errorf("build insert enriched event query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert enriched event event_id=%d: %w", row.EventID, err)
		}
	}

	now := time.Now().UTC()
	query, args, err := qb.Update("matches").
		Set("enrichment_status", status).
		Set("enrichment_warning", nullableString(warning)).
		Set("enriched_at", now).
		SetExpr("updated_at", "NOW()").
		Where(qb.Eq("id", matchID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update match enrichment query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update match enrichment id=%d: %w", matchID, err)
	}

	if err := bumpSourceVersions(ctx, tx, []string{aggregate.SourceEnrichedEvents}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace enriched events tx: %w", err)
	}
	return nil
}

type matchEventTableModel struct {
	ID              int64     `db:"id"`
	MatchID         int64     `db:"match_id"`
	TeamID          int64     `db:"team_id"`
	PlayerID        *int64    `db:"player_id"`
	RelatedPlayerID *int64    `db:"related_player_id"`
	TypeID          int64     `db:"type_id"`
	PeriodID        int64     `db:"period_id"`
	Minute          int       `db:"minute"`
	ExtraMinute     int       `db:"extra_minute"`
	Sequence        int       `db:"sequence"`
	Rescinded       bool      `db:"rescinded"`
	Info            *string   `db:"info"`
	IngestedAt      time.Time `db:"ingested_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (m matchEventTableModel) toDomain() matchevent.Event {
	return matchevent.Event{
		ID:              m.ID,
		MatchID:         m.MatchID,
		TeamID:          m.TeamID,
		PlayerID:        m.PlayerID,
		RelatedPlayerID: m.RelatedPlayerID,
		TypeID:          m.TypeID,
		PeriodID:        m.PeriodID,
		Minute:          m.Minute,
		ExtraMinute:     m.ExtraMinute,
		Sequence:        m.Sequence,
		Rescinded:       m.Rescinded,
		Info:            stringOrEmpty(m.Info),
	}
}

type matchEventInsertModel struct {
	ID              int64   `db:"id"`
	MatchID         int64   `db:"match_id"`
	TeamID          int64   `db:"team_id"`
	PlayerID        *int64  `db:"player_id"`
	RelatedPlayerID *int64  `db:"related_player_id"`
	TypeID          int64   `db:"type_id"`
	PeriodID        int64   `db:"period_id"`
	Minute          int     `db:"minute"`
	ExtraMinute     int     `db:"extra_minute"`
	Sequence        int     `db:"sequence"`
	Rescinded       bool    `db:"rescinded"`
	Info            *string `db:"info"`
}

func newMatchEventInsertModel(source matchevent.Event) matchEventInsertModel {
	return matchEventInsertModel{
		ID:              source.ID,
		MatchID:         source.MatchID,
		TeamID:          source.TeamID,
		PlayerID:        source.PlayerID,
		RelatedPlayerID: source.RelatedPlayerID,
		TypeID:          source.TypeID,
		PeriodID:        source.PeriodID,
		Minute:          source.Minute,
		ExtraMinute:     source.ExtraMinute,
		Sequence:        source.Sequence,
		Rescinded:       source.Rescinded,
		Info:            nullableString(source.Info),
	}
}

type enrichedEventTableModel struct {
	EventID           int64     `db:"event_id"`
	MatchID           int64     `db:"match_id"`
	ScoreHomeAt       int       `db:"score_home_at"`
	ScoreAwayAt       int       `db:"score_away_at"`
	ManpowerHomeAfter int       `db:"manpower_home_after"`
	ManpowerAwayAfter int       `db:"manpower_away_after"`
	MinuteBucket      string    `db:"minute_bucket"`
	ContextSummary    *string   `db:"context_summary"`
	EnrichedAt        time.Time `db:"enriched_at"`
}

func (m enrichedEventTableModel) toDomain() matchevent.EnrichedEvent {
	return matchevent.EnrichedEvent{
		EventID:           m.EventID,
		MatchID:           m.MatchID,
		ScoreHomeAt:       m.ScoreHomeAt,
		ScoreAwayAt:       m.ScoreAwayAt,
		ManpowerHomeAfter: m.ManpowerHomeAfter,
		ManpowerAwayAfter: m.ManpowerAwayAfter,
		MinuteBucket:      m.MinuteBucket,
		ContextSummary:    stringOrEmpty(m.ContextSummary),
	}
}

type enrichedEventInsertModel struct {
	EventID           int64   `db:"event_id"`
	MatchID           int64   `db:"match_id"`
	ScoreHomeAt       int     `db:"score_home_at"`
	ScoreAwayAt       int     `db:"score_away_at"`
	ManpowerHomeAfter int     `db:"manpower_home_after"`
	ManpowerAwayAfter int     `db:"manpower_away_after"`
	MinuteBucket      string  `db:"minute_bucket"`
	ContextSummary    *string `db:"context_summary"`
}

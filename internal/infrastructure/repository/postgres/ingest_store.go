package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cardsight/cardsight/internal/domain/ingest"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

// IngestStore persists one provider page atomically: records, raw payloads,
// source version bumps, and the fetch job cursor commit or roll back
// together. A crash between pages therefore resumes exactly at the last
// committed cursor.
type IngestStore struct {
	db *sqlx.DB
}

func NewIngestStore(db *sqlx.DB) *IngestStore {
	return &IngestStore{db: db}
}

func (s *IngestStore) SavePage(ctx context.Context, page ingest.PageData) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save page: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range page.Teams {
		insertModel := teamInsertModel{
			ID:       item.ID,
			Name:     item.Name,
			Short:    nullableString(item.Short),
			ImageURL: nullableString(item.ImageURL),
		}
		query, args, err := qb.InsertModel("teams", insertModel, `ON CONFLICT (id)
DO UPDATE SET
    name = EXCLUDED.name,
    short = COALESCE(EXCLUDED.short, teams.short),
    image_url = COALESCE(EXCLUDED.image_url, teams.image_url),
    updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("build upsert team query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert team id=%d: %w", item.ID, err)
		}
	}

	for _, item := range page.Referees {
		insertModel := refereeInsertModel{
			ID:       item.ID,
			Name:     item.Name,
			ImageURL: nullableString(item.ImageURL),
		}
		query, args, err := qb.InsertModel("referees", insertModel, `ON CONFLICT (id)
DO UPDATE SET
    name = EXCLUDED.name,
    image_url = COALESCE(EXCLUDED.image_url, referees.image_url),
    updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("build upsert referee query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert referee id=%d: %w", item.ID, err)
		}
	}

	eventMatchIDs := make([]int64, 0, len(page.Matches))
	seenEventMatch := make(map[int64]struct{}, len(page.Matches))

	for _, item := range page.Matches {
		insertModel := newMatchInsertModel(item)
		query, args, err := qb.InsertModel("matches", insertModel, `ON CONFLICT (id)
DO UPDATE SET
    competition_id = EXCLUDED.competition_id,
    season_id = EXCLUDED.season_id,
    name = EXCLUDED.name,
    kickoff_at = EXCLUDED.kickoff_at,
    state_id = EXCLUDED.state_id,
    status = EXCLUDED.status,
    venue_id = COALESCE(EXCLUDED.venue_id, matches.venue_id),
    home_team_id = EXCLUDED.home_team_id,
    away_team_id = EXCLUDED.away_team_id,
    home_score = COALESCE(EXCLUDED.home_score, matches.home_score),
    away_score = COALESCE(EXCLUDED.away_score, matches.away_score),
    updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("build upsert match query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert match id=%d: %w", item.ID, err)
		}
	}

	for _, item := range page.Events {
		insertModel := newMatchEventInsertModel(item)
		query, args, err := qb.InsertModel("match_events", insertModel, `ON CONFLICT (id)
DO UPDATE SET
    match_id = EXCLUDED.match_id,
    team_id = EXCLUDED.team_id,
    player_id = EXCLUDED.player_id,
    related_player_id = EXCLUDED.related_player_id,
    type_id = EXCLUDED.type_id,
    period_id = EXCLUDED.period_id,
    minute = EXCLUDED.minute,
    extra_minute = EXCLUDED.extra_minute,
    sequence = EXCLUDED.sequence,
    rescinded = EXCLUDED.rescinded,
    info = COALESCE(EXCLUDED.info, match_events.info),
    updated_at = NOW()
WHERE (match_events.match_id, match_events.team_id, match_events.player_id,
       match_events.related_player_id, match_events.type_id, match_events.period_id,
       match_events.minute, match_events.extra_minute, match_events.sequence,
       match_events.rescinded, match_events.info)
IS DISTINCT FROM
      (EXCLUDED.match_id, EXCLUDED.team_id, EXCLUDED.player_id,
       EXCLUDED.related_player_id, EXCLUDED.type_id, EXCLUDED.period_id,
       EXCLUDED.minute, EXCLUDED.extra_minute, EXCLUDED.sequence,
       EXCLUDED.rescinded, COALESCE(EXCLUDED.info, match_events.info))`)
		if err != nil {
			return fmt.Errorf("build upsert match event query: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("upsert match event id=%d: %w", item.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert match event id=%d rows affected: %w", item.ID, err)
		}
		// The conflict clause skips rows that carry no new data, so zero
		// affected rows means the stored event is already identical.
		if affected == 0 {
			continue
		}
		if _, ok := seenEventMatch[item.MatchID]; !ok {
			seenEventMatch[item.MatchID] = struct{}{}
			eventMatchIDs = append(eventMatchIDs, item.MatchID)
		}
	}

	// Any match whose timeline actually changed goes back to the enrichment
	// queue; the replay has no way to patch derived rows in place.
	if len(eventMatchIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE matches SET enrichment_status = 'NOT_STARTED', updated_at = NOW() WHERE id = ANY($1)",
			pq.Array(eventMatchIDs),
		); err != nil {
			return fmt.Errorf("reset enrichment status: %w", err)
		}
	}

	for _, item := range page.MatchReferees {
		query, args, err := qb.InsertInto("match_referees").
			Columns("match_id", "referee_id", "type_id").
			Values(item.MatchID, item.RefereeID, item.TypeID).
			Suffix(`ON CONFLICT (match_id, referee_id)
DO UPDATE SET type_id = EXCLUDED.type_id`).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build upsert match referee query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert match referee match_id=%d referee_id=%d: %w", item.MatchID, item.RefereeID, err)
		}
	}

	for _, item := range page.RawPayloads {
		if err := upsertRawPayload(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := bumpSourceVersions(ctx, tx, page.SourceBumps); err != nil {
		return err
	}

	if err := saveFetchJob(ctx, tx, page.Job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save page tx: %w", err)
	}
	return nil
}

// bumpSourceVersions advances the monotonic counter for each named source
// table inside the caller's transaction.
func bumpSourceVersions(ctx context.Context, tx *sqlx.Tx, sources []string) error {
	for _, source := range sources {
		if _, err := tx.ExecContext(ctx, `INSERT INTO source_versions (name, version, updated_at)
VALUES ($1, 1, NOW())
ON CONFLICT (name)
DO UPDATE SET version = source_versions.version + 1, updated_at = NOW()`, source); err != nil {
			return fmt.Errorf("bump source version name=%s: %w", source, err)
		}
	}
	return nil
}

func saveFetchJob(ctx context.Context, tx *sqlx.Tx, job ingest.Job) error {
	insertModel := fetchJobInsertModel{
		CompetitionID: job.CompetitionID,
		SeasonID:      job.SeasonID,
		Resource:      string(job.Resource),
		Status:        string(job.Status),
		PageCursor:    job.PageCursor,
		Attempts:      job.Attempts,
		LastError:     nullableString(job.LastError),
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
	}
	query, args, err := qb.InsertModel("fetch_jobs", insertModel, `ON CONFLICT (competition_id, season_id, resource)
DO UPDATE SET
    status = EXCLUDED.status,
    page_cursor = EXCLUDED.page_cursor,
    attempts = EXCLUDED.attempts,
    last_error = EXCLUDED.last_error,
    started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at,
    updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("build upsert fetch job query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert fetch job %s: %w", job.Key(), err)
	}
	return nil
}

type teamInsertModel struct {
	ID       int64   `db:"id"`
	Name     string  `db:"name"`
	Short    *string `db:"short"`
	ImageURL *string `db:"image_url"`
}

type refereeInsertModel struct {
	ID       int64   `db:"id"`
	Name     string  `db:"name"`
	ImageURL *string `db:"image_url"`
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardsight/cardsight/internal/domain/ingest"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

type IngestJobRepository struct {
	db *sqlx.DB
}

func NewIngestJobRepository(db *sqlx.DB) *IngestJobRepository {
	return &IngestJobRepository{db: db}
}

func (r *IngestJobRepository) Get(ctx context.Context, competitionID, seasonID int64, resource ingest.Resource) (ingest.Job, bool, error) {
	query, args, err := qb.Select("*").From("fetch_jobs").
		Where(
			qb.Eq("competition_id", competitionID),
			qb.Eq("season_id", seasonID),
			qb.Eq("resource", string(resource)),
		).
		ToSQL()
	if err != nil {
		return ingest.Job{}, false, fmt.Errorf("build select fetch job query: %w", err)
	}

	var row fetchJobTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return ingest.Job{}, false, nil
		}
		return ingest.Job{}, false, fmt.Errorf("select fetch job %d:%d:%s: %w", competitionID, seasonID, resource, err)
	}
	return row.toDomain(), true, nil
}

func (r *IngestJobRepository) List(ctx context.Context) ([]ingest.Job, error) {
	query, args, err := qb.Select("*").From("fetch_jobs").
		OrderBy("competition_id", "season_id", "resource").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select fetch jobs query: %w", err)
	}

	var rows []fetchJobTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select fetch jobs: %w", err)
	}

	out := make([]ingest.Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *IngestJobRepository) Save(ctx context.Context, job ingest.Job) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save fetch job: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := saveFetchJob(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save fetch job tx: %w", err)
	}
	return nil
}

type fetchJobTableModel struct {
	CompetitionID int64      `db:"competition_id"`
	SeasonID      int64      `db:"season_id"`
	Resource      string     `db:"resource"`
	Status        string     `db:"status"`
	PageCursor    int        `db:"page_cursor"`
	Attempts      int        `db:"attempts"`
	LastError     *string    `db:"last_error"`
	StartedAt     *time.Time `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (m fetchJobTableModel) toDomain() ingest.Job {
	return ingest.Job{
		CompetitionID: m.CompetitionID,
		SeasonID:      m.SeasonID,
		Resource:      ingest.Resource(m.Resource),
		Status:        ingest.JobStatus(m.Status),
		PageCursor:    m.PageCursor,
		Attempts:      m.Attempts,
		LastError:     stringOrEmpty(m.LastError),
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type fetchJobInsertModel struct {
	CompetitionID int64      `db:"competition_id"`
	SeasonID      int64      `db:"season_id"`
	Resource      string     `db:"resource"`
	Status        string     `db:"status"`
	PageCursor    int        `db:"page_cursor"`
	Attempts      int        `db:"attempts"`
	LastError     *string    `db:"last_error"`
	StartedAt     *time.Time `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
}

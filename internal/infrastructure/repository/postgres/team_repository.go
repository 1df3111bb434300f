package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardsight/cardsight/internal/domain/team"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

type TeamRepository struct {
	db *sqlx.DB
}

func NewTeamRepository(db *sqlx.DB) *TeamRepository {
	return &TeamRepository{db: db}
}

func (r *TeamRepository) GetByID(ctx context.Context, teamID int64) (team.Team, bool, error) {
	query, args, err := qb.Select("*").From("teams").
		Where(qb.Eq("id", teamID)).
		ToSQL()
	if err != nil {
		return team.Team{}, false, fmt.Errorf("build select team query: %w", err)
	}

	var row teamTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return team.Team{}, false, nil
		}
		return team.Team{}, false, fmt.Errorf("select team id=%d: %w", teamID, err)
	}
	return row.toDomain(), true, nil
}

func (r *TeamRepository) ListByIDs(ctx context.Context, teamIDs []int64) ([]team.Team, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}

	values := make([]any, 0, len(teamIDs))
	for _, teamID := range teamIDs {
		values = append(values, teamID)
	}

	query, args, err := qb.Select("*").From("teams").
		Where(qb.In("id", values)).
		OrderBy("id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select teams query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select teams: %w", err)
	}

	out := make([]team.Team, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type teamTableModel struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Short     *string   `db:"short"`
	ImageURL  *string   `db:"image_url"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (m teamTableModel) toDomain() team.Team {
	return team.Team{
		ID:       m.ID,
		Name:     m.Name,
		Short:    stringOrEmpty(m.Short),
		ImageURL: stringOrEmpty(m.ImageURL),
	}
}

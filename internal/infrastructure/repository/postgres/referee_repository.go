package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardsight/cardsight/internal/domain/referee"
)

type RefereeRepository struct {
	db *sqlx.DB
}

func NewRefereeRepository(db *sqlx.DB) *RefereeRepository {
	return &RefereeRepository{db: db}
}

func (r *RefereeRepository) ListByMatch(ctx context.Context, matchID int64) ([]referee.Referee, error) {
	const query = `SELECT r.id, r.name, r.image_url, r.updated_at
FROM referees r
JOIN match_referees mr ON mr.referee_id = r.id
WHERE mr.match_id = $1
ORDER BY r.id`

	var rows []refereeTableModel
	if err := r.db.SelectContext(ctx, &rows, query, matchID); err != nil {
		return nil, fmt.Errorf("select referees match_id=%d: %w", matchID, err)
	}

	out := make([]referee.Referee, 0, len(rows))
	for _, row := range rows {
		out = append(out, referee.Referee{
			ID:       row.ID,
			Name:     row.Name,
			ImageURL: stringOrEmpty(row.ImageURL),
		})
	}
	return out, nil
}

type refereeTableModel struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	ImageURL  *string   `db:"image_url"`
	UpdatedAt time.Time `db:"updated_at"`
}

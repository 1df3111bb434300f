package postgres

import (
	"context"
	"fmt"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

type AggregateRepository struct {
	db *sqlx.DB
}

func NewAggregateRepository(db *sqlx.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

func (r *AggregateRepository) ListStates(ctx context.Context) ([]aggregate.State, error) {
	query, args, err := qb.Select("*").From("aggregate_state").
		OrderBy("name").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select aggregate states query: %w", err)
	}

	var rows []aggregateStateTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select aggregate states: %w", err)
	}

	out := make([]aggregate.State, 0, len(rows))
	for _, row := range rows {
		state, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

func (r *AggregateRepository) GetState(ctx context.Context, name string) (aggregate.State, bool, error) {
	query, args, err := qb.Select("*").From("aggregate_state").
		Where(qb.Eq("name", name)).
		ToSQL()
	if err != nil {
		return aggregate.State{}, false, fmt.Errorf("build select aggregate state query: %w", err)
	}

	var row aggregateStateTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return aggregate.State{}, false, nil
		}
		return aggregate.State{}, false, fmt.Errorf("select aggregate state name=%s: %w", name, err)
	}

	state, err := row.toDomain()
	if err != nil {
		return aggregate.State{}, false, err
	}
	return state, true, nil
}

func (r *AggregateRepository) SaveState(ctx context.Context, state aggregate.State) error {
	builtVersions, err := sonic.Marshal(state.BuiltVersions)
	if err != nil {
		return fmt.Errorf("marshal built versions name=%s: %w", state.Name, err)
	}

	insertModel := aggregateStateInsertModel{
		Name:            state.Name,
		ViewName:        state.ViewName,
		DependsOn:       pq.StringArray(state.DependsOn),
		BuiltVersions:   string(builtVersions),
		LastRefreshedAt: state.LastRefreshedAt,
		LastDurationMs:  state.LastDurationMs,
	}
	query, args, err := qb.InsertModel("aggregate_state", insertModel, `ON CONFLICT (name)
DO UPDATE SET
    view_name = EXCLUDED.view_name,
    depends_on = EXCLUDED.depends_on,
    built_versions = EXCLUDED.built_versions,
    last_refreshed_at = EXCLUDED.last_refreshed_at,
    last_duration_ms = EXCLUDED.last_duration_ms,
    updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("build upsert aggregate state query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert aggregate state name=%s: %w", state.Name, err)
	}
	return nil
}

func (r *AggregateRepository) SourceVersions(ctx context.Context) (map[string]int64, error) {
	query, args, err := qb.Select("name", "version").From("source_versions").ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select source versions query: %w", err)
	}

	var rows []sourceVersionTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select source versions: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Version
	}
	return out, nil
}

// TryAcquireLock inserts the lock row if absent; it never waits. On
// contention the current holder comes back so the caller can judge
// abandonment.
func (r *AggregateRepository) TryAcquireLock(ctx context.Context, name, holder string) (bool, aggregate.Lock, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO refresh_locks (name, holder, acquired_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO NOTHING`, name, holder)
	if err != nil {
		return false, aggregate.Lock{}, fmt.Errorf("acquire refresh lock name=%s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, aggregate.Lock{}, fmt.Errorf("acquire refresh lock rows name=%s: %w", name, err)
	}
	if affected > 0 {
		return true, aggregate.Lock{Name: name, Holder: holder, AcquiredAt: time.Now().UTC()}, nil
	}

	var row refreshLockTableModel
	if err := r.db.GetContext(ctx, &row, "SELECT name, holder, acquired_at FROM refresh_locks WHERE name = $1", name); err != nil {
		if isNotFound(err) {
			// Holder released between our insert and this read; treat as
			// contention and let the caller retry next tick.
			return false, aggregate.Lock{Name: name}, nil
		}
		return false, aggregate.Lock{}, fmt.Errorf("select refresh lock name=%s: %w", name, err)
	}
	return false, aggregate.Lock{Name: row.Name, Holder: row.Holder, AcquiredAt: row.AcquiredAt}, nil
}

func (r *AggregateRepository) ReleaseLock(ctx context.Context, name, holder string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM refresh_locks WHERE name = $1 AND holder = $2", name, holder); err != nil {
		return fmt.Errorf("release refresh lock name=%s: %w", name, err)
	}
	return nil
}

func (r *AggregateRepository) ForceReleaseLock(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM refresh_locks WHERE name = $1", name); err != nil {
		return fmt.Errorf("force release refresh lock name=%s: %w", name, err)
	}
	return nil
}

func (r *AggregateRepository) RefreshView(ctx context.Context, viewName string, mode aggregate.RefreshMode) error {
	statement := "REFRESH MATERIALIZED VIEW "
	if mode == aggregate.ModeConcurrent {
		statement += "CONCURRENTLY "
	}
	statement += pq.QuoteIdentifier(viewName)

	if _, err := r.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("refresh materialized view %s mode=%s: %w", viewName, mode, err)
	}
	return nil
}

type aggregateStateTableModel struct {
	Name            string         `db:"name"`
	ViewName        string         `db:"view_name"`
	DependsOn       pq.StringArray `db:"depends_on"`
	BuiltVersions   []byte         `db:"built_versions"`
	LastRefreshedAt *time.Time     `db:"last_refreshed_at"`
	LastDurationMs  int64          `db:"last_duration_ms"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (m aggregateStateTableModel) toDomain() (aggregate.State, error) {
	builtVersions := make(map[string]int64)
	if len(m.BuiltVersions) > 0 {
		if err := sonic.Unmarshal(m.BuiltVersions, &builtVersions); err != nil {
			return aggregate.State{}, fmt.Errorf("decode built versions name=%s: %w", m.Name, err)
		}
	}
	return aggregate.State{
		Name:            m.Name,
		ViewName:        m.ViewName,
		DependsOn:       []string(m.DependsOn),
		BuiltVersions:   builtVersions,
		LastRefreshedAt: m.LastRefreshedAt,
		LastDurationMs:  m.LastDurationMs,
	}, nil
}

type aggregateStateInsertModel struct {
	Name            string         `db:"name"`
	ViewName        string         `db:"view_name"`
	DependsOn       pq.StringArray `db:"depends_on"`
	BuiltVersions   string         `db:"built_versions"`
	LastRefreshedAt *time.Time     `db:"last_refreshed_at"`
	LastDurationMs  int64          `db:"last_duration_ms"`
}

type sourceVersionTableModel struct {
	Name    string `db:"name"`
	Version int64  `db:"version"`
}

type refreshLockTableModel struct {
	Name       string    `db:"name"`
	Holder     string    `db:"holder"`
	AcquiredAt time.Time `db:"acquired_at"`
}

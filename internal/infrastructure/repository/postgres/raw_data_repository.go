package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardsight/cardsight/internal/domain/rawdata"
	qb "github.com/cardsight/cardsight/internal/platform/querybuilder"
)

// upsertRawPayload archives one upstream response inside the caller's page
// transaction. Unchanged payloads short-circuit on the hash so replays do
// not churn ingested_at.
func upsertRawPayload(ctx context.Context, tx *sqlx.Tx, item rawdata.Payload) error {
	insertModel := rawDataPayloadInsertModel{
		Source:          item.Source,
		EntityType:      item.EntityType,
		EntityKey:       item.EntityKey,
		CompetitionID:   nullableInt64(item.CompetitionID),
		SeasonID:        nullableInt64(item.SeasonID),
		MatchID:         nullableInt64(item.MatchID),
		Payload:         item.PayloadJSON,
		PayloadHash:     item.PayloadHash,
		SourceUpdatedAt: item.SourceUpdatedAt,
	}

	query, args, err := qb.InsertModel("raw_payloads", insertModel, `ON CONFLICT (source, entity_type, entity_key)
DO UPDATE SET
    competition_id = EXCLUDED.competition_id,
    season_id = EXCLUDED.season_id,
    match_id = EXCLUDED.match_id,
    payload = EXCLUDED.payload,
    payload_hash = EXCLUDED.payload_hash,
    source_updated_at = EXCLUDED.source_updated_at,
    ingested_at = NOW()
WHERE raw_payloads.payload_hash IS DISTINCT FROM EXCLUDED.payload_hash`)
	if err != nil {
		return fmt.Errorf("build upsert raw payload query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert raw payload entity=%s key=%s: %w", item.EntityType, item.EntityKey, err)
	}
	return nil
}

type rawDataPayloadInsertModel struct {
	Source          string     `db:"source"`
	EntityType      string     `db:"entity_type"`
	EntityKey       string     `db:"entity_key"`
	CompetitionID   *int64     `db:"competition_id"`
	SeasonID        *int64     `db:"season_id"`
	MatchID         *int64     `db:"match_id"`
	Payload         string     `db:"payload"`
	PayloadHash     string     `db:"payload_hash"`
	SourceUpdatedAt *time.Time `db:"source_updated_at"`
}

func nullableInt64(value int64) *int64 {
	if value <= 0 {
		return nil
	}
	return &value
}

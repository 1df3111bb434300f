package ingest

import "context"

// JobRepository persists fetch job progress between runs.
type JobRepository interface {
	Get(ctx context.Context, competitionID, seasonID int64, resource Resource) (Job, bool, error)
	List(ctx context.Context) ([]Job, error)
	Save(ctx context.Context, job Job) error
}

// PageWriter commits one parsed page atomically: records, raw payloads,
// source version bumps and the advanced job cursor all land in the same
// transaction or not at all.
type PageWriter interface {
	SavePage(ctx context.Context, page PageData) error
}

package rawdata

import "time"

// Payload is an audit copy of one upstream API response, keyed by
// (source, entity type, entity key) so repeated ingestion overwrites
// instead of accumulating.
type Payload struct {
	Source          string
	EntityType      string
	EntityKey       string
	CompetitionID   int64
	SeasonID        int64
	MatchID         int64
	PayloadJSON     string
	PayloadHash     string
	SourceUpdatedAt *time.Time
}

package match

import (
	"fmt"
	"time"
)

// Enrichment lifecycle for a match timeline.
const (
	EnrichmentNotStarted          = "NOT_STARTED"
	EnrichmentInProgress          = "IN_PROGRESS"
	EnrichmentComplete            = "COMPLETE"
	EnrichmentCompleteWithWarning = "COMPLETE_WITH_WARNING"
)

const (
	StatusScheduled = "SCHEDULED"
	StatusLive      = "LIVE"
	StatusFinished  = "FINISHED"
	StatusPostponed = "POSTPONED"
	StatusCancelled = "CANCELLED"
)

// Match is one fixture pulled from the upstream provider, keyed by the
// provider's numeric fixture id.
type Match struct {
	ID                int64
	CompetitionID     int64
	SeasonID          int64
	Name              string
	KickoffAt         time.Time
	StateID           int64
	Status            string
	VenueID           *int64
	HomeTeamID        int64
	AwayTeamID        int64
	HomeScore         *int
	AwayScore         *int
	EnrichmentStatus  string
	EnrichmentWarning string
	EnrichedAt        *time.Time
	IngestedAt        time.Time
}

func (m Match) Validate() error {
	if m.ID <= 0 {
		return fmt.Errorf("match id must be greater than zero")
	}
	if m.SeasonID <= 0 {
		return fmt.Errorf("match season id must be greater than zero")
	}
	if m.HomeTeamID <= 0 || m.AwayTeamID <= 0 {
		return fmt.Errorf("match participants are required")
	}
	return nil
}

// Finished reports whether the recorded final score can be trusted for
// timeline consistency checks.
func (m Match) Finished() bool {
	return m.Status == StatusFinished && m.HomeScore != nil && m.AwayScore != nil
}

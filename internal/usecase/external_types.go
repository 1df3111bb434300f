package usecase

import (
	"context"
	"time"

	"github.com/cardsight/cardsight/internal/domain/ingest"
	"github.com/cardsight/cardsight/internal/domain/rawdata"
)

// MatchDataProvider is the upstream API surface the ingestion engine pulls
// from. One call fetches one page of one resource; pagination state lives
// with the caller so runs can resume from a persisted cursor.
type MatchDataProvider interface {
	FetchPage(ctx context.Context, req ProviderPageRequest) (ExternalPage, error)
}

type ProviderPageRequest struct {
	CompetitionID int64
	SeasonID      int64
	Resource      ingest.Resource
	Page          int
}

// ExternalPage is one parsed provider page. Records that failed required
// field validation are quarantined in Rejected instead of being dropped
// silently or aborting the page.
type ExternalPage struct {
	CurrentPage int
	HasMore     bool
	Matches     []ExternalMatch
	Teams       []ExternalTeam
	Referees    []ExternalReferee
	Rejected    []RejectedRecord
	RawPayload  rawdata.Payload
}

type ExternalMatch struct {
	ExternalID    int64
	CompetitionID int64
	SeasonID      int64
	Name          string
	KickoffAt     time.Time
	StateID       int64
	VenueID       *int64
	HomeTeamID    int64
	AwayTeamID    int64
	HomeScore     *int
	AwayScore     *int
	Participants  []ExternalTeam
	Events        []ExternalMatchEvent
	Referees      []ExternalMatchReferee
}

// ExternalMatchEvent keeps the upstream sort order; the ingestion engine
// turns it into the persisted sequence number.
type ExternalMatchEvent struct {
	ExternalID      int64
	TeamID          int64
	PlayerID        *int64
	RelatedPlayerID *int64
	TypeID          int64
	PeriodID        int64
	Minute          int
	ExtraMinute     int
	SortOrder       int
	Rescinded       bool
	Info            string
}

type ExternalTeam struct {
	ExternalID int64
	Name       string
	Short      string
	ImageURL   string
}

type ExternalReferee struct {
	ExternalID int64
	Name       string
	ImageURL   string
}

type ExternalMatchReferee struct {
	RefereeID int64
	TypeID    int64
	Name      string
	ImageURL  string
}

// RejectedRecord quarantines an upstream record that failed validation.
type RejectedRecord struct {
	Resource string `json:"resource"`
	Key      string `json:"key"`
	Reason   string `json:"reason"`
}

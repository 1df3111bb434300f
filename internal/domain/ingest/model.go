package ingest

import (
	"fmt"
	"time"

	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/domain/rawdata"
	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
)

type Resource string

const (
	ResourceMatches  Resource = "matches"
	ResourceTeams    Resource = "teams"
	ResourceReferees Resource = "referees"
)

// Resources lists every supported resource kind in deterministic order.
func Resources() []Resource {
	return []Resource{ResourceMatches, ResourceTeams, ResourceReferees}
}

func ParseResource(raw string) (Resource, bool) {
	switch Resource(raw) {
	case ResourceMatches, ResourceTeams, ResourceReferees:
		return Resource(raw), true
	default:
		return "", false
	}
}

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is a persisted fetch unit for one (competition, season, resource)
// triple. PageCursor is the last fully committed page; a crashed or failed
// run resumes from PageCursor+1.
type Job struct {
	CompetitionID int64
	SeasonID      int64
	Resource      Resource
	Status        JobStatus
	PageCursor    int
	Attempts      int
	LastError     string
	StartedAt     *time.Time
	FinishedAt    *time.Time
	UpdatedAt     time.Time
}

func (j Job) Key() string {
	return fmt.Sprintf("%d:%d:%s", j.CompetitionID, j.SeasonID, j.Resource)
}

// Abandoned reports whether a running job's holder has been gone longer
// than the allowed run duration. A zero timeout disables reclaiming. A
// running row with no start time has no live holder and is reclaimed
// immediately.
func (j Job) Abandoned(now time.Time, timeout time.Duration) bool {
	if j.Status != StatusRunning || timeout <= 0 {
		return false
	}
	if j.StartedAt == nil {
		return true
	}
	return now.Sub(*j.StartedAt) > timeout
}

func (j Job) Validate() error {
	if j.CompetitionID <= 0 {
		return fmt.Errorf("job competition id must be greater than zero")
	}
	if j.SeasonID <= 0 {
		return fmt.Errorf("job season id must be greater than zero")
	}
	if _, ok := ParseResource(string(j.Resource)); !ok {
		return fmt.Errorf("job resource %q is not supported", j.Resource)
	}
	return nil
}

// PageData is the unit of ingestion durability: everything parsed from one
// upstream page plus the advanced job cursor, written in a single
// transaction.
type PageData struct {
	Job           Job
	Matches       []match.Match
	Events        []matchevent.Event
	Teams         []team.Team
	Referees      []referee.Referee
	MatchReferees []referee.Assignment
	RawPayloads   []rawdata.Payload
	// SourceBumps names the source version counters to increment alongside
	// the page write.
	SourceBumps []string
}

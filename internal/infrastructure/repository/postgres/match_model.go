package postgres

import (
	"time"

	"github.com/cardsight/cardsight/internal/domain/match"
)

type matchTableModel struct {
	ID                int64      `db:"id"`
	CompetitionID     int64      `db:"competition_id"`
	SeasonID          int64      `db:"season_id"`
	Name              string     `db:"name"`
	KickoffAt         time.Time  `db:"kickoff_at"`
	StateID           int64      `db:"state_id"`
	Status            string     `db:"status"`
	VenueID           *int64     `db:"venue_id"`
	HomeTeamID        int64      `db:"home_team_id"`
	AwayTeamID        int64      `db:"away_team_id"`
	HomeScore         *int       `db:"home_score"`
	AwayScore         *int       `db:"away_score"`
	EnrichmentStatus  string     `db:"enrichment_status"`
	EnrichmentWarning *string    `db:"enrichment_warning"`
	EnrichedAt        *time.Time `db:"enriched_at"`
	IngestedAt        time.Time  `db:"ingested_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

func (m matchTableModel) toDomain() match.Match {
	return match.Match{
		ID:                m.ID,
		CompetitionID:     m.CompetitionID,
		SeasonID:          m.SeasonID,
		Name:              m.Name,
		KickoffAt:         m.KickoffAt,
		StateID:           m.StateID,
		Status:            m.Status,
		VenueID:           m.VenueID,
		HomeTeamID:        m.HomeTeamID,
		AwayTeamID:        m.AwayTeamID,
		HomeScore:         m.HomeScore,
		AwayScore:         m.AwayScore,
		EnrichmentStatus:  m.EnrichmentStatus,
		EnrichmentWarning: stringOrEmpty(m.EnrichmentWarning),
		EnrichedAt:        m.EnrichedAt,
		IngestedAt:        m.IngestedAt,
	}
}

type matchInsertModel struct {
	ID               int64     `db:"id"`
	CompetitionID    int64     `db:"competition_id"`
	SeasonID         int64     `db:"season_id"`
	Name             string    `db:"name"`
	KickoffAt        time.Time `db:"kickoff_at"`
	StateID          int64     `db:"state_id"`
	Status           string    `db:"status"`
	VenueID          *int64    `db:"venue_id"`
	HomeTeamID       int64     `db:"home_team_id"`
	AwayTeamID       int64     `db:"away_team_id"`
	HomeScore        *int      `db:"home_score"`
	AwayScore        *int      `db:"away_score"`
	EnrichmentStatus string    `db:"enrichment_status"`
}

func newMatchInsertModel(source match.Match) matchInsertModel {
	status := source.EnrichmentStatus
	if status == "" {
		status = match.EnrichmentNotStarted
	}
	return matchInsertModel{
		ID:               source.ID,
		CompetitionID:    source.CompetitionID,
		SeasonID:         source.SeasonID,
		Name:             source.Name,
		KickoffAt:        source.KickoffAt,
		StateID:          source.StateID,
		Status:           source.Status,
		VenueID:          source.VenueID,
		HomeTeamID:       source.HomeTeamID,
		AwayTeamID:       source.AwayTeamID,
		HomeScore:        source.HomeScore,
		AwayScore:        source.AwayScore,
		EnrichmentStatus: status,
	}
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

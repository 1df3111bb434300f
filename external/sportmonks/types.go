package sportmonks

import (
	"strings"

	sonic "github.com/bytedance/sonic"
)

type pagination struct {
	Count       int  `json:"count"`
	PerPage     int  `json:"per_page"`
	CurrentPage int  `json:"current_page"`
	NextPage    any  `json:"next_page"`
	HasMore     bool `json:"has_more"`
}

type fixturesEnvelope struct {
	Data       []fixtureItem `json:"data"`
	Pagination *pagination   `json:"pagination"`
}

type teamsEnvelope struct {
	Data       []teamItem  `json:"data"`
	Pagination *pagination `json:"pagination"`
}

type refereesEnvelope struct {
	Data       []refereeItem `json:"data"`
	Pagination *pagination   `json:"pagination"`
}

type fixtureItem struct {
	ID           int64                 `json:"id"`
	LeagueID     int64                 `json:"league_id"`
	SeasonID     int64                 `json:"season_id"`
	StateID      int64                 `json:"state_id"`
	VenueID      *int64                `json:"venue_id"`
	Name         string                `json:"name"`
	StartingAt   string                `json:"starting_at"`
	Participants []fixtureParticipant  `json:"participants"`
	Scores       []fixtureScoreItem    `json:"scores"`
	Events       []fixtureEventItem    `json:"events"`
	Referees     []fixtureRefereeItem  `json:"referees"`
}

type fixtureParticipant struct {
	ID        int64                  `json:"id"`
	Name      string                 `json:"name"`
	ShortCode string                 `json:"short_code"`
	ImagePath string                 `json:"image_path"`
	Meta      fixtureParticipantMeta `json:"meta"`
}

type fixtureParticipantMeta struct {
	Location string `json:"location"`
}

func (m fixtureParticipantMeta) home() bool {
	return strings.EqualFold(strings.TrimSpace(m.Location), "home")
}

type fixtureScoreItem struct {
	Description string       `json:"description"`
	Score       fixtureScore `json:"score"`
}

type fixtureScore struct {
	Goals       int    `json:"goals"`
	Participant string `json:"participant"`
}

type fixtureEventItem struct {
	ID              int64  `json:"id"`
	TypeID          int64  `json:"type_id"`
	ParticipantID   int64  `json:"participant_id"`
	PlayerID        *int64 `json:"player_id"`
	RelatedPlayerID *int64 `json:"related_player_id"`
	Minute          int    `json:"minute"`
	ExtraMinute     *int   `json:"extra_minute"`
	SortOrder       *int   `json:"sort_order"`
	Rescinded       bool   `json:"rescinded"`
	Info            string `json:"info"`
	Result          string `json:"result"`
}

type fixtureRefereeItem struct {
	RefereeID int64           `json:"referee_id"`
	TypeID    int64           `json:"type_id"`
	Referee   *refereeRelated `json:"referee"`
}

type refereeRelated struct {
	ID        int64  `json:"id"`
	Name      string `json:"common_name"`
	FullName  string `json:"name"`
	ImagePath string `json:"image_path"`
}

type teamItem struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortCode string `json:"short_code"`
	ImagePath string `json:"image_path"`
}

type refereeItem struct {
	ID         int64  `json:"id"`
	CommonName string `json:"common_name"`
	Name       string `json:"name"`
	ImagePath  string `json:"image_path"`
}

// hasMore tolerates providers that omit the has_more flag but still send
// next_page.
func (p *pagination) hasMore() bool {
	if p == nil {
		return false
	}
	if p.HasMore {
		return true
	}
	switch next := p.NextPage.(type) {
	case string:
		return strings.TrimSpace(next) != ""
	case float64:
		return next > 0
	default:
		return false
	}
}

// currentScores picks the running score entries for both sides. SportMonks
// reports several score snapshots per fixture; CURRENT is the live one.
func currentScores(items []fixtureScoreItem) (home *int, away *int) {
	for _, item := range items {
		if !strings.EqualFold(strings.TrimSpace(item.Description), "CURRENT") {
			continue
		}
		goals := item.Score.Goals
		switch strings.ToLower(strings.TrimSpace(item.Score.Participant)) {
		case "home":
			home = &goals
		case "away":
			away = &goals
		}
	}
	return home, away
}

func compactJSON(raw []byte) string {
	var decoded any
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	out, err := sonic.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

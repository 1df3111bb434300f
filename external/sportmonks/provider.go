package sportmonks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cardsight/cardsight/internal/domain/ingest"
	"github.com/cardsight/cardsight/internal/domain/rawdata"
	"github.com/cardsight/cardsight/internal/usecase"
)

// Provider adapts the SportMonks v3 football API to the ingestion engine's
// page contract.
type Provider struct {
	client *Client
}

func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

var _ usecase.MatchDataProvider = (*Provider)(nil)

func (p *Provider) FetchPage(ctx context.Context, req usecase.ProviderPageRequest) (usecase.ExternalPage, error) {
	if req.SeasonID <= 0 {
		return usecase.ExternalPage{}, fmt.Errorf("%w: season id is required", usecase.ErrInvalidInput)
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	switch req.Resource {
	case ingest.ResourceMatches:
		return p.fetchFixturesPage(ctx, req)
	case ingest.ResourceTeams:
		return p.fetchTeamsPage(ctx, req)
	case ingest.ResourceReferees:
		return p.fetchRefereesPage(ctx, req)
	default:
		return usecase.ExternalPage{}, fmt.Errorf("%w: unsupported resource=%s", usecase.ErrInvalidInput, req.Resource)
	}
}

func (p *Provider) fetchFixturesPage(ctx context.Context, req usecase.ProviderPageRequest) (usecase.ExternalPage, error) {
	path := fmt.Sprintf("/fixtures/seasons/%d", req.SeasonID)
	query := pageQuery(req.Page)
	query["include"] = defaultIncludeFixture

	var envelope fixturesEnvelope
	raw, err := p.client.doJSON(ctx, path, query, &envelope)
	if err != nil {
		return usecase.ExternalPage{}, classifyFetchError(err)
	}

	page := usecase.ExternalPage{
		CurrentPage: pageNumber(envelope.Pagination, req.Page),
		HasMore:     envelope.Pagination.hasMore(),
		RawPayload:  buildAPIPayload(path, query, raw),
	}

	for _, item := range envelope.Data {
		if item.ID <= 0 {
			page.Rejected = append(page.Rejected, usecase.RejectedRecord{
				Resource: string(ingest.ResourceMatches),
				Key:      item.Name,
				Reason:   "missing fixture id",
			})
			continue
		}

		homeID, awayID := resolveFixtureSides(item.Participants)
		if homeID <= 0 || awayID <= 0 {
			page.Rejected = append(page.Rejected, usecase.RejectedRecord{
				Resource: string(ingest.ResourceMatches),
				Key:      strconv.FormatInt(item.ID, 10),
				Reason:   "missing home or away participant",
			})
			continue
		}

		external := usecase.ExternalMatch{
			ExternalID:    item.ID,
			CompetitionID: item.LeagueID,
			SeasonID:      item.SeasonID,
			Name:          item.Name,
			StateID:       item.StateID,
			VenueID:       item.VenueID,
			HomeTeamID:    homeID,
			AwayTeamID:    awayID,
		}
		if parsed := parseProviderDateTime(item.StartingAt); parsed != nil {
			external.KickoffAt = *parsed
		}
		external.HomeScore, external.AwayScore = currentScores(item.Scores)

		for _, participant := range item.Participants {
			external.Participants = append(external.Participants, usecase.ExternalTeam{
				ExternalID: participant.ID,
				Name:       participant.Name,
				Short:      participant.ShortCode,
				ImageURL:   participant.ImagePath,
			})
		}

		for _, event := range item.Events {
			if event.ID <= 0 || event.TypeID <= 0 {
				page.Rejected = append(page.Rejected, usecase.RejectedRecord{
					Resource: "match_events",
					Key:      fmt.Sprintf("%d:%d", item.ID, event.ID),
					Reason:   "missing event id or type",
				})
				continue
			}
			external.Events = append(external.Events, mapFixtureEvent(event))
		}

		for _, assignment := range item.Referees {
			mapped := usecase.ExternalMatchReferee{
				RefereeID: assignment.RefereeID,
				TypeID:    assignment.TypeID,
			}
			if assignment.Referee != nil {
				if mapped.RefereeID <= 0 {
					mapped.RefereeID = assignment.Referee.ID
				}
				mapped.Name = firstNonBlank(assignment.Referee.Name, assignment.Referee.FullName)
				mapped.ImageURL = assignment.Referee.ImagePath
			}
			if mapped.RefereeID <= 0 {
				continue
			}
			external.Referees = append(external.Referees, mapped)
		}

		page.Matches = append(page.Matches, external)
	}

	return page, nil
}

func (p *Provider) fetchTeamsPage(ctx context.Context, req usecase.ProviderPageRequest) (usecase.ExternalPage, error) {
	path := fmt.Sprintf("/teams/seasons/%d", req.SeasonID)
	query := pageQuery(req.Page)

	var envelope teamsEnvelope
	raw, err := p.client.doJSON(ctx, path, query, &envelope)
	if err != nil {
		return usecase.ExternalPage{}, classifyFetchError(err)
	}

	page := usecase.ExternalPage{
		CurrentPage: pageNumber(envelope.Pagination, req.Page),
		HasMore:     envelope.Pagination.hasMore(),
		RawPayload:  buildAPIPayload(path, query, raw),
	}
	for _, item := range envelope.Data {
		if item.ID <= 0 || strings.TrimSpace(item.Name) == "" {
			page.Rejected = append(page.Rejected, usecase.RejectedRecord{
				Resource: string(ingest.ResourceTeams),
				Key:      strconv.FormatInt(item.ID, 10),
				Reason:   "missing team id or name",
			})
			continue
		}
		page.Teams = append(page.Teams, usecase.ExternalTeam{
			ExternalID: item.ID,
			Name:       item.Name,
			Short:      item.ShortCode,
			ImageURL:   item.ImagePath,
		})
	}
	return page, nil
}

func (p *Provider) fetchRefereesPage(ctx context.Context, req usecase.ProviderPageRequest) (usecase.ExternalPage, error) {
	path := fmt.Sprintf("/referees/seasons/%d", req.SeasonID)
	query := pageQuery(req.Page)

	var envelope refereesEnvelope
	raw, err := p.client.doJSON(ctx, path, query, &envelope)
	if err != nil {
		return usecase.ExternalPage{}, classifyFetchError(err)
	}

	page := usecase.ExternalPage{
		CurrentPage: pageNumber(envelope.Pagination, req.Page),
		HasMore:     envelope.Pagination.hasMore(),
		RawPayload:  buildAPIPayload(path, query, raw),
	}
	for _, item := range envelope.Data {
		name := firstNonBlank(item.CommonName, item.Name)
		if item.ID <= 0 || name == "" {
			page.Rejected = append(page.Rejected, usecase.RejectedRecord{
				Resource: string(ingest.ResourceReferees),
				Key:      strconv.FormatInt(item.ID, 10),
				Reason:   "missing referee id or name",
			})
			continue
		}
		page.Referees = append(page.Referees, usecase.ExternalReferee{
			ExternalID: item.ID,
			Name:       name,
			ImageURL:   item.ImagePath,
		})
	}
	return page, nil
}

func mapFixtureEvent(item fixtureEventItem) usecase.ExternalMatchEvent {
	extraMinute := 0
	if item.ExtraMinute != nil {
		extraMinute = *item.ExtraMinute
	}
	sortOrder := 0
	if item.SortOrder != nil {
		sortOrder = *item.SortOrder
	}
	return usecase.ExternalMatchEvent{
		ExternalID:      item.ID,
		TeamID:          item.ParticipantID,
		PlayerID:        item.PlayerID,
		RelatedPlayerID: item.RelatedPlayerID,
		TypeID:          item.TypeID,
		PeriodID:        periodFromMinute(item.Minute),
		Minute:          item.Minute,
		ExtraMinute:     extraMinute,
		SortOrder:       sortOrder,
		Rescinded:       item.Rescinded,
		Info:            firstNonBlank(item.Info, item.Result),
	}
}

// periodFromMinute folds the reported minute into a half. Injury-time events
// report the period-end minute plus extra_minute, so 45 and 90 stay inside
// their own halves.
func periodFromMinute(minute int) int64 {
	switch {
	case minute <= 45:
		return 1
	case minute <= 90:
		return 2
	default:
		return 3
	}
}

func resolveFixtureSides(participants []fixtureParticipant) (homeID, awayID int64) {
	for _, participant := range participants {
		if participant.ID <= 0 {
			continue
		}
		if participant.Meta.home() {
			homeID = participant.ID
		} else {
			awayID = participant.ID
		}
	}
	return homeID, awayID
}

func classifyFetchError(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	case stderrors.Is(err, usecase.ErrDependencyUnavailable),
		stderrors.Is(err, usecase.ErrPermanentFetch),
		stderrors.Is(err, usecase.ErrInvalidInput):
		return err
	case stderrors.Is(err, errProviderTransient):
		return fmt.Errorf("%w: %s", usecase.ErrTransientFetch, err)
	default:
		return fmt.Errorf("%w: %s", usecase.ErrPermanentFetch, err)
	}
}

func pageQuery(page int) map[string]string {
	return map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(defaultPageSize),
	}
}

func pageNumber(p *pagination, fallback int) int {
	if p != nil && p.CurrentPage > 0 {
		return p.CurrentPage
	}
	return fallback
}

func buildAPIPayload(path string, query map[string]string, raw []byte) rawdata.Payload {
	entityKey := strings.TrimSpace(path)
	if page, ok := query["page"]; ok {
		entityKey += "?page=" + page
	}

	payload := compactJSON(raw)
	hash := sha256.Sum256([]byte(payload))
	now := time.Now().UTC()
	return rawdata.Payload{
		Source:          "sportmonks",
		EntityType:      "api_response",
		EntityKey:       entityKey,
		PayloadJSON:     payload,
		PayloadHash:     hex.EncodeToString(hash[:]),
		SourceUpdatedAt: &now,
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

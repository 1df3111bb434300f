package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
	"github.com/cardsight/cardsight/internal/domain/ingest"
	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/domain/team"
	"github.com/cardsight/cardsight/internal/infrastructure/repository/memory"
	"github.com/cardsight/cardsight/internal/usecase"
)

const testJobToken = "internal-job-token"

type capturingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *capturingPublisher) Publish(_ context.Context, kind string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	return nil
}

func (p *capturingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.kinds))
	copy(out, p.kinds)
	return out
}

// scriptedProvider serves one page per (resource, page) pair.
type scriptedProvider struct {
	pages map[string]usecase.ExternalPage
}

func (p *scriptedProvider) FetchPage(_ context.Context, req usecase.ProviderPageRequest) (usecase.ExternalPage, error) {
	key := fmt.Sprintf("%s:%d", req.Resource, req.Page)
	page, ok := p.pages[key]
	if !ok {
		return usecase.ExternalPage{}, fmt.Errorf("%w: no page scripted for %s", usecase.ErrPermanentFetch, key)
	}
	return page, nil
}

type routerFixture struct {
	router    http.Handler
	publisher *capturingPublisher
	jobs      *memory.IngestJobRepository
	aggRepo   *memory.AggregateRepository
	refresher *memory.ViewRefresher
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()

	matchRepo := memory.NewMatchRepository([]match.Match{{
		ID:         101,
		SeasonID:   25583,
		KickoffAt:  time.Date(2026, time.March, 7, 15, 0, 0, 0, time.UTC),
		Status:     match.StatusFinished,
		HomeTeamID: 10,
		AwayTeamID: 20,
	}})
	eventRepo := memory.NewMatchEventRepository(matchRepo, []matchevent.Event{
		{ID: 1, MatchID: 101, TeamID: 10, TypeID: matchevent.TypeGoal, PeriodID: 1, Minute: 30, Sequence: 1},
	})
	teamRepo := memory.NewTeamRepository([]team.Team{
		{ID: 10, Name: "Home FC"},
		{ID: 20, Name: "Away FC"},
	})
	refereeRepo := memory.NewRefereeRepository(nil, nil)
	jobRepo := memory.NewIngestJobRepository()
	store := memory.NewIngestStore(matchRepo, eventRepo, nil)

	provider := &scriptedProvider{pages: map[string]usecase.ExternalPage{
		"matches:1": {Matches: []usecase.ExternalMatch{{
			ExternalID: 102,
			SeasonID:   25583,
			HomeTeamID: 30,
			AwayTeamID: 40,
		}}},
	}}

	ingestionService := usecase.NewIngestionService(usecase.IngestionConfig{
		Enabled:               true,
		SeasonIDByCompetition: map[int64]int64{8: 25583},
		MaxWorkers:            2,
		RetryBackoff:          time.Millisecond,
	}, provider, jobRepo, store, nil)
	enrichmentService := usecase.NewEnrichmentService(usecase.EnrichmentConfig{MaxWorkers: 2}, matchRepo, eventRepo, eventRepo, nil)

	aggRepo := memory.NewAggregateRepository([]aggregate.State{{
		Name:          "cards_by_team_season",
		ViewName:      "mv_cards_by_team_season",
		DependsOn:     []string{aggregate.SourceMatches},
		BuiltVersions: map[string]int64{},
	}})
	aggRepo.BumpSourceVersion(aggregate.SourceMatches)
	refresher := memory.NewViewRefresher()
	refreshService := usecase.NewRefreshService(usecase.RefreshConfig{
		LockTimeout:      time.Minute,
		SourceVersionTTL: time.Millisecond,
	}, aggRepo, refresher, nil, nil)

	timelineService := usecase.NewTimelineService(matchRepo, eventRepo, teamRepo, refereeRepo)

	publisher := &capturingPublisher{}
	handler := NewHandler(ingestionService, enrichmentService, refreshService, timelineService, publisher, slog.Default())
	router := NewRouter(handler, slog.Default(), nil, testJobToken)

	return routerFixture{
		router:    router,
		publisher: publisher,
		jobs:      jobRepo,
		aggRepo:   aggRepo,
		refresher: refresher,
	}
}

func doJSONRequest(t *testing.T, router http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Internal-Job-Token", token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	var envelope map[string]any
	raw := recorder.Body.Bytes()
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("decode response envelope: %v (%s)", err, raw)
		}
	}
	return recorder, envelope
}

func envelopeData(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()

	data, ok := envelope["data"].(map[string]any)
	if !ok {
		t.Fatalf("envelope has no data object: %v", envelope)
	}
	return data
}

func TestGetMatchTimelineEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	t.Run("found", func(t *testing.T) {
		recorder, envelope := doJSONRequest(t, fixture.router, http.MethodGet, "/v1/matches/101/timeline", "", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("unexpected status: got=%d body=%s", recorder.Code, recorder.Body.String())
		}
		data := envelopeData(t, envelope)
		matchData, ok := data["match"].(map[string]any)
		if !ok || matchData["id"] != float64(101) {
			t.Fatalf("unexpected match payload: %v", data["match"])
		}
		entries, ok := data["entries"].([]any)
		if !ok || len(entries) != 1 {
			t.Fatalf("unexpected entries: %v", data["entries"])
		}
	})

	t.Run("non numeric id", func(t *testing.T) {
		recorder, _ := doJSONRequest(t, fixture.router, http.MethodGet, "/v1/matches/abc/timeline", "", "")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: got=%d want=400", recorder.Code)
		}
	})

	t.Run("unknown match", func(t *testing.T) {
		recorder, _ := doJSONRequest(t, fixture.router, http.MethodGet, "/v1/matches/999/timeline", "", "")
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("unexpected status: got=%d want=404", recorder.Code)
		}
	})
}

func TestInternalJobRoutesRequireToken(t *testing.T) {
	fixture := newRouterFixture(t)

	t.Run("missing token", func(t *testing.T) {
		recorder, envelope := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/refresh", "", "")
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("unexpected status: got=%d want=401", recorder.Code)
		}
		errBody, ok := envelope["error"].(map[string]any)
		if !ok || errBody["status"] != "UNAUTHENTICATED" {
			t.Fatalf("unexpected error body: %v", envelope)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		recorder, _ := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/refresh", "", "nope")
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("unexpected status: got=%d want=401", recorder.Code)
		}
	})

	t.Run("unconfigured token rejects everything", func(t *testing.T) {
		handler := NewHandler(nil, nil, nil, nil, nil, slog.Default())
		router := NewRouter(handler, slog.Default(), nil, "")
		recorder, _ := doJSONRequest(t, router, http.MethodPost, "/v1/internal/jobs/refresh", "", testJobToken)
		if recorder.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status: got=%d want=503", recorder.Code)
		}
	})
}

func TestRunIngestJobEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	t.Run("runs configured competition", func(t *testing.T) {
		recorder, envelope := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/ingest",
			`{"competition_id": 8, "resources": ["matches"]}`, testJobToken)
		if recorder.Code != http.StatusOK {
			t.Fatalf("unexpected status: got=%d body=%s", recorder.Code, recorder.Body.String())
		}
		data := envelopeData(t, envelope)
		if data["success_count"] != float64(1) {
			t.Fatalf("unexpected report: %v", data)
		}
		if kinds := fixture.publisher.published(); len(kinds) != 1 || kinds[0] != "ingest" {
			t.Fatalf("unexpected published reports: %v", kinds)
		}
	})

	t.Run("rejects out of range workers", func(t *testing.T) {
		recorder, _ := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/ingest",
			`{"max_workers": 99}`, testJobToken)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: got=%d want=400", recorder.Code)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		recorder, _ := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/ingest",
			`{"competion_id": 8}`, testJobToken)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: got=%d want=400", recorder.Code)
		}
	})
}

func TestRunEnrichJobEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder, envelope := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/enrich",
		`{"match_id": 101}`, testJobToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d body=%s", recorder.Code, recorder.Body.String())
	}
	data := envelopeData(t, envelope)
	if data["match_id"] != float64(101) || data["status"] != match.EnrichmentComplete {
		t.Fatalf("unexpected enrich result: %v", data)
	}
	if kinds := fixture.publisher.published(); len(kinds) != 1 || kinds[0] != "enrich" {
		t.Fatalf("unexpected published reports: %v", kinds)
	}
}

func TestRunRefreshJobEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder, envelope := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/refresh", "", testJobToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d body=%s", recorder.Code, recorder.Body.String())
	}
	data := envelopeData(t, envelope)
	if data["refreshed_count"] != float64(1) {
		t.Fatalf("unexpected refresh report: %v", data)
	}
	if refreshed := fixture.refresher.Refreshed(); len(refreshed) != 1 {
		t.Fatalf("view was not rebuilt: %v", refreshed)
	}
}

func TestRefreshOneAggregateEndpoint(t *testing.T) {
	t.Run("full mode", func(t *testing.T) {
		fixture := newRouterFixture(t)
		recorder, envelope := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/refresh/cards_by_team_season",
			`{"mode": "full"}`, testJobToken)
		if recorder.Code != http.StatusOK {
			t.Fatalf("unexpected status: got=%d body=%s", recorder.Code, recorder.Body.String())
		}
		data := envelopeData(t, envelope)
		if data["status"] != "refreshed" || data["mode"] != "full" {
			t.Fatalf("unexpected outcome: %v", data)
		}
	})

	t.Run("locked aggregate conflicts", func(t *testing.T) {
		fixture := newRouterFixture(t)
		fixture.aggRepo.SeedLock("cards_by_team_season", "refresh-other", time.Now().UTC())

		recorder, envelope := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/refresh/cards_by_team_season",
			"", testJobToken)
		if recorder.Code != http.StatusConflict {
			t.Fatalf("unexpected status: got=%d want=409", recorder.Code)
		}
		errBody, ok := envelope["error"].(map[string]any)
		if !ok || errBody["status"] != "ABORTED" {
			t.Fatalf("unexpected error body: %v", envelope)
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		fixture := newRouterFixture(t)
		recorder, _ := doJSONRequest(t, fixture.router, http.MethodPost, "/v1/internal/jobs/refresh/cards_by_team_season",
			`{"mode": "turbo"}`, testJobToken)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: got=%d want=400", recorder.Code)
		}
	})
}

func TestListFetchJobsEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)
	if err := fixture.jobs.Save(context.Background(), ingest.Job{
		CompetitionID: 8,
		SeasonID:      25583,
		Resource:      ingest.ResourceMatches,
		Status:        ingest.StatusSucceeded,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	recorder, envelope := doJSONRequest(t, fixture.router, http.MethodGet, "/v1/internal/jobs/fetch", "", testJobToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d body=%s", recorder.Code, recorder.Body.String())
	}
	jobs, ok := envelope["data"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("unexpected jobs payload: %v", envelope["data"])
	}
	job, ok := jobs[0].(map[string]any)
	if !ok || job["resource"] != "matches" || job["status"] != "succeeded" {
		t.Fatalf("unexpected job dto: %v", jobs[0])
	}
}

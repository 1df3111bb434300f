package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
	"github.com/cardsight/cardsight/internal/infrastructure/repository/memory"
)

func newRefreshFixture(states []aggregate.State) (*RefreshService, *memory.AggregateRepository, *memory.ViewRefresher) {
	repo := memory.NewAggregateRepository(states)
	refresher := memory.NewViewRefresher()
	service := NewRefreshService(RefreshConfig{
		LockTimeout:      time.Minute,
		SourceVersionTTL: time.Millisecond,
	}, repo, refresher, nil, nil)
	return service, repo, refresher
}

func cardAggregateState(name string) aggregate.State {
	return aggregate.State{
		Name:          name,
		ViewName:      "mv_" + name,
		DependsOn:     []string{aggregate.SourceMatches, aggregate.SourceMatchEvents},
		BuiltVersions: map[string]int64{},
	}
}

func TestTick_RefreshesOnlyStaleAggregates(t *testing.T) {
	fresh := cardAggregateState("cards_by_team_season")
	fresh.BuiltVersions = map[string]int64{
		aggregate.SourceMatches:     1,
		aggregate.SourceMatchEvents: 1,
	}
	stale := cardAggregateState("cards_by_referee_season")
	stale.BuiltVersions = map[string]int64{
		aggregate.SourceMatches:     1,
		aggregate.SourceMatchEvents: 0,
	}

	service, repo, refresher := newRefreshFixture([]aggregate.State{fresh, stale})
	repo.BumpSourceVersion(aggregate.SourceMatches)
	repo.BumpSourceVersion(aggregate.SourceMatchEvents)

	report, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.AggregateCount != 2 {
		t.Fatalf("unexpected aggregate count: got=%d want=2", report.AggregateCount)
	}
	if report.FreshCount != 1 || report.RefreshedCount != 1 {
		t.Fatalf("unexpected counts: fresh=%d refreshed=%d", report.FreshCount, report.RefreshedCount)
	}

	refreshed := refresher.Refreshed()
	if len(refreshed) != 1 || refreshed[0] != "mv_cards_by_referee_season:concurrent" {
		t.Fatalf("unexpected refresh executions: %v", refreshed)
	}

	// The fresh aggregate's state stays untouched.
	state, _, err := repo.GetState(context.Background(), "cards_by_team_season")
	if err != nil {
		t.Fatalf("load fresh state: %v", err)
	}
	if state.LastRefreshedAt != nil {
		t.Fatalf("fresh aggregate was rebuilt: %+v", state)
	}

	// The stale aggregate's built versions advanced to the snapshot.
	state, _, err = repo.GetState(context.Background(), "cards_by_referee_season")
	if err != nil {
		t.Fatalf("load stale state: %v", err)
	}
	if state.BuiltVersions[aggregate.SourceMatchEvents] != 1 {
		t.Fatalf("built versions did not advance: %+v", state.BuiltVersions)
	}
	if state.LastRefreshedAt == nil {
		t.Fatalf("last_refreshed_at was not set")
	}
}

func TestFullRefresh_RebuildsFreshAggregatesInFullMode(t *testing.T) {
	fresh := cardAggregateState("cards_by_team_season")
	fresh.BuiltVersions = map[string]int64{
		aggregate.SourceMatches:     1,
		aggregate.SourceMatchEvents: 1,
	}

	service, repo, refresher := newRefreshFixture([]aggregate.State{fresh})
	repo.BumpSourceVersion(aggregate.SourceMatches)
	repo.BumpSourceVersion(aggregate.SourceMatchEvents)

	report, err := service.FullRefresh(context.Background())
	if err != nil {
		t.Fatalf("full refresh: %v", err)
	}
	if report.RefreshedCount != 1 || report.FreshCount != 0 {
		t.Fatalf("unexpected counts: refreshed=%d fresh=%d", report.RefreshedCount, report.FreshCount)
	}

	refreshed := refresher.Refreshed()
	if len(refreshed) != 1 || refreshed[0] != "mv_cards_by_team_season:full" {
		t.Fatalf("unexpected refresh executions: %v", refreshed)
	}
}

func TestTick_SecondTickFindsEverythingFresh(t *testing.T) {
	state := cardAggregateState("cards_by_team_season")
	service, repo, refresher := newRefreshFixture([]aggregate.State{state})
	repo.BumpSourceVersion(aggregate.SourceMatches)

	if _, err := service.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	report, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if report.FreshCount != 1 || report.RefreshedCount != 0 {
		t.Fatalf("unexpected counts: fresh=%d refreshed=%d", report.FreshCount, report.RefreshedCount)
	}
	if len(refresher.Refreshed()) != 1 {
		t.Fatalf("aggregate was rebuilt without new source data: %v", refresher.Refreshed())
	}
}

func TestTick_SkipsLockedAggregate(t *testing.T) {
	state := cardAggregateState("cards_by_team_season")
	service, repo, refresher := newRefreshFixture([]aggregate.State{state})
	repo.BumpSourceVersion(aggregate.SourceMatches)
	repo.SeedLock("cards_by_team_season", "refresh-other", time.Now().UTC())

	report, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.SkippedCount != 1 || report.RefreshedCount != 0 {
		t.Fatalf("unexpected counts: skipped=%d refreshed=%d", report.SkippedCount, report.RefreshedCount)
	}
	if len(refresher.Refreshed()) != 0 {
		t.Fatalf("locked aggregate was refreshed: %v", refresher.Refreshed())
	}

	// The foreign lock stays in place.
	locks := repo.HeldLocks()
	if len(locks) != 1 || locks[0].Holder != "refresh-other" {
		t.Fatalf("unexpected lock state: %+v", locks)
	}
}

func TestTick_BreaksAbandonedLock(t *testing.T) {
	state := cardAggregateState("cards_by_team_season")
	service, repo, refresher := newRefreshFixture([]aggregate.State{state})
	repo.BumpSourceVersion(aggregate.SourceMatches)
	repo.SeedLock("cards_by_team_season", "refresh-dead", time.Now().UTC().Add(-2*time.Hour))

	report, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.RefreshedCount != 1 {
		t.Fatalf("abandoned lock was not broken: %+v", report)
	}
	if len(refresher.Refreshed()) != 1 {
		t.Fatalf("view was not rebuilt after breaking the lock")
	}
	if locks := repo.HeldLocks(); len(locks) != 0 {
		t.Fatalf("lock was not released after refresh: %+v", locks)
	}
}

func TestTick_FailedRefreshKeepsStateAndReleasesLock(t *testing.T) {
	state := cardAggregateState("cards_by_team_season")
	service, repo, refresher := newRefreshFixture([]aggregate.State{state})
	repo.BumpSourceVersion(aggregate.SourceMatches)
	refresher.FailWith("mv_cards_by_team_season", fmt.Errorf("relation does not exist"))

	report, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.FailedCount != 1 {
		t.Fatalf("unexpected failed count: got=%d want=1", report.FailedCount)
	}

	stored, _, err := repo.GetState(context.Background(), "cards_by_team_season")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if stored.LastRefreshedAt != nil || len(stored.BuiltVersions) != 0 {
		t.Fatalf("failed refresh advanced state: %+v", stored)
	}
	if locks := repo.HeldLocks(); len(locks) != 0 {
		t.Fatalf("failed refresh leaked its lock: %+v", locks)
	}
}

func TestRefreshOne_ModesAndErrors(t *testing.T) {
	t.Run("full mode", func(t *testing.T) {
		state := cardAggregateState("cards_by_team_season")
		service, _, refresher := newRefreshFixture([]aggregate.State{state})

		outcome, err := service.RefreshOne(context.Background(), "cards_by_team_season", "full")
		if err != nil {
			t.Fatalf("refresh one: %v", err)
		}
		if outcome.Status != "refreshed" || outcome.Mode != "full" {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		refreshed := refresher.Refreshed()
		if len(refreshed) != 1 || refreshed[0] != "mv_cards_by_team_season:full" {
			t.Fatalf("unexpected refresh executions: %v", refreshed)
		}
	})

	t.Run("empty mode defaults to concurrent", func(t *testing.T) {
		state := cardAggregateState("cards_by_team_season")
		service, _, refresher := newRefreshFixture([]aggregate.State{state})

		outcome, err := service.RefreshOne(context.Background(), "cards_by_team_season", "")
		if err != nil {
			t.Fatalf("refresh one: %v", err)
		}
		if outcome.Mode != "concurrent" {
			t.Fatalf("unexpected mode: %s", outcome.Mode)
		}
		refreshed := refresher.Refreshed()
		if len(refreshed) != 1 || refreshed[0] != "mv_cards_by_team_season:concurrent" {
			t.Fatalf("unexpected refresh executions: %v", refreshed)
		}
	})

	t.Run("unknown aggregate", func(t *testing.T) {
		service, _, _ := newRefreshFixture(nil)
		_, err := service.RefreshOne(context.Background(), "nope", "")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unsupported mode", func(t *testing.T) {
		service, _, _ := newRefreshFixture([]aggregate.State{cardAggregateState("cards_by_team_season")})
		_, err := service.RefreshOne(context.Background(), "cards_by_team_season", "turbo")
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("held lock", func(t *testing.T) {
		state := cardAggregateState("cards_by_team_season")
		service, repo, _ := newRefreshFixture([]aggregate.State{state})
		repo.SeedLock("cards_by_team_season", "refresh-other", time.Now().UTC())

		_, err := service.RefreshOne(context.Background(), "cards_by_team_season", "")
		if !errors.Is(err, ErrLockTimeout) {
			t.Fatalf("expected ErrLockTimeout, got %v", err)
		}
	})
}

func TestRefreshOne_BuiltVersionsNeverDecrease(t *testing.T) {
	state := cardAggregateState("cards_by_team_season")
	service, repo, _ := newRefreshFixture([]aggregate.State{state})

	repo.BumpSourceVersion(aggregate.SourceMatches)
	repo.BumpSourceVersion(aggregate.SourceMatches)
	if _, err := service.RefreshOne(context.Background(), "cards_by_team_season", ""); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	first, _, err := repo.GetState(context.Background(), "cards_by_team_season")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	repo.BumpSourceVersion(aggregate.SourceMatches)
	if _, err := service.RefreshOne(context.Background(), "cards_by_team_season", ""); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	second, _, err := repo.GetState(context.Background(), "cards_by_team_season")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	for _, dep := range second.DependsOn {
		if second.BuiltVersions[dep] < first.BuiltVersions[dep] {
			t.Fatalf("built version regressed for %s: %d -> %d", dep, first.BuiltVersions[dep], second.BuiltVersions[dep])
		}
	}
	if second.BuiltVersions[aggregate.SourceMatches] != 3 {
		t.Fatalf("unexpected built version: got=%d want=3", second.BuiltVersions[aggregate.SourceMatches])
	}
}

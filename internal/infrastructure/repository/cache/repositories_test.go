package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
	"github.com/cardsight/cardsight/internal/infrastructure/repository/memory"
	basecache "github.com/cardsight/cardsight/internal/platform/cache"
)

type countingTeamRepository struct {
	next  team.Repository
	calls atomic.Int64
}

func (r *countingTeamRepository) GetByID(ctx context.Context, teamID int64) (team.Team, bool, error) {
	r.calls.Add(1)
	return r.next.GetByID(ctx, teamID)
}

func (r *countingTeamRepository) ListByIDs(ctx context.Context, teamIDs []int64) ([]team.Team, error) {
	r.calls.Add(1)
	return r.next.ListByIDs(ctx, teamIDs)
}

type countingRefereeRepository struct {
	next  referee.Repository
	calls atomic.Int64
}

func (r *countingRefereeRepository) ListByMatch(ctx context.Context, matchID int64) ([]referee.Referee, error) {
	r.calls.Add(1)
	return r.next.ListByMatch(ctx, matchID)
}

func TestTeamRepository_GetByIDServesRepeatsFromCache(t *testing.T) {
	ctx := context.Background()
	next := &countingTeamRepository{next: memory.NewTeamRepository([]team.Team{
		{ID: 10, Name: "Arsenal", Short: "ARS"},
	})}
	repo := NewTeamRepository(next, basecache.NewStore(time.Minute))

	for i := 0; i < 3; i++ {
		item, exists, err := repo.GetByID(ctx, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !exists || item.Name != "Arsenal" {
			t.Fatalf("unexpected team: exists=%t name=%q", exists, item.Name)
		}
	}
	if got := next.calls.Load(); got != 1 {
		t.Fatalf("unexpected backing calls: got=%d want=1", got)
	}
}

func TestTeamRepository_GetByIDCachesMisses(t *testing.T) {
	ctx := context.Background()
	next := &countingTeamRepository{next: memory.NewTeamRepository(nil)}
	repo := NewTeamRepository(next, basecache.NewStore(time.Minute))

	for i := 0; i < 2; i++ {
		_, exists, err := repo.GetByID(ctx, 404)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if exists {
			t.Fatalf("unexpected hit for unknown team")
		}
	}
	if got := next.calls.Load(); got != 1 {
		t.Fatalf("unexpected backing calls: got=%d want=1", got)
	}
}

func TestTeamRepository_ListByIDsLoadsOnlyMissingIDs(t *testing.T) {
	ctx := context.Background()
	next := &countingTeamRepository{next: memory.NewTeamRepository([]team.Team{
		{ID: 10, Name: "Arsenal", Short: "ARS"},
		{ID: 11, Name: "Chelsea", Short: "CHE"},
	})}
	repo := NewTeamRepository(next, basecache.NewStore(time.Minute))

	if _, _, err := repo.GetByID(ctx, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, err := repo.ListByIDs(ctx, []int64{10, 11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("unexpected team count: got=%d want=2", len(items))
	}
	if got := next.calls.Load(); got != 2 {
		t.Fatalf("unexpected backing calls: got=%d want=2", got)
	}

	items, err = repo.ListByIDs(ctx, []int64{10, 11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("unexpected team count on cached read: got=%d want=2", len(items))
	}
	if got := next.calls.Load(); got != 2 {
		t.Fatalf("cached read hit the backing repository: calls=%d", got)
	}
}

func TestRefereeRepository_ListByMatchCachesPerMatch(t *testing.T) {
	ctx := context.Background()
	next := &countingRefereeRepository{next: memory.NewRefereeRepository(
		[]referee.Referee{{ID: 6, Name: "Michael Oliver"}},
		[]referee.Assignment{{MatchID: 101, RefereeID: 6, TypeID: 6}},
	)}
	repo := NewRefereeRepository(next, basecache.NewStore(time.Minute))

	for i := 0; i < 2; i++ {
		items, err := repo.ListByMatch(ctx, 101)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 1 || items[0].Name != "Michael Oliver" {
			t.Fatalf("unexpected referees: %+v", items)
		}
	}
	if got := next.calls.Load(); got != 1 {
		t.Fatalf("unexpected backing calls: got=%d want=1", got)
	}

	items, err := repo.ListByMatch(ctx, 102)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("unexpected referees for other match: %+v", items)
	}
	if got := next.calls.Load(); got != 2 {
		t.Fatalf("unexpected backing calls: got=%d want=2", got)
	}
}

func TestRefereeRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	next := memory.NewRefereeRepository(
		[]referee.Referee{{ID: 6, Name: "Michael Oliver"}},
		[]referee.Assignment{{MatchID: 101, RefereeID: 6, TypeID: 6}},
	)
	repo := NewRefereeRepository(next, basecache.NewStore(time.Minute))

	first, err := repo.ListByMatch(ctx, 101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first[0].Name = "mutated"

	second, err := repo.ListByMatch(ctx, 101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second[0].Name != "Michael Oliver" {
		t.Fatalf("cached slice was mutated by caller: %q", second[0].Name)
	}
}

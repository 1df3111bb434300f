package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
)

type AggregateRepository struct {
	mu       sync.RWMutex
	states   map[string]aggregate.State
	versions map[string]int64
	locks    map[string]aggregate.Lock
}

func NewAggregateRepository(states []aggregate.State) *AggregateRepository {
	byName := make(map[string]aggregate.State, len(states))
	for _, item := range states {
		byName[item.Name] = cloneState(item)
	}
	return &AggregateRepository{
		states:   byName,
		versions: make(map[string]int64),
		locks:    make(map[string]aggregate.Lock),
	}
}

func (r *AggregateRepository) ListStates(_ context.Context) ([]aggregate.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]aggregate.State, 0, len(r.states))
	for _, item := range r.states {
		out = append(out, cloneState(item))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *AggregateRepository) GetState(_ context.Context, name string) (aggregate.State, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.states[name]
	if !ok {
		return aggregate.State{}, false, nil
	}
	return cloneState(item), true, nil
}

func (r *AggregateRepository) SaveState(_ context.Context, state aggregate.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.Name] = cloneState(state)
	return nil
}

func (r *AggregateRepository) SourceVersions(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.versions))
	for name, version := range r.versions {
		out[name] = version
	}
	return out, nil
}

func (r *AggregateRepository) BumpSourceVersion(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[name]++
}

func (r *AggregateRepository) TryAcquireLock(_ context.Context, name, holder string) (bool, aggregate.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.locks[name]; ok {
		return false, current, nil
	}
	lock := aggregate.Lock{Name: name, Holder: holder, AcquiredAt: time.Now().UTC()}
	r.locks[name] = lock
	return true, lock, nil
}

// SeedLock plants a held lock, optionally backdated, for contention tests.
func (r *AggregateRepository) SeedLock(name, holder string, acquiredAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.locks[name] = aggregate.Lock{Name: name, Holder: holder, AcquiredAt: acquiredAt}
}

func (r *AggregateRepository) ReleaseLock(_ context.Context, name, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.locks[name]; ok && current.Holder == holder {
		delete(r.locks, name)
	}
	return nil
}

func (r *AggregateRepository) ForceReleaseLock(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.locks, name)
	return nil
}

func (r *AggregateRepository) HeldLocks() []aggregate.Lock {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]aggregate.Lock, 0, len(r.locks))
	for _, lock := range r.locks {
		out = append(out, lock)
	}
	return out
}

func cloneState(state aggregate.State) aggregate.State {
	out := state
	out.DependsOn = append([]string(nil), state.DependsOn...)
	out.BuiltVersions = make(map[string]int64, len(state.BuiltVersions))
	for name, version := range state.BuiltVersions {
		out.BuiltVersions[name] = version
	}
	return out
}

// ViewRefresher records refresh executions and can be primed to fail.
type ViewRefresher struct {
	mu        sync.Mutex
	refreshed []string
	failures  map[string]error
}

func NewViewRefresher() *ViewRefresher {
	return &ViewRefresher{failures: make(map[string]error)}
}

func (f *ViewRefresher) FailWith(viewName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[viewName] = err
}

func (f *ViewRefresher) RefreshView(_ context.Context, viewName string, mode aggregate.RefreshMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failures[viewName]; ok {
		return err
	}
	f.refreshed = append(f.refreshed, viewName+":"+string(mode))
	return nil
}

func (f *ViewRefresher) Refreshed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.refreshed))
	copy(out, f.refreshed)
	return out
}

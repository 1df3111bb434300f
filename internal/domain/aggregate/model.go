package aggregate

import (
	"fmt"
	"time"
)

// Source version counters. Writers increment the matching counter inside
// the same transaction as the data they change; aggregates remember the
// counter values they were last built from.
const (
	SourceMatches        = "matches"
	SourceMatchEvents    = "match_events"
	SourceEnrichedEvents = "match_events_enriched"
	SourceTeams          = "teams"
	SourceReferees       = "referees"
)

type RefreshMode string

const (
	// ModeFull rebuilds the view with an exclusive lock; readers block.
	ModeFull RefreshMode = "full"
	// ModeConcurrent rebuilds without blocking readers; requires the
	// view's unique index and costs more.
	ModeConcurrent RefreshMode = "concurrent"
)

func ParseRefreshMode(raw string) (RefreshMode, bool) {
	switch RefreshMode(raw) {
	case ModeFull, ModeConcurrent:
		return RefreshMode(raw), true
	case "":
		return ModeConcurrent, true
	default:
		return "", false
	}
}

// State tracks one materialized aggregate: which sources it depends on and
// the source versions captured at its last successful rebuild.
type State struct {
	Name            string
	ViewName        string
	DependsOn       []string
	BuiltVersions   map[string]int64
	LastRefreshedAt *time.Time
	LastDurationMs  int64
}

func (s State) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("aggregate name is required")
	}
	if s.ViewName == "" {
		return fmt.Errorf("aggregate view name is required")
	}
	if len(s.DependsOn) == 0 {
		return fmt.Errorf("aggregate must depend on at least one source")
	}
	return nil
}

// Stale reports whether any dependency moved past the version the
// aggregate was built from. A dependency never built is always stale.
func (s State) Stale(current map[string]int64) bool {
	for _, dep := range s.DependsOn {
		built, ok := s.BuiltVersions[dep]
		if !ok {
			return true
		}
		if current[dep] > built {
			return true
		}
	}
	return false
}

// Lock guards one aggregate against concurrent refreshes. Acquisition is
// non-blocking; a holder that disappears is reclaimed after a timeout.
type Lock struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
}

// Abandoned reports whether the lock has been held longer than the allowed
// refresh duration.
func (l Lock) Abandoned(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(l.AcquiredAt) > timeout
}

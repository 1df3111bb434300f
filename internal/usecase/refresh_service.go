package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
	"github.com/cardsight/cardsight/internal/platform/cache"
	"github.com/cardsight/cardsight/internal/platform/logging"
)

const (
	refreshStatusRefreshed = "refreshed"
	refreshStatusFresh     = "fresh"
	refreshStatusSkipped   = "skipped"
	refreshStatusFailed    = "failed"

	sourceVersionsCacheKey = "aggregate:source_versions"
)

type RefreshConfig struct {
	// LockTimeout is how long a held lock may sit before a later tick
	// treats it as abandoned and breaks it.
	LockTimeout time.Duration
	// SourceVersionTTL bounds how long one tick reuses the version
	// snapshot across aggregates.
	SourceVersionTTL time.Duration
}

type holderIDGenerator interface {
	NewID() (string, error)
}

type RefreshService struct {
	cfg       RefreshConfig
	repo      aggregate.Repository
	refresher aggregate.ViewRefresher
	idgen     holderIDGenerator
	versions  *cache.Store
	logger    *logging.Logger
}

func NewRefreshService(
	cfg RefreshConfig,
	repo aggregate.Repository,
	refresher aggregate.ViewRefresher,
	idgen holderIDGenerator,
	logger *logging.Logger,
) *RefreshService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 15 * time.Minute
	}
	if cfg.SourceVersionTTL <= 0 {
		cfg.SourceVersionTTL = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RefreshService{
		cfg:       cfg,
		repo:      repo,
		refresher: refresher,
		idgen:     idgen,
		versions:  cache.NewStore(cfg.SourceVersionTTL),
		logger:    logger,
	}
}

type RefreshOutcome struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Mode       string `json:"mode,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

type RefreshReport struct {
	AggregateCount int              `json:"aggregate_count"`
	RefreshedCount int              `json:"refreshed_count"`
	FreshCount     int              `json:"fresh_count"`
	SkippedCount   int              `json:"skipped_count"`
	FailedCount    int              `json:"failed_count"`
	Outcomes       []RefreshOutcome `json:"outcomes"`
}

// Tick walks every registered aggregate, refreshing the stale ones
// concurrently. Locked aggregates are skipped, not waited on; the next tick
// will catch them.
func (s *RefreshService) Tick(ctx context.Context) (RefreshReport, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RefreshService.Tick")
	defer span.End()

	return s.walk(ctx, aggregate.ModeConcurrent, false)
}

// FullRefresh rebuilds every aggregate regardless of staleness, in full
// (non-concurrent) mode. Intended for a long-interval schedule; it reclaims
// the bloat CONCURRENTLY rebuilds accumulate.
func (s *RefreshService) FullRefresh(ctx context.Context) (RefreshReport, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RefreshService.FullRefresh")
	defer span.End()

	return s.walk(ctx, aggregate.ModeFull, true)
}

func (s *RefreshService) walk(ctx context.Context, mode aggregate.RefreshMode, force bool) (RefreshReport, error) {
	if s.repo == nil || s.refresher == nil {
		return RefreshReport{}, fmt.Errorf("%w: refresh service is not fully configured", ErrDependencyUnavailable)
	}

	states, err := s.repo.ListStates(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("list aggregate states: %w", err)
	}
	sort.SliceStable(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	current, err := s.sourceVersions(ctx)
	if err != nil {
		return RefreshReport{}, err
	}

	report := RefreshReport{
		AggregateCount: len(states),
		Outcomes:       make([]RefreshOutcome, 0, len(states)),
	}
	for _, state := range states {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !force && !state.Stale(current) {
			report.FreshCount++
			report.Outcomes = append(report.Outcomes, RefreshOutcome{Name: state.Name, Status: refreshStatusFresh})
			continue
		}

		outcome := s.refreshLocked(ctx, state, mode, current)
		switch outcome.Status {
		case refreshStatusRefreshed:
			report.RefreshedCount++
		case refreshStatusSkipped:
			report.SkippedCount++
		default:
			report.FailedCount++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

// RefreshOne refreshes a single aggregate unconditionally, regardless of
// staleness. Manual invocations pick the rebuild mode.
func (s *RefreshService) RefreshOne(ctx context.Context, name, rawMode string) (RefreshOutcome, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RefreshService.RefreshOne")
	defer span.End()

	if s.repo == nil || s.refresher == nil {
		return RefreshOutcome{}, fmt.Errorf("%w: refresh service is not fully configured", ErrDependencyUnavailable)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return RefreshOutcome{}, fmt.Errorf("%w: aggregate name is required", ErrInvalidInput)
	}
	mode, ok := aggregate.ParseRefreshMode(rawMode)
	if !ok {
		return RefreshOutcome{}, fmt.Errorf("%w: unsupported refresh mode=%s", ErrInvalidInput, rawMode)
	}

	state, found, err := s.repo.GetState(ctx, name)
	if err != nil {
		return RefreshOutcome{}, fmt.Errorf("load aggregate state: %w", err)
	}
	if !found {
		return RefreshOutcome{}, fmt.Errorf("%w: aggregate=%s", ErrNotFound, name)
	}

	current, err := s.sourceVersions(ctx)
	if err != nil {
		return RefreshOutcome{}, err
	}

	outcome := s.refreshLocked(ctx, state, mode, current)
	if outcome.Status == refreshStatusSkipped {
		return outcome, fmt.Errorf("%w: aggregate=%s is locked by another refresh", ErrLockTimeout, name)
	}
	return outcome, nil
}

func (s *RefreshService) refreshLocked(ctx context.Context, state aggregate.State, mode aggregate.RefreshMode, current map[string]int64) RefreshOutcome {
	outcome := RefreshOutcome{Name: state.Name, Mode: string(mode)}

	holder, err := s.newHolderToken()
	if err != nil {
		outcome.Status = refreshStatusFailed
		outcome.Message = fmt.Sprintf("generate lock holder: %v", err)
		return outcome
	}

	acquired, currentLock, err := s.repo.TryAcquireLock(ctx, state.Name, holder)
	if err != nil {
		outcome.Status = refreshStatusFailed
		outcome.Message = fmt.Sprintf("acquire refresh lock: %v", err)
		return outcome
	}
	if !acquired {
		if !currentLock.Abandoned(time.Now().UTC(), s.cfg.LockTimeout) {
			outcome.Status = refreshStatusSkipped
			outcome.Message = fmt.Sprintf("locked by %s since %s", currentLock.Holder, currentLock.AcquiredAt.Format(time.RFC3339))
			return outcome
		}

		// The previous holder never released; the refresh it was running
		// counts as failed, so the lock is broken and retaken.
		s.logger.WarnContext(ctx, "breaking abandoned refresh lock",
			"aggregate", state.Name,
			"holder", currentLock.Holder,
			"acquired_at", currentLock.AcquiredAt,
		)
		if err := s.repo.ForceReleaseLock(ctx, state.Name); err != nil {
			outcome.Status = refreshStatusFailed
			outcome.Message = fmt.Sprintf("break abandoned lock: %v", err)
			return outcome
		}
		acquired, _, err = s.repo.TryAcquireLock(ctx, state.Name, holder)
		if err != nil || !acquired {
			outcome.Status = refreshStatusSkipped
			outcome.Message = "lost race retaking broken lock"
			return outcome
		}
	}
	defer func() {
		if err := s.repo.ReleaseLock(ctx, state.Name, holder); err != nil {
			s.logger.WarnContext(ctx, "release refresh lock failed", "aggregate", state.Name, "error", err)
		}
	}()

	start := time.Now()
	if err := s.refresher.RefreshView(ctx, state.ViewName, mode); err != nil {
		outcome.Status = refreshStatusFailed
		outcome.Message = fmt.Sprintf("refresh %s: %v", state.ViewName, err)
		return outcome
	}
	outcome.DurationMs = time.Since(start).Milliseconds()

	// Versions were snapshotted BEFORE the rebuild started, so a source
	// bump that lands mid-refresh keeps the aggregate stale.
	if state.BuiltVersions == nil {
		state.BuiltVersions = make(map[string]int64, len(state.DependsOn))
	}
	for _, dep := range state.DependsOn {
		state.BuiltVersions[dep] = current[dep]
	}
	now := time.Now().UTC()
	state.LastRefreshedAt = &now
	state.LastDurationMs = outcome.DurationMs
	if err := s.repo.SaveState(ctx, state); err != nil {
		outcome.Status = refreshStatusFailed
		outcome.Message = fmt.Sprintf("save aggregate state: %v", err)
		return outcome
	}

	outcome.Status = refreshStatusRefreshed
	return outcome
}

func (s *RefreshService) sourceVersions(ctx context.Context) (map[string]int64, error) {
	value, err := s.versions.GetOrLoad(ctx, sourceVersionsCacheKey, func(ctx context.Context) (any, error) {
		versions, err := s.repo.SourceVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load source versions: %w", err)
		}
		return versions, nil
	})
	if err != nil {
		return nil, err
	}
	versions, ok := value.(map[string]int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected source version cache entry", ErrDependencyUnavailable)
	}
	return versions, nil
}

func (s *RefreshService) newHolderToken() (string, error) {
	if s.idgen == nil {
		return fmt.Sprintf("refresh-%d", time.Now().UnixNano()), nil
	}
	id, err := s.idgen.NewID()
	if err != nil {
		return "", err
	}
	return "refresh-" + id, nil
}

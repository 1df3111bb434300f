package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/cardsight/cardsight/internal/domain/aggregate"
	"github.com/cardsight/cardsight/internal/domain/ingest"
	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
	"github.com/cardsight/cardsight/internal/platform/logging"
)

const (
	ingestStatusSuccess = "success"
	ingestStatusFailed  = "failed"
	ingestStatusSkipped = "skipped"

	defaultIngestWorkers = 4
	maxIngestWorkers     = 8
)

type IngestionConfig struct {
	Enabled bool
	// SeasonIDByCompetition maps each configured competition to the season
	// currently being tracked.
	SeasonIDByCompetition map[int64]int64
	MaxWorkers            int
	MaxJobRetries         int
	RetryBackoff          time.Duration
	// AbandonedJobTimeout bounds how long a persisted "running" job is
	// trusted. Past it the holder is presumed crashed and the job is
	// reclaimed, resuming from its cursor. Zero disables reclaiming.
	AbandonedJobTimeout time.Duration
}

type IngestInput struct {
	// CompetitionID narrows the run to one competition; zero means every
	// configured competition.
	CompetitionID int64
	// Resources narrows the resource kinds; empty means all of them.
	Resources  []string
	MaxWorkers int
	DryRun     bool
}

type IngestReport struct {
	TargetCount  int                `json:"target_count"`
	TaskCount    int                `json:"task_count"`
	SuccessCount int                `json:"success_count"`
	FailedCount  int                `json:"failed_count"`
	SkippedCount int                `json:"skipped_count"`
	WorkerCount  int                `json:"worker_count"`
	Tasks        []IngestTaskResult `json:"tasks"`
}

type IngestTaskResult struct {
	CompetitionID int64  `json:"competition_id"`
	SeasonID      int64  `json:"season_id"`
	Resource      string `json:"resource"`
	Status        string `json:"status"`
	Pages         int    `json:"pages"`
	Records       int    `json:"records"`
	Rejected      int    `json:"rejected"`
	DurationMs    int64  `json:"duration_ms"`
	Message       string `json:"message,omitempty"`
}

type IngestionService struct {
	cfg      IngestionConfig
	provider MatchDataProvider
	jobs     ingest.JobRepository
	writer   ingest.PageWriter
	logger   *logging.Logger
}

func NewIngestionService(
	cfg IngestionConfig,
	provider MatchDataProvider,
	jobs ingest.JobRepository,
	writer ingest.PageWriter,
	logger *logging.Logger,
) *IngestionService {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestionService{
		cfg:      cfg,
		provider: provider,
		jobs:     jobs,
		writer:   writer,
		logger:   logger,
	}
}

type ingestTarget struct {
	competitionID int64
	seasonID      int64
}

// ScheduleIngestion fans one fetch job per (competition, season, resource)
// out over a bounded worker pool and collects an aggregate report. A failing
// job never aborts its siblings.
func (s *IngestionService) ScheduleIngestion(ctx context.Context, input IngestInput) (IngestReport, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestionService.ScheduleIngestion")
	defer span.End()

	if !s.cfg.Enabled {
		return IngestReport{}, fmt.Errorf("%w: ingestion is disabled", ErrDependencyUnavailable)
	}
	if s.provider == nil || s.jobs == nil || s.writer == nil {
		return IngestReport{}, fmt.Errorf("%w: ingestion service is not fully configured", ErrDependencyUnavailable)
	}

	targets, err := s.resolveTargets(input.CompetitionID)
	if err != nil {
		return IngestReport{}, err
	}
	resources, err := normalizeIngestResources(input.Resources)
	if err != nil {
		return IngestReport{}, err
	}

	tasks := make([]ingest.Job, 0, len(targets)*len(resources))
	for _, target := range targets {
		for _, resource := range resources {
			tasks = append(tasks, ingest.Job{
				CompetitionID: target.competitionID,
				SeasonID:      target.seasonID,
				Resource:      resource,
			})
		}
	}

	workerCount := normalizeIngestWorkerCount(firstPositive(input.MaxWorkers, s.cfg.MaxWorkers), len(tasks))
	report := IngestReport{
		TargetCount: len(targets),
		TaskCount:   len(tasks),
		WorkerCount: workerCount,
		Tasks:       make([]IngestTaskResult, 0, len(tasks)),
	}
	if len(tasks) == 0 {
		return report, nil
	}

	results := make(chan IngestTaskResult, len(tasks))

	var successCount atomic.Int32
	var failedCount atomic.Int32
	var skippedCount atomic.Int32

	pool, err := ants.NewPool(workerCount)
	if err != nil {
		return IngestReport{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var workers sync.WaitGroup
	for _, task := range tasks {
		task := task
		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()

			start := time.Now()
			row := IngestTaskResult{
				CompetitionID: task.CompetitionID,
				SeasonID:      task.SeasonID,
				Resource:      string(task.Resource),
			}

			outcome := s.runJob(ctx, task, input.DryRun)
			row.Status = outcome.status
			row.Pages = outcome.pages
			row.Records = outcome.records
			row.Rejected = outcome.rejected
			row.Message = outcome.message
			row.DurationMs = time.Since(start).Milliseconds()

			switch outcome.status {
			case ingestStatusSuccess:
				successCount.Add(1)
			case ingestStatusSkipped:
				skippedCount.Add(1)
			default:
				failedCount.Add(1)
			}

			results <- row
		}); err != nil {
			workers.Done()
			return IngestReport{}, fmt.Errorf("submit task to worker pool: %w", err)
		}
	}

	workers.Wait()
	close(results)

	for row := range results {
		report.Tasks = append(report.Tasks, row)
	}

	sort.SliceStable(report.Tasks, func(i, j int) bool {
		if report.Tasks[i].CompetitionID != report.Tasks[j].CompetitionID {
			return report.Tasks[i].CompetitionID < report.Tasks[j].CompetitionID
		}
		return report.Tasks[i].Resource < report.Tasks[j].Resource
	})

	report.SuccessCount = int(successCount.Load())
	report.FailedCount = int(failedCount.Load())
	report.SkippedCount = int(skippedCount.Load())
	return report, nil
}

// ListJobs exposes persisted fetch job state for the internal API.
func (s *IngestionService) ListJobs(ctx context.Context) ([]ingest.Job, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestionService.ListJobs")
	defer span.End()

	if s.jobs == nil {
		return nil, fmt.Errorf("%w: ingestion service is not fully configured", ErrDependencyUnavailable)
	}
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fetch jobs: %w", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Key() < jobs[j].Key()
	})
	return jobs, nil
}

type ingestOutcome struct {
	status   string
	pages    int
	records  int
	rejected int
	message  string
}

func (s *IngestionService) runJob(ctx context.Context, task ingest.Job, dryRun bool) ingestOutcome {
	job, found, err := s.jobs.Get(ctx, task.CompetitionID, task.SeasonID, task.Resource)
	if err != nil {
		return ingestOutcome{status: ingestStatusFailed, message: fmt.Sprintf("load fetch job: %v", err)}
	}
	if !found {
		job = task
	}
	now := time.Now().UTC()
	if job.Status == ingest.StatusRunning {
		if !job.Abandoned(now, s.cfg.AbandonedJobTimeout) {
			return ingestOutcome{status: ingestStatusSkipped, message: "fetch job is already running"}
		}
		// The holder crashed mid-run; the cursor marks the last committed
		// page, so reclaiming and resuming is safe.
		s.logger.WarnContext(ctx, "reclaiming abandoned fetch job",
			"job", job.Key(),
			"page_cursor", job.PageCursor,
			"started_at", job.StartedAt,
		)
	}

	job.Status = ingest.StatusRunning
	job.StartedAt = &now
	job.FinishedAt = nil
	job.LastError = ""
	if !dryRun {
		if err := s.jobs.Save(ctx, job); err != nil {
			return ingestOutcome{status: ingestStatusFailed, message: fmt.Sprintf("save fetch job: %v", err)}
		}
	}

	outcome := s.runJobPages(ctx, &job, dryRun)

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	if outcome.status == ingestStatusSuccess {
		job.Status = ingest.StatusSucceeded
		// A complete pass invalidates the cursor; the next run starts over.
		job.PageCursor = 0
		job.Attempts = 0
	} else {
		job.Status = ingest.StatusFailed
		job.Attempts++
		job.LastError = outcome.message
	}
	if !dryRun {
		if err := s.jobs.Save(ctx, job); err != nil {
			s.logger.WarnContext(ctx, "persist fetch job state failed", "job", job.Key(), "error", err)
		}
	}
	return outcome
}

func (s *IngestionService) runJobPages(ctx context.Context, job *ingest.Job, dryRun bool) ingestOutcome {
	out := ingestOutcome{status: ingestStatusSuccess}

	page := job.PageCursor + 1
	for {
		if err := ctx.Err(); err != nil {
			out.status = ingestStatusFailed
			out.message = err.Error()
			return out
		}

		external, err := s.fetchPageWithRetry(ctx, ProviderPageRequest{
			CompetitionID: job.CompetitionID,
			SeasonID:      job.SeasonID,
			Resource:      job.Resource,
			Page:          page,
		})
		if err != nil {
			out.status = ingestStatusFailed
			out.message = fmt.Sprintf("fetch %s page=%d: %v", job.Resource, page, err)
			return out
		}

		data := s.mapPage(*job, page, external)
		out.records += len(data.Matches) + len(data.Events) + len(data.Teams) + len(data.Referees)
		out.rejected += len(external.Rejected)
		out.pages++

		for _, rejected := range external.Rejected {
			s.logger.WarnContext(ctx, "quarantined upstream record",
				"resource", rejected.Resource,
				"key", rejected.Key,
				"reason", rejected.Reason,
			)
		}

		if !dryRun {
			if err := s.writer.SavePage(ctx, data); err != nil {
				out.status = ingestStatusFailed
				out.message = fmt.Sprintf("save %s page=%d: %v", job.Resource, page, err)
				return out
			}
		}
		job.PageCursor = page

		if !external.HasMore {
			return out
		}
		page++
	}
}

func (s *IngestionService) fetchPageWithRetry(ctx context.Context, req ProviderPageRequest) (ExternalPage, error) {
	maxRetries := s.cfg.MaxJobRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoffUnit := s.cfg.RetryBackoff
	if backoffUnit <= 0 {
		backoffUnit = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		page, err := s.provider.FetchPage(ctx, req)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransientFetch) {
			return ExternalPage{}, err
		}
		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(attempt+1) * backoffUnit
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ExternalPage{}, ctx.Err()
		case <-timer.C:
		}
	}
	return ExternalPage{}, lastErr
}

func (s *IngestionService) mapPage(job ingest.Job, page int, external ExternalPage) ingest.PageData {
	data := ingest.PageData{Job: job}
	data.Job.PageCursor = page

	bumps := make(map[string]struct{}, 4)

	teamsByID := make(map[int64]team.Team, len(external.Teams))
	refereesByID := make(map[int64]referee.Referee, len(external.Referees))

	for _, item := range external.Teams {
		mergeIngestTeam(teamsByID, item)
	}
	for _, item := range external.Referees {
		if item.ExternalID <= 0 || strings.TrimSpace(item.Name) == "" {
			continue
		}
		refereesByID[item.ExternalID] = referee.Referee{
			ID:       item.ExternalID,
			Name:     strings.TrimSpace(item.Name),
			ImageURL: strings.TrimSpace(item.ImageURL),
		}
	}

	for _, externalMatch := range external.Matches {
		row := match.Match{
			ID:            externalMatch.ExternalID,
			CompetitionID: firstPositive64(externalMatch.CompetitionID, job.CompetitionID),
			SeasonID:      firstPositive64(externalMatch.SeasonID, job.SeasonID),
			Name:          strings.TrimSpace(externalMatch.Name),
			KickoffAt:     externalMatch.KickoffAt,
			StateID:       externalMatch.StateID,
			Status:        mapMatchStatus(externalMatch.StateID),
			VenueID:       externalMatch.VenueID,
			HomeTeamID:    externalMatch.HomeTeamID,
			AwayTeamID:    externalMatch.AwayTeamID,
			HomeScore:     externalMatch.HomeScore,
			AwayScore:     externalMatch.AwayScore,
		}
		data.Matches = append(data.Matches, row)
		bumps[aggregate.SourceMatches] = struct{}{}

		for _, participant := range externalMatch.Participants {
			mergeIngestTeam(teamsByID, participant)
		}
		for _, assignment := range externalMatch.Referees {
			if assignment.RefereeID <= 0 {
				continue
			}
			if _, ok := refereesByID[assignment.RefereeID]; !ok && strings.TrimSpace(assignment.Name) != "" {
				refereesByID[assignment.RefereeID] = referee.Referee{
					ID:       assignment.RefereeID,
					Name:     strings.TrimSpace(assignment.Name),
					ImageURL: strings.TrimSpace(assignment.ImageURL),
				}
			}
			data.MatchReferees = append(data.MatchReferees, referee.Assignment{
				MatchID:   externalMatch.ExternalID,
				RefereeID: assignment.RefereeID,
				TypeID:    assignment.TypeID,
			})
		}

		data.Events = append(data.Events, mapMatchEvents(externalMatch)...)
		if len(externalMatch.Events) > 0 {
			bumps[aggregate.SourceMatchEvents] = struct{}{}
		}
	}

	if len(teamsByID) > 0 {
		bumps[aggregate.SourceTeams] = struct{}{}
	}
	if len(refereesByID) > 0 {
		bumps[aggregate.SourceReferees] = struct{}{}
	}

	data.Teams = sortedTeams(teamsByID)
	data.Referees = sortedReferees(refereesByID)

	if strings.TrimSpace(external.RawPayload.PayloadJSON) != "" {
		payload := external.RawPayload
		payload.CompetitionID = job.CompetitionID
		payload.SeasonID = job.SeasonID
		data.RawPayloads = append(data.RawPayloads, payload)
	}

	data.SourceBumps = make([]string, 0, len(bumps))
	for source := range bumps {
		data.SourceBumps = append(data.SourceBumps, source)
	}
	sort.Strings(data.SourceBumps)

	return data
}

// mapMatchEvents assigns each event its persisted sequence number from the
// upstream sort order. The assignment happens exactly once here; replay never
// recomputes it.
func mapMatchEvents(externalMatch ExternalMatch) []matchevent.Event {
	if len(externalMatch.Events) == 0 {
		return nil
	}

	sorted := append([]ExternalMatchEvent(nil), externalMatch.Events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SortOrder != sorted[j].SortOrder {
			return sorted[i].SortOrder < sorted[j].SortOrder
		}
		return sorted[i].ExternalID < sorted[j].ExternalID
	})

	out := make([]matchevent.Event, 0, len(sorted))
	for index, item := range sorted {
		out = append(out, matchevent.Event{
			ID:              item.ExternalID,
			MatchID:         externalMatch.ExternalID,
			TeamID:          item.TeamID,
			PlayerID:        cloneInt64Ptr(item.PlayerID),
			RelatedPlayerID: cloneInt64Ptr(item.RelatedPlayerID),
			TypeID:          item.TypeID,
			PeriodID:        item.PeriodID,
			Minute:          item.Minute,
			ExtraMinute:     item.ExtraMinute,
			Sequence:        index + 1,
			Rescinded:       item.Rescinded,
			Info:            strings.TrimSpace(item.Info),
		})
	}
	return out
}

func (s *IngestionService) resolveTargets(competitionID int64) ([]ingestTarget, error) {
	if competitionID > 0 {
		seasonID := s.cfg.SeasonIDByCompetition[competitionID]
		if seasonID <= 0 {
			return nil, fmt.Errorf("%w: missing season mapping for competition_id=%d", ErrNotFound, competitionID)
		}
		return []ingestTarget{{competitionID: competitionID, seasonID: seasonID}}, nil
	}

	out := make([]ingestTarget, 0, len(s.cfg.SeasonIDByCompetition))
	for itemCompetitionID, itemSeasonID := range s.cfg.SeasonIDByCompetition {
		if itemCompetitionID <= 0 || itemSeasonID <= 0 {
			continue
		}
		out = append(out, ingestTarget{competitionID: itemCompetitionID, seasonID: itemSeasonID})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no competitions configured", ErrDependencyUnavailable)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].competitionID < out[j].competitionID
	})
	return out, nil
}

func normalizeIngestResources(raw []string) ([]ingest.Resource, error) {
	if len(raw) == 0 {
		return ingest.Resources(), nil
	}

	seen := make(map[ingest.Resource]struct{}, len(raw))
	out := make([]ingest.Resource, 0, len(raw))
	for _, item := range raw {
		normalized := strings.ToLower(strings.TrimSpace(item))
		if normalized == "" {
			continue
		}
		resource, ok := ingest.ParseResource(normalized)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported resource=%s", ErrInvalidInput, item)
		}
		if _, exists := seen[resource]; exists {
			continue
		}
		seen[resource] = struct{}{}
		out = append(out, resource)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: resources are required", ErrInvalidInput)
	}
	return out, nil
}

func normalizeIngestWorkerCount(value int, taskCount int) int {
	if taskCount <= 0 {
		return 1
	}
	if value <= 0 {
		value = defaultIngestWorkers
	}
	if value > maxIngestWorkers {
		value = maxIngestWorkers
	}
	if value > taskCount {
		value = taskCount
	}
	return value
}

func mapMatchStatus(stateID int64) string {
	switch stateID {
	case 2, 3, 4, 6, 7, 8, 9, 22:
		return match.StatusLive
	case 5, 13, 14:
		return match.StatusFinished
	case 10:
		return match.StatusPostponed
	case 11, 12:
		return match.StatusCancelled
	default:
		return match.StatusScheduled
	}
}

func mergeIngestTeam(items map[int64]team.Team, candidate ExternalTeam) {
	if candidate.ExternalID <= 0 || strings.TrimSpace(candidate.Name) == "" {
		return
	}
	current := items[candidate.ExternalID]
	current.ID = candidate.ExternalID
	current.Name = firstNonEmpty(current.Name, strings.TrimSpace(candidate.Name))
	current.Short = firstNonEmpty(current.Short, strings.TrimSpace(candidate.Short))
	current.ImageURL = firstNonEmpty(current.ImageURL, strings.TrimSpace(candidate.ImageURL))
	items[candidate.ExternalID] = current
}

func sortedTeams(items map[int64]team.Team) []team.Team {
	out := make([]team.Team, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedReferees(items map[int64]referee.Referee) []referee.Referee {
	out := make([]referee.Referee, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

func firstPositive64(values ...int64) int64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

func cloneInt64Ptr(value *int64) *int64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

package memory

import (
	"context"
	"sync"

	"github.com/cardsight/cardsight/internal/domain/ingest"
	"github.com/cardsight/cardsight/internal/domain/matchevent"
)

type IngestJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]ingest.Job
}

func NewIngestJobRepository() *IngestJobRepository {
	return &IngestJobRepository{jobs: make(map[string]ingest.Job)}
}

func (r *IngestJobRepository) Get(_ context.Context, competitionID, seasonID int64, resource ingest.Resource) (ingest.Job, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := ingest.Job{CompetitionID: competitionID, SeasonID: seasonID, Resource: resource}.Key()
	job, ok := r.jobs[key]
	return job, ok, nil
}

func (r *IngestJobRepository) List(_ context.Context) ([]ingest.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ingest.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (r *IngestJobRepository) Save(_ context.Context, job ingest.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.Key()] = job
	return nil
}

// IngestStore records saved pages and mirrors their records into the
// optional match and event repositories so replay can run on top of an
// ingestion round trip.
type IngestStore struct {
	mu      sync.Mutex
	matches *MatchRepository
	events  *MatchEventRepository
	jobs    *IngestJobRepository
	pages   []ingest.PageData
}

func NewIngestStore(matches *MatchRepository, events *MatchEventRepository, jobs *IngestJobRepository) *IngestStore {
	return &IngestStore{matches: matches, events: events, jobs: jobs}
}

func (s *IngestStore) SavePage(ctx context.Context, page ingest.PageData) error {
	s.mu.Lock()
	s.pages = append(s.pages, page)
	s.mu.Unlock()

	if s.matches != nil {
		for _, item := range page.Matches {
			if err := s.matches.Upsert(ctx, item); err != nil {
				return err
			}
		}
	}
	if s.events != nil {
		grouped := make(map[int64][]matchevent.Event)
		for _, item := range page.Events {
			grouped[item.MatchID] = append(grouped[item.MatchID], item)
		}
		for matchID, events := range grouped {
			if err := s.events.ReplaceEvents(ctx, matchID, events); err != nil {
				return err
			}
		}
	}
	if s.jobs != nil {
		if err := s.jobs.Save(ctx, page.Job); err != nil {
			return err
		}
	}
	return nil
}

func (s *IngestStore) Pages() []ingest.PageData {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ingest.PageData, len(s.pages))
	copy(out, s.pages)
	return out
}

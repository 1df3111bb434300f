package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cardsight/cardsight/internal/domain/referee"
)

type RefereeRepository struct {
	mu          sync.RWMutex
	referees    map[int64]referee.Referee
	assignments map[int64][]referee.Assignment
}

func NewRefereeRepository(referees []referee.Referee, assignments []referee.Assignment) *RefereeRepository {
	byID := make(map[int64]referee.Referee, len(referees))
	for _, item := range referees {
		byID[item.ID] = item
	}
	byMatch := make(map[int64][]referee.Assignment)
	for _, item := range assignments {
		byMatch[item.MatchID] = append(byMatch[item.MatchID], item)
	}
	return &RefereeRepository{referees: byID, assignments: byMatch}
}

func (r *RefereeRepository) ListByMatch(_ context.Context, matchID int64) ([]referee.Referee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]referee.Referee, 0, len(r.assignments[matchID]))
	for _, assignment := range r.assignments[matchID] {
		if item, ok := r.referees[assignment.RefereeID]; ok {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

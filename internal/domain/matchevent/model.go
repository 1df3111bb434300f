package matchevent

import "fmt"

// Provider event type ids. Only the ids below change game state during
// timeline replay; everything else is carried through untouched.
const (
	TypeGoal          int64 = 14
	TypeOwnGoal       int64 = 15
	TypePenalty       int64 = 16
	TypeMissedPenalty int64 = 17
	TypeSubstitution  int64 = 18
	TypeYellowCard    int64 = 19
	TypeRedCard       int64 = 20
	TypeSecondYellow  int64 = 21
)

// Event is one timeline entry of a match. Sequence is assigned once at
// ingestion from the upstream sort order and persisted; it breaks ordering
// ties between events sharing (period, minute, extra minute).
type Event struct {
	ID              int64
	MatchID         int64
	TeamID          int64
	PlayerID        *int64
	RelatedPlayerID *int64
	TypeID          int64
	PeriodID        int64
	Minute          int
	ExtraMinute     int
	Sequence        int
	Rescinded       bool
	Info            string
}

func (e Event) Validate() error {
	if e.ID <= 0 {
		return fmt.Errorf("event id must be greater than zero")
	}
	if e.MatchID <= 0 {
		return fmt.Errorf("event match id must be greater than zero")
	}
	if e.Minute < 0 || e.ExtraMinute < 0 {
		return fmt.Errorf("event minutes cannot be negative")
	}
	return nil
}

// IsGoal reports whether the event adds a goal to either side.
func (e Event) IsGoal() bool {
	switch e.TypeID {
	case TypeGoal, TypeOwnGoal, TypePenalty:
		return true
	default:
		return false
	}
}

// IsDismissal reports whether the event removes a player from the pitch.
func (e Event) IsDismissal() bool {
	return e.TypeID == TypeRedCard || e.TypeID == TypeSecondYellow
}

// EnrichedEvent is the derived per-event game context: the score BEFORE the
// event took effect and the manpower AFTER it took effect.
type EnrichedEvent struct {
	EventID           int64
	MatchID           int64
	ScoreHomeAt       int
	ScoreAwayAt       int
	ManpowerHomeAfter int
	ManpowerAwayAfter int
	MinuteBucket      string
	ContextSummary    string
}

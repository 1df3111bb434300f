package referee

import "fmt"

// Referee is a match official from the upstream provider.
type Referee struct {
	ID       int64
	Name     string
	ImageURL string
}

func (r Referee) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("referee id must be greater than zero")
	}
	if r.Name == "" {
		return fmt.Errorf("referee name is required")
	}
	return nil
}

// Assignment links a referee to a match with the provider's role type
// (main, assistant, fourth official, VAR).
type Assignment struct {
	MatchID   int64
	RefereeID int64
	TypeID    int64
}

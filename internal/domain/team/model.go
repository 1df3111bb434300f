package team

import "fmt"

// Team is a club participating in an ingested competition, keyed by the
// provider's numeric id.
type Team struct {
	ID       int64
	Name     string
	Short    string
	ImageURL string
}

func (t Team) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("team id must be greater than zero")
	}
	if t.Name == "" {
		return fmt.Errorf("team name is required")
	}
	return nil
}

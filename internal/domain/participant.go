package domain

import "time"

// Participant is a challenge entrant. TotalMinutes is stored authoritatively
// and adjusted when activities are added or removed; Points is derived and
// recomputed from the activity list on every snapshot build, never trusted
// from storage.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TotalMinutes int       `json:"total_minutes"`
	Points       int       `json:"points"`
	TeamID       *string   `json:"team_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

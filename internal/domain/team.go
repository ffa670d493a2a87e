package domain

import "time"

// Team groups participants. Name is unique case-insensitively; Color is a
// hex display color chosen at creation.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamMember links a participant to a team. Storage allows many-to-many but
// the services enforce at most one team per participant by deleting prior
// links before inserting a new one.
type TeamMember struct {
	TeamID        string    `json:"team_id"`
	ParticipantID string    `json:"participant_id"`
	CreatedAt     time.Time `json:"created_at"`
}

package repository

import "context"

// Collection names the four record collections change events are keyed by.
type Collection string

const (
	CollectionParticipants Collection = "participants"
	CollectionActivities   Collection = "activities"
	CollectionTeams        Collection = "teams"
	CollectionMemberships  Collection = "team_members"
)

// ChangeEvent describes one remote mutation.
type ChangeEvent struct {
	Collection Collection `json:"collection"`
	Op         string     `json:"op"`
}

// ChangeFeed delivers remote change notifications until the run context is
// cancelled. Implementations own reconnection; consumers only read Events.
type ChangeFeed interface {
	Run(ctx context.Context) error
	Events() <-chan ChangeEvent
}

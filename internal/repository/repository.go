package repository

import (
	"context"

	"github.com/strideclub/tracker/internal/domain"
)

// ParticipantRepository persists challenge participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context) ([]domain.Participant, error)
	GetParticipantByID(ctx context.Context, id string) (*domain.Participant, error)
	CreateParticipant(ctx context.Context, participant *domain.Participant) error
}

// ActivityRepository persists logged activities.
type ActivityRepository interface {
	ListActivities(ctx context.Context) ([]domain.Activity, error)
	ListActivitiesByParticipant(ctx context.Context, participantID string) ([]domain.Activity, error)
	ListActivitiesByDate(ctx context.Context, date string) ([]domain.Activity, error)
	GetActivityByID(ctx context.Context, id string) (*domain.Activity, error)
	CreateActivity(ctx context.Context, activity *domain.Activity) error
	// DeleteActivity removes the activity and reverses its minute and
	// point contribution on the owning participant in one transaction.
	DeleteActivity(ctx context.Context, id string) error
}

// TeamRepository persists teams.
type TeamRepository interface {
	ListTeams(ctx context.Context) ([]domain.Team, error)
	GetTeamByID(ctx context.Context, id string) (*domain.Team, error)
	CreateTeam(ctx context.Context, team *domain.Team) error
	UpdateTeam(ctx context.Context, team *domain.Team) error
	// DeleteTeam removes the team and cascades to its membership links only;
	// member participants survive unaffiliated.
	DeleteTeam(ctx context.Context, id string) error
}

// MembershipRepository persists participant-to-team links.
type MembershipRepository interface {
	ListMemberships(ctx context.Context) ([]domain.TeamMember, error)
	// ReplaceMembership deletes any prior links for the participant before
	// inserting the new one, keeping participant-to-team many-to-one.
	ReplaceMembership(ctx context.Context, member *domain.TeamMember) error
	DeleteMembershipsByParticipant(ctx context.Context, participantID string) error
}

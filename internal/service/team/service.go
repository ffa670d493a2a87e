// Package team handles team workflows and the team leaderboard.
package team

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/strideclub/tracker/internal/domain"
	"github.com/strideclub/tracker/internal/repository"
)

var (
	// ErrInvalidName rejects empty team names.
	ErrInvalidName = errors.New("team name is required")
	// ErrDuplicateName rejects a name already taken, case-insensitively.
	ErrDuplicateName = errors.New("team name already taken")
)

// Default display colors cycled through when the caller does not pick one.
var palette = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e",
	"#06b6d4", "#3b82f6", "#8b5cf6", "#ec4899",
}

// Service handles team workflows.
type Service struct {
	teams       repository.TeamRepository
	memberships repository.MembershipRepository
	logger      *slog.Logger
}

// New constructs a Service.
func New(teams repository.TeamRepository, memberships repository.MembershipRepository, logger *slog.Logger) Service {
	return Service{teams: teams, memberships: memberships, logger: logger}
}

// Create registers a team. An empty color gets a palette color derived from
// the name so re-creation stays stable.
func (s Service) Create(ctx context.Context, name, color string) (*domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if color == "" {
		color = colorFor(name)
	}
	team := &domain.Team{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     color,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.teams.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	s.logger.Info("team created", "team_id", team.ID, "name", team.Name)
	return team, nil
}

// List returns every team.
func (s Service) List(ctx context.Context) ([]domain.Team, error) {
	return s.teams.ListTeams(ctx)
}

// Get returns one team.
func (s Service) Get(ctx context.Context, id string) (*domain.Team, error) {
	return s.teams.GetTeamByID(ctx, id)
}

// Update renames or recolors a team.
func (s Service) Update(ctx context.Context, id, name, color string) (*domain.Team, error) {
	team, err := s.teams.GetTeamByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		team.Name = name
	}
	if color != "" {
		team.Color = color
	}
	if err := s.teams.UpdateTeam(ctx, team); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return team, nil
}

// Delete removes a team and its membership links. Member participants keep
// their logged activities and go back to unaffiliated.
func (s Service) Delete(ctx context.Context, id string) error {
	if err := s.teams.DeleteTeam(ctx, id); err != nil {
		return err
	}
	s.logger.Info("team deleted", "team_id", id)
	return nil
}

// AssignParticipant moves a participant onto a team, replacing any prior
// membership.
func (s Service) AssignParticipant(ctx context.Context, teamID, participantID string) error {
	if _, err := s.teams.GetTeamByID(ctx, teamID); err != nil {
		return err
	}
	member := &domain.TeamMember{
		TeamID:        teamID,
		ParticipantID: participantID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.memberships.ReplaceMembership(ctx, member); err != nil {
		return err
	}
	s.logger.Info("participant assigned", "team_id", teamID, "participant_id", participantID)
	return nil
}

// RemoveParticipant drops a participant's membership, leaving them
// unaffiliated.
func (s Service) RemoveParticipant(ctx context.Context, participantID string) error {
	return s.memberships.DeleteMembershipsByParticipant(ctx, participantID)
}

// Leaderboard ranks every team by total points, descending, ties keeping
// listing order.
func (s Service) Leaderboard(ctx context.Context, participants []domain.Participant) ([]domain.TeamAggregate, error) {
	teams, err := s.teams.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return domain.RankTeams(teams, participants), nil
}

func colorFor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(name)))
	return palette[int(h.Sum32()%uint32(len(palette)))]
}

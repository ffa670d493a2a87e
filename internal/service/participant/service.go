// Package participant handles participant and activity workflows.
package participant

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/strideclub/tracker/internal/domain"
	"github.com/strideclub/tracker/internal/repository"
)

var (
	// ErrInvalidName rejects empty participant names.
	ErrInvalidName = errors.New("participant name is required")
	// ErrInvalidType rejects empty activity type labels.
	ErrInvalidType = errors.New("activity type is required")
)

// Service handles participant workflows.
type Service struct {
	participants repository.ParticipantRepository
	activities   repository.ActivityRepository
	logger       *slog.Logger
	now          func() time.Time
}

// New constructs a Service.
func New(participants repository.ParticipantRepository, activities repository.ActivityRepository, logger *slog.Logger) Service {
	return Service{
		participants: participants,
		activities:   activities,
		logger:       logger,
		now:          time.Now,
	}
}

// Create registers a new participant with zero totals.
func (s Service) Create(ctx context.Context, name string) (*domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	participant := &domain.Participant{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.participants.CreateParticipant(ctx, participant); err != nil {
		return nil, err
	}
	s.logger.Info("participant created", "participant_id", participant.ID)
	return participant, nil
}

// List returns every participant.
func (s Service) List(ctx context.Context) ([]domain.Participant, error) {
	return s.participants.ListParticipants(ctx)
}

// Get returns one participant.
func (s Service) Get(ctx context.Context, id string) (*domain.Participant, error) {
	return s.participants.GetParticipantByID(ctx, id)
}

// LogActivityInput captures the log-activity form payload.
type LogActivityInput struct {
	ParticipantID string
	Type          string
	Minutes       int
	Date          string
	Note          string
}

// LogActivity validates and records an activity. Points are derived from
// minutes by the single points rule before persisting, so the stored value
// always matches what an aggregate recompute would produce.
func (s Service) LogActivity(ctx context.Context, input LogActivityInput) (*domain.Activity, error) {
	if strings.TrimSpace(input.Type) == "" {
		return nil, ErrInvalidType
	}
	if input.Minutes <= 0 {
		return nil, domain.ErrInvalidMinutes
	}
	if err := domain.ValidateDate(input.Date); err != nil {
		return nil, err
	}
	if _, err := s.participants.GetParticipantByID(ctx, input.ParticipantID); err != nil {
		return nil, err
	}

	activity := &domain.Activity{
		ID:            uuid.NewString(),
		ParticipantID: input.ParticipantID,
		Type:          strings.TrimSpace(input.Type),
		Minutes:       input.Minutes,
		Date:          input.Date,
		Points:        domain.PointsForMinutes(input.Minutes),
		Note:          strings.TrimSpace(input.Note),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.activities.CreateActivity(ctx, activity); err != nil {
		return nil, err
	}
	s.logger.Info("activity logged",
		"activity_id", activity.ID,
		"participant_id", activity.ParticipantID,
		"minutes", activity.Minutes,
		"points", activity.Points)
	return activity, nil
}

// DeleteActivity removes an activity; the repository reverses its minute
// contribution in the same transaction.
func (s Service) DeleteActivity(ctx context.Context, id string) error {
	if err := s.activities.DeleteActivity(ctx, id); err != nil {
		return err
	}
	s.logger.Info("activity deleted", "activity_id", id)
	return nil
}

// Activities returns one participant's activities.
func (s Service) Activities(ctx context.Context, participantID string) ([]domain.Activity, error) {
	return s.activities.ListActivitiesByParticipant(ctx, participantID)
}

// ActivitiesOn returns the activities logged on one calendar day.
func (s Service) ActivitiesOn(ctx context.Context, date string) ([]domain.Activity, error) {
	if err := domain.ValidateDate(date); err != nil {
		return nil, err
	}
	return s.activities.ListActivitiesByDate(ctx, date)
}

// CalendarDay is one day's worth of logged activities.
type CalendarDay struct {
	Date       string            `json:"date"`
	Activities []domain.Activity `json:"activities"`
	Minutes    int               `json:"minutes"`
	Points     int               `json:"points"`
}

// Calendar groups every activity in a month (YYYY-MM) strictly by calendar
// day, ascending.
func (s Service) Calendar(ctx context.Context, month string) ([]CalendarDay, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, domain.ErrInvalidDate
	}
	activities, err := s.activities.ListActivities(ctx)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string][]domain.Activity)
	for _, a := range activities {
		if strings.HasPrefix(a.Date, month+"-") {
			byDay[a.Date] = append(byDay[a.Date], a)
		}
	}
	days := make([]CalendarDay, 0, len(byDay))
	for date, list := range byDay {
		day := CalendarDay{Date: date, Activities: list}
		for _, a := range list {
			day.Minutes += a.Minutes
			day.Points += a.Points
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}

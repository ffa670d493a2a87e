package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideclub/tracker/internal/domain"
	"github.com/strideclub/tracker/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ParticipantRepository = (*Repository)(nil)
	_ repository.ActivityRepository    = (*Repository)(nil)
	_ repository.TeamRepository        = (*Repository)(nil)
	_ repository.MembershipRepository  = (*Repository)(nil)
)

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}

// ListParticipants returns every participant with its current team link.
func (r *Repository) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	const query = `SELECT p.id, p.name, p.total_minutes, p.points, tm.team_id, p.created_at
		FROM participants p
		LEFT JOIN team_members tm ON tm.participant_id = p.id
		ORDER BY p.created_at, p.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]domain.Participant, 0)
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.TotalMinutes, &p.Points, &p.TeamID, &p.CreatedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// GetParticipantByID fetches one participant.
func (r *Repository) GetParticipantByID(ctx context.Context, id string) (*domain.Participant, error) {
	const query = `SELECT p.id, p.name, p.total_minutes, p.points, tm.team_id, p.created_at
		FROM participants p
		LEFT JOIN team_members tm ON tm.participant_id = p.id
		WHERE p.id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var p domain.Participant
	if err := row.Scan(&p.ID, &p.Name, &p.TotalMinutes, &p.Points, &p.TeamID, &p.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// CreateParticipant inserts a participant.
func (r *Repository) CreateParticipant(ctx context.Context, participant *domain.Participant) error {
	const query = `INSERT INTO participants (id, name, total_minutes, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, participant.ID, participant.Name, participant.TotalMinutes, participant.CreatedAt)
	return mapError(err)
}

const activityColumns = `id, participant_id, type, minutes, date::text, points, note, created_at`

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var a domain.Activity
	err := row.Scan(&a.ID, &a.ParticipantID, &a.Type, &a.Minutes, &a.Date, &a.Points, &a.Note, &a.CreatedAt)
	return a, err
}

func (r *Repository) listActivities(ctx context.Context, query string, args ...any) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := make([]domain.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// ListActivities returns every logged activity, newest day first.
func (r *Repository) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	return r.listActivities(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY date DESC, created_at DESC`)
}

// ListActivitiesByParticipant returns one participant's activities.
func (r *Repository) ListActivitiesByParticipant(ctx context.Context, participantID string) ([]domain.Activity, error) {
	return r.listActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE participant_id = $1 ORDER BY date DESC, created_at DESC`,
		participantID)
}

// ListActivitiesByDate returns the activities logged on one calendar day.
func (r *Repository) ListActivitiesByDate(ctx context.Context, date string) ([]domain.Activity, error) {
	return r.listActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE date = $1::date ORDER BY created_at`,
		date)
}

// GetActivityByID fetches one activity.
func (r *Repository) GetActivityByID(ctx context.Context, id string) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id)
	a, err := scanActivity(row)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// CreateActivity inserts an activity and credits the owning participant's
// minute counter in the same transaction.
func (r *Repository) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO activities (id, participant_id, type, minutes, date, points, note, created_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insert,
		activity.ID, activity.ParticipantID, activity.Type, activity.Minutes,
		activity.Date, activity.Points, activity.Note, activity.CreatedAt); err != nil {
		return mapError(err)
	}

	const credit = `UPDATE participants
		SET total_minutes = total_minutes + $2, points = points + $3
		WHERE id = $1`
	tag, err := tx.Exec(ctx, credit, activity.ParticipantID, activity.Minutes, activity.Points)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// DeleteActivity removes an activity and reverses its minute contribution,
// clamping the participant counter at zero.
func (r *Repository) DeleteActivity(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var participantID string
	var minutes, points int
	row := tx.QueryRow(ctx, `DELETE FROM activities WHERE id = $1 RETURNING participant_id, minutes, points`, id)
	if err := row.Scan(&participantID, &minutes, &points); err != nil {
		return mapError(err)
	}

	const debit = `UPDATE participants
		SET total_minutes = GREATEST(total_minutes - $2, 0), points = GREATEST(points - $3, 0)
		WHERE id = $1`
	if _, err := tx.Exec(ctx, debit, participantID, minutes, points); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListTeams returns every team.
func (r *Repository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	const query = `SELECT id, name, color, created_at FROM teams ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]domain.Team, 0)
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// GetTeamByID fetches one team.
func (r *Repository) GetTeamByID(ctx context.Context, id string) (*domain.Team, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, color, created_at FROM teams WHERE id = $1`, id)
	var t domain.Team
	if err := row.Scan(&t.ID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// CreateTeam inserts a team.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	const query = `INSERT INTO teams (id, name, color, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, team.ID, team.Name, team.Color, team.CreatedAt)
	return mapError(err)
}

// UpdateTeam updates a team's name and color.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	const query = `UPDATE teams SET name = $2, color = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, team.ID, team.Name, team.Color)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTeam removes a team and its membership links. Participants survive.
func (r *Repository) DeleteTeam(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// ListMemberships returns every participant-to-team link.
func (r *Repository) ListMemberships(ctx context.Context) ([]domain.TeamMember, error) {
	const query = `SELECT team_id, participant_id, created_at FROM team_members ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.TeamMember, 0)
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.TeamID, &m.ParticipantID, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ReplaceMembership swaps the participant's link to the given team. Prior
// links are removed first so a participant is never on two teams.
func (r *Repository) ReplaceMembership(ctx context.Context, member *domain.TeamMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE participant_id = $1`, member.ParticipantID); err != nil {
		return err
	}
	const insert = `INSERT INTO team_members (team_id, participant_id, created_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insert, member.TeamID, member.ParticipantID, member.CreatedAt); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

// DeleteMembershipsByParticipant removes the participant's link, if any.
func (r *Repository) DeleteMembershipsByParticipant(ctx context.Context, participantID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM team_members WHERE participant_id = $1`, participantID)
	return err
}

package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"

	"log/slog"

	"github.com/strideclub/tracker/internal/domain"
	"github.com/strideclub/tracker/internal/repository"
	"github.com/strideclub/tracker/internal/service/participant"
	syncsvc "github.com/strideclub/tracker/internal/service/sync"
	"github.com/strideclub/tracker/internal/service/team"
	"github.com/strideclub/tracker/internal/ws"
)

// memStore backs every repository interface with maps so the router can be
// exercised end to end without Postgres.
type memStore struct {
	mu           stdsync.Mutex
	participants map[string]*domain.Participant
	activities   map[string]*domain.Activity
	teams        map[string]*domain.Team
	members      map[string]*domain.TeamMember
}

func newMemStore() *memStore {
	return &memStore{
		participants: make(map[string]*domain.Participant),
		activities:   make(map[string]*domain.Activity),
		teams:        make(map[string]*domain.Team),
		members:      make(map[string]*domain.TeamMember),
	}
}

func (m *memStore) ListParticipants(context.Context) ([]domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		copied := *p
		if member, ok := m.members[p.ID]; ok {
			teamID := member.TeamID
			copied.TeamID = &teamID
		}
		out = append(out, copied)
	}
	return out, nil
}

func (m *memStore) GetParticipantByID(_ context.Context, id string) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memStore) CreateParticipant(_ context.Context, p *domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.ID] = p
	return nil
}

func (m *memStore) adjustMinutes(id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.TotalMinutes += delta
	if p.TotalMinutes < 0 {
		p.TotalMinutes = 0
	}
	p.Points = domain.PointsForMinutes(p.TotalMinutes)
	return nil
}

func (m *memStore) ListActivities(context.Context) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Activity, 0, len(m.activities))
	for _, a := range m.activities {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memStore) ListActivitiesByParticipant(_ context.Context, participantID string) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Activity{}
	for _, a := range m.activities {
		if a.ParticipantID == participantID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ListActivitiesByDate(_ context.Context, date string) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Activity{}
	for _, a := range m.activities {
		if a.Date == date {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) GetActivityByID(_ context.Context, id string) (*domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memStore) CreateActivity(_ context.Context, a *domain.Activity) error {
	m.mu.Lock()
	m.activities[a.ID] = a
	m.mu.Unlock()
	return m.adjustMinutes(a.ParticipantID, a.Minutes)
}

func (m *memStore) DeleteActivity(_ context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.activities[id]
	if !ok {
		m.mu.Unlock()
		return repository.ErrNotFound
	}
	delete(m.activities, id)
	m.mu.Unlock()
	return m.adjustMinutes(a.ParticipantID, -a.Minutes)
}

func (m *memStore) ListTeams(context.Context) ([]domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Team, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, *t)
	}
	return out, nil
}

func (m *memStore) GetTeamByID(_ context.Context, id string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *memStore) CreateTeam(_ context.Context, t *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.teams {
		if strings.EqualFold(existing.Name, t.Name) {
			return repository.ErrConflict
		}
	}
	m.teams[t.ID] = t
	return nil
}

func (m *memStore) UpdateTeam(_ context.Context, t *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; !ok {
		return repository.ErrNotFound
	}
	m.teams[t.ID] = t
	return nil
}

func (m *memStore) DeleteTeam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.teams, id)
	for pid, member := range m.members {
		if member.TeamID == id {
			delete(m.members, pid)
		}
	}
	return nil
}

func (m *memStore) ListMemberships(context.Context) ([]domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TeamMember, 0, len(m.members))
	for _, member := range m.members {
		out = append(out, *member)
	}
	return out, nil
}

func (m *memStore) ReplaceMembership(_ context.Context, member *domain.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ParticipantID] = member
	return nil
}

func (m *memStore) DeleteMembershipsByParticipant(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, participantID)
	return nil
}

func newTestRouter(t *testing.T, store *memStore) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	syncSvc := syncsvc.NewService(store, store, store, store, nil, logger, syncsvc.Options{})
	router := NewRouter(
		logger,
		participant.New(store, store, logger),
		team.New(store, store, logger),
		syncSvc,
		ws.NewHub(),
		nil,
		false,
		nil,
	)
	t.Cleanup(router.Close)
	return router
}

func doJSON(t *testing.T, router *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:4242"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestParticipantLifecycle(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	rec := doJSON(t, router, http.MethodPost, "/participants", map[string]string{"name": "Alex"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create participant: status %d body %s", rec.Code, rec.Body.String())
	}
	created := decode[domain.Participant](t, rec)
	if created.ID == "" || created.Name != "Alex" {
		t.Fatalf("unexpected participant: %+v", created)
	}

	rec = doJSON(t, router, http.MethodGet, "/participants/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get participant: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/participants/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown participant, got %d", rec.Code)
	}
}

func TestLogAndDeleteActivity(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)
	created := decode[domain.Participant](t, doJSON(t, router, http.MethodPost, "/participants", map[string]string{"name": "Sam"}))

	rec := doJSON(t, router, http.MethodPost, "/activities", map[string]any{
		"participant_id": created.ID,
		"type":           "cycling",
		"minutes":        45,
		"date":           "2026-08-12",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("log activity: status %d body %s", rec.Code, rec.Body.String())
	}
	activity := decode[domain.Activity](t, rec)
	if activity.Points != 3 {
		t.Fatalf("expected 3 points, got %d", activity.Points)
	}

	p, _ := store.GetParticipantByID(context.Background(), created.ID)
	if p.TotalMinutes != 45 {
		t.Fatalf("expected 45 total minutes, got %d", p.TotalMinutes)
	}

	rec = doJSON(t, router, http.MethodDelete, "/activities/"+activity.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete activity: status %d", rec.Code)
	}
	p, _ = store.GetParticipantByID(context.Background(), created.ID)
	if p.TotalMinutes != 0 {
		t.Fatalf("expected minutes reversed, got %d", p.TotalMinutes)
	}
}

func TestLogActivityValidationStatus(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	rec := doJSON(t, router, http.MethodPost, "/activities", map[string]any{
		"participant_id": "p1",
		"type":           "yoga",
		"minutes":        -1,
		"date":           "2026-08-12",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative minutes, got %d", rec.Code)
	}
}

func TestTeamRoutesAndLeaderboard(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	red := decode[domain.Team](t, doJSON(t, router, http.MethodPost, "/teams", map[string]string{"name": "Red"}))
	blue := decode[domain.Team](t, doJSON(t, router, http.MethodPost, "/teams", map[string]string{"name": "Blue"}))

	rec := doJSON(t, router, http.MethodPost, "/teams", map[string]string{"name": "red"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate name, got %d", rec.Code)
	}

	p1 := decode[domain.Participant](t, doJSON(t, router, http.MethodPost, "/participants", map[string]string{"name": "Alex"}))
	p2 := decode[domain.Participant](t, doJSON(t, router, http.MethodPost, "/participants", map[string]string{"name": "Sam"}))
	doJSON(t, router, http.MethodPost, "/activities", map[string]any{"participant_id": p1.ID, "type": "run", "minutes": 120, "date": "2026-08-01"})
	doJSON(t, router, http.MethodPost, "/activities", map[string]any{"participant_id": p2.ID, "type": "walk", "minutes": 30, "date": "2026-08-01"})

	if rec := doJSON(t, router, http.MethodPost, "/teams/"+red.ID+"/members", map[string]string{"participant_id": p1.ID}); rec.Code != http.StatusCreated {
		t.Fatalf("assign: status %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodPost, "/teams/"+blue.ID+"/members", map[string]string{"participant_id": p2.ID}); rec.Code != http.StatusCreated {
		t.Fatalf("assign: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/leaderboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: status %d", rec.Code)
	}
	ranked := decode[[]domain.TeamAggregate](t, rec)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(ranked))
	}
	if ranked[0].Team.ID != red.ID || ranked[0].TotalPoints != 8 {
		t.Fatalf("expected Red first with 8 points, got %+v", ranked[0])
	}
}

func TestSnapshotAndRefresh(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	p := decode[domain.Participant](t, doJSON(t, router, http.MethodPost, "/participants", map[string]string{"name": "Alex"}))
	doJSON(t, router, http.MethodPost, "/activities", map[string]any{"participant_id": p.ID, "type": "run", "minutes": 60, "date": "2026-08-02"})

	rec := doJSON(t, router, http.MethodPost, "/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: status %d", rec.Code)
	}
	payload := decode[map[string]json.RawMessage](t, rec)
	if string(payload["loading"]) != "false" {
		t.Fatalf("expected loading false, got %s", payload["loading"])
	}
	var snap syncsvc.Snapshot
	if err := json.Unmarshal(payload["snapshot"], &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].Points != 4 {
		t.Fatalf("unexpected snapshot participants: %+v", snap.Participants)
	}
}

func TestCalendarEndpoint(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	p := decode[domain.Participant](t, doJSON(t, router, http.MethodPost, "/participants", map[string]string{"name": "Alex"}))
	doJSON(t, router, http.MethodPost, "/activities", map[string]any{"participant_id": p.ID, "type": "run", "minutes": 30, "date": "2026-08-02"})
	doJSON(t, router, http.MethodPost, "/activities", map[string]any{"participant_id": p.ID, "type": "row", "minutes": 15, "date": "2026-08-02"})

	rec := doJSON(t, router, http.MethodGet, "/calendar?month=2026-08", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("calendar: status %d", rec.Code)
	}
	days := decode[[]participant.CalendarDay](t, rec)
	if len(days) != 1 || days[0].Minutes != 45 {
		t.Fatalf("unexpected calendar: %+v", days)
	}

	if rec := doJSON(t, router, http.MethodGet, "/calendar?month=nope", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad month, got %d", rec.Code)
	}
}

func TestRateLimitHeadersAndExhaustion(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitRefresh+1; i++ {
		last = doJSON(t, router, http.MethodPost, "/refresh", nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d refreshes, got %d", rateLimitRefresh+1, last.Code)
	}
	if got := last.Header().Get("X-RateLimit-Limit"); got != fmt.Sprint(rateLimitRefresh) {
		t.Fatalf("unexpected limit header %q", got)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	if rec := doJSON(t, router, http.MethodDelete, "/participants", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

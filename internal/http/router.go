// Package httpx exposes the tracker over HTTP: REST endpoints for
// participants, activities and teams, the aggregated snapshot, and realtime
// change streams over websockets and SSE.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strideclub/tracker/internal/domain"
	"github.com/strideclub/tracker/internal/repository"
	"github.com/strideclub/tracker/internal/service/participant"
	syncsvc "github.com/strideclub/tracker/internal/service/sync"
	"github.com/strideclub/tracker/internal/service/team"
	"github.com/strideclub/tracker/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	participants participant.Service
	teams        team.Service
	sync         *syncsvc.Service
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	dbHealth     func(context.Context) error

	metricsEnabled     bool
	metricsOnce        stdsync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 240
	rateLimitWrite     = 60
	rateLimitRefresh   = 6
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, participantSvc participant.Service, teamSvc team.Service, syncSvc *syncsvc.Service, hub *ws.Hub, limiter RateLimiter, metricsEnabled bool, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       logger,
		participants: participantSvc,
		teams:        teamSvc,
		sync:         syncSvc,
		hub:          hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:        limiter,
		metricsEnabled: metricsEnabled,
		dbHealth:       dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.metricsEnabled {
		r.initMetrics()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/snapshot", r.audit("/snapshot", r.withRateLimit("/snapshot", rateLimitRead, rateWindowDefault, r.handleSnapshot)))
	r.mux.HandleFunc("/refresh", r.audit("/refresh", r.withRateLimit("/refresh", rateLimitRefresh, rateWindowDefault, r.handleRefresh)))
	r.mux.HandleFunc("/participants", r.audit("/participants", r.withRateLimit("/participants", rateLimitWrite, rateWindowDefault, r.handleParticipants)))
	r.mux.HandleFunc("/participants/", r.audit("/participants/{id}", r.withRateLimit("/participants", rateLimitRead, rateWindowDefault, r.handleParticipantSubroutes)))
	r.mux.HandleFunc("/activities", r.audit("/activities", r.withRateLimit("/activities", rateLimitWrite, rateWindowDefault, r.handleActivities)))
	r.mux.HandleFunc("/activities/", r.audit("/activities/{id}", r.withRateLimit("/activities", rateLimitWrite, rateWindowDefault, r.handleActivityByID)))
	r.mux.HandleFunc("/teams", r.audit("/teams", r.withRateLimit("/teams", rateLimitWrite, rateWindowDefault, r.handleTeams)))
	r.mux.HandleFunc("/teams/", r.audit("/teams/{id}", r.withRateLimit("/teams", rateLimitWrite, rateWindowDefault, r.handleTeamSubroutes)))
	r.mux.HandleFunc("/leaderboard", r.audit("/leaderboard", r.withRateLimit("/leaderboard", rateLimitRead, rateWindowDefault, r.handleLeaderboard)))
	r.mux.HandleFunc("/calendar", r.audit("/calendar", r.withRateLimit("/calendar", rateLimitRead, rateWindowDefault, r.handleCalendar)))
	r.mux.HandleFunc("/ws/changes", r.audit("/ws/changes", r.withRateLimit("/ws/changes", rateLimitStream, rateWindowRealtime, r.handleChangesWS)))
	r.mux.HandleFunc("/events", r.audit("/events", r.withRateLimit("/events", rateLimitStream, rateWindowRealtime, r.handleEventsSSE)))
	if r.metricsEnabled {
		r.mux.Handle("/metrics", promhttp.Handler())
	}
}

func (r *Router) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	payload := map[string]any{
		"loading": r.sync.Loading(),
	}
	if snap, ok := r.sync.Snapshot(); ok {
		payload["snapshot"] = snap
		payload["from_cache"] = snap.FromCache
		payload["loaded_at"] = snap.LoadedAt.Format(time.RFC3339Nano)
	} else {
		payload["snapshot"] = nil
	}
	if lastErr := r.sync.LastError(); lastErr != nil {
		payload["error"] = map[string]string{
			"kind":    lastErr.Kind.String(),
			"message": lastErr.Kind.Message(),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	ok, err := r.sync.Refresh(req.Context())
	if !ok {
		status := http.StatusBadGateway
		var cerr *syncsvc.CategorizedError
		if errors.As(err, &cerr) && cerr.Kind == syncsvc.KindPermission {
			status = http.StatusForbidden
		}
		msg := "refresh failed"
		if cerr != nil {
			msg = cerr.Kind.Message()
		}
		writeError(w, status, msg)
		return
	}
	snap, _ := r.sync.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func (r *Router) handleParticipants(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		participants, err := r.participants.List(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, participants)
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.participants.Create(req.Context(), payload.Name)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleParticipantSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/participants/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	participantID := parts[0]
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		p, err := r.participants.Get(req.Context(), participantID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 2 && parts[1] == "activities":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		activities, err := r.participants.Activities(req.Context(), participantID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, activities)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleActivities(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		if date := req.URL.Query().Get("date"); date != "" {
			activities, err := r.participants.ActivitiesOn(req.Context(), date)
			if err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusOK, activities)
			return
		}
		writeError(w, http.StatusBadRequest, "date query parameter required")
	case http.MethodPost:
		var payload struct {
			ParticipantID string `json:"participant_id"`
			Type          string `json:"type"`
			Minutes       int    `json:"minutes"`
			Date          string `json:"date"`
			Note          string `json:"note"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		activity, err := r.participants.LogActivity(req.Context(), participant.LogActivityInput{
			ParticipantID: payload.ParticipantID,
			Type:          payload.Type,
			Minutes:       payload.Minutes,
			Date:          payload.Date,
			Note:          payload.Note,
		})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, activity)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleActivityByID(w http.ResponseWriter, req *http.Request) {
	activityID := strings.TrimPrefix(req.URL.Path, "/activities/")
	if activityID == "" || strings.Contains(activityID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.participants.DeleteActivity(req.Context(), activityID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleTeams(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		teams, err := r.teams.List(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, teams)
	case http.MethodPost:
		var payload struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.teams.Create(req.Context(), payload.Name, payload.Color)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/teams/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	teamID := parts[0]
	switch {
	case len(parts) == 1:
		r.handleTeamByID(w, req, teamID)
	case len(parts) == 2 && parts[1] == "members":
		r.handleTeamMembers(w, req, teamID)
	case len(parts) == 3 && parts[1] == "members":
		r.handleTeamMemberByID(w, req, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleTeamByID(w http.ResponseWriter, req *http.Request, teamID string) {
	switch req.Method {
	case http.MethodGet:
		t, err := r.teams.Get(req.Context(), teamID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodPut, http.MethodPatch:
		var payload struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.teams.Update(req.Context(), teamID, payload.Name, payload.Color)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := r.teams.Delete(req.Context(), teamID); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamMembers(w http.ResponseWriter, req *http.Request, teamID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id is required")
		return
	}
	if err := r.teams.AssignParticipant(req.Context(), teamID, payload.ParticipantID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
}

func (r *Router) handleTeamMemberByID(w http.ResponseWriter, req *http.Request, participantID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.teams.RemoveParticipant(req.Context(), participantID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (r *Router) handleLeaderboard(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	participants, err := r.participants.List(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ranked, err := r.teams.Leaderboard(req.Context(), participants)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (r *Router) handleCalendar(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	month := req.URL.Query().Get("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	days, err := r.participants.Calendar(req.Context(), month)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, days)
}

// topicsFromQuery parses the comma-separated topics parameter; empty means
// everything.
func topicsFromQuery(req *http.Request) []string {
	raw := strings.TrimSpace(req.URL.Query().Get("topics"))
	if raw == "" {
		return []string{ws.TopicAll}
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{ws.TopicAll}
	}
	return topics
}

func (r *Router) handleChangesWS(w http.ResponseWriter, req *http.Request) {
	topics := topicsFromQuery(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	for _, topic := range topics {
		r.hub.Register(topic, client)
	}
	go func() {
		defer func() {
			for _, topic := range topics {
				r.hub.Unregister(topic, client)
			}
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	topics := topicsFromQuery(req)
	client := ws.NewSSEClient(w, flusher, r.logger)
	for _, topic := range topics {
		r.hub.Register(topic, client)
	}
	defer func() {
		for _, topic := range topics {
			r.hub.Unregister(topic, client)
		}
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if snap, ok := r.sync.Snapshot(); ok && snap.FromCache {
		status = "degraded"
		components["sync"] = map[string]any{"status": "cache-only"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, team.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, participant.ErrInvalidName),
		errors.Is(err, participant.ErrInvalidType),
		errors.Is(err, team.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidMinutes),
		errors.Is(err, domain.ErrInvalidDate):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

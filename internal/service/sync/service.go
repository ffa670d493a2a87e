// Package sync coordinates loading the four record collections into a
// consistent in-memory snapshot, shielding callers from store latency and
// failure: concurrent loads are deduplicated, failed loads fall back to the
// local cache, and remote change notifications are coalesced into debounced
// reloads.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/strideclub/tracker/internal/domain"
	"github.com/strideclub/tracker/internal/repository"
)

// Snapshot is the merged, view-ready state of all four collections. It is
// replaced as a whole; readers see either the previous or the next snapshot,
// never a partial mix.
type Snapshot struct {
	Participants []domain.Participant `json:"participants"`
	Teams        []domain.Team        `json:"teams"`
	Activities   []domain.Activity    `json:"activities"`
	LoadedAt     time.Time            `json:"loaded_at"`
	FromCache    bool                 `json:"from_cache"`
}

// The sync core only reads; each collection source is the read-facing slice
// of the corresponding repository.
type (
	ParticipantSource interface {
		ListParticipants(ctx context.Context) ([]domain.Participant, error)
	}
	ActivitySource interface {
		ListActivities(ctx context.Context) ([]domain.Activity, error)
	}
	TeamSource interface {
		ListTeams(ctx context.Context) ([]domain.Team, error)
	}
	MembershipSource interface {
		ListMemberships(ctx context.Context) ([]domain.TeamMember, error)
	}
)

// SnapshotCache is the last-known-good mirror consulted when a full load
// fails outright.
type SnapshotCache interface {
	PutParticipants([]domain.Participant) error
	Participants() ([]domain.Participant, bool)
	PutTeams([]domain.Team) error
	Teams() ([]domain.Team, bool)
}

// Signal tells observers what changed.
type Signal string

const (
	// SignalSnapshot fires after the snapshot was replaced.
	SignalSnapshot Signal = "snapshot"
	// SignalLoading fires whenever the loading flag flips, including when
	// the safety timeout clears a stuck flag.
	SignalLoading Signal = "loading"
)

// Options tune the timing behaviour. Zero values pick the defaults.
type Options struct {
	FreshnessWindow    time.Duration
	SafetyTimeout      time.Duration
	DebounceWindow     time.Duration
	RefreshBaseTimeout time.Duration
	RefreshMaxTimeout  time.Duration
}

const (
	defaultFreshnessWindow    = 30 * time.Second
	defaultSafetyTimeout      = 10 * time.Second
	defaultDebounceWindow     = 5 * time.Second
	defaultRefreshBaseTimeout = 10 * time.Second
	defaultRefreshMaxTimeout  = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = defaultFreshnessWindow
	}
	if o.SafetyTimeout <= 0 {
		o.SafetyTimeout = defaultSafetyTimeout
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaultDebounceWindow
	}
	if o.RefreshBaseTimeout <= 0 {
		o.RefreshBaseTimeout = defaultRefreshBaseTimeout
	}
	if o.RefreshMaxTimeout < o.RefreshBaseTimeout {
		o.RefreshMaxTimeout = defaultRefreshMaxTimeout
	}
	return o
}

// Service is the synchronization core. Construct it explicitly and dispose
// of it by cancelling the Watch context; it keeps no package-level state.
type Service struct {
	participants ParticipantSource
	activities   ActivitySource
	teams        TeamSource
	memberships  MembershipSource
	cache        SnapshotCache
	logger       *slog.Logger
	opts         Options
	now          func() time.Time

	mu            stdsync.RWMutex
	snap          *Snapshot
	lastErr       *CategorizedError
	lastSuccess   time.Time
	loading       bool
	loadGen       uint64
	safetyTimer   *time.Timer
	failureStreak int
	retryCount    int
	watchCtx      context.Context

	obsMu     stdsync.Mutex
	obsSeq    int
	observers map[int]func(Signal)
	changeObs map[int]func(repository.ChangeEvent)

	debouncer    *Debouncer
	pendingFresh atomic.Bool
}

// NewService wires the sync core against the four collection repositories
// and the local snapshot cache. cache may be nil.
func NewService(
	participants ParticipantSource,
	activities ActivitySource,
	teams TeamSource,
	memberships MembershipSource,
	snapshotCache SnapshotCache,
	logger *slog.Logger,
	opts Options,
) *Service {
	registerMetrics()
	if logger != nil {
		logger = logger.With("component", "sync")
	}
	s := &Service{
		participants: participants,
		activities:   activities,
		teams:        teams,
		memberships:  memberships,
		cache:        snapshotCache,
		logger:       logger,
		opts:         opts.withDefaults(),
		now:          time.Now,
		observers:    make(map[int]func(Signal)),
		changeObs:    make(map[int]func(repository.ChangeEvent)),
	}
	s.debouncer = NewDebouncer(s.opts.DebounceWindow, s.debouncedReload)
	return s
}

// Load fetches all four collections and atomically replaces the snapshot.
//
// At most one load is in flight at a time; a call arriving while another
// runs is a no-op that returns immediately. Unless forceFresh is set, a call
// within the freshness window of the last successful load reuses the current
// snapshot. Participants and teams are critical: if either fetch fails the
// whole load fails and nothing is applied. Memberships and activities are
// best-effort and default to empty.
func (s *Service) Load(ctx context.Context, forceFresh bool) bool {
	s.mu.Lock()
	if s.loading {
		ok := s.snap != nil
		s.mu.Unlock()
		loadsTotal.WithLabelValues("noop").Inc()
		return ok
	}
	if !forceFresh && s.snap != nil && !s.snap.FromCache && s.now().Sub(s.lastSuccess) < s.opts.FreshnessWindow {
		s.mu.Unlock()
		loadsTotal.WithLabelValues("noop").Inc()
		return true
	}
	s.loading = true
	s.loadGen++
	gen := s.loadGen
	s.armSafetyTimer(gen)
	s.mu.Unlock()
	s.notify(SignalLoading)

	started := s.now()
	outcome := s.fetchAll(ctx)
	s.finishLoading(gen)

	if outcome.Failed() {
		loadsTotal.WithLabelValues("failure").Inc()
		s.recordFailure(outcome.Reason())
		return false
	}
	for _, reason := range outcome.Reasons() {
		if s.logger != nil {
			s.logger.Warn("collection fetch degraded, defaulting to empty", "error", reason)
		}
	}

	snap := outcome.Value()
	snap.LoadedAt = s.now()
	s.apply(snap)
	loadsTotal.WithLabelValues("success").Inc()
	loadDuration.Observe(s.now().Sub(started).Seconds())
	return true
}

// LoadFallback recovers after Load failed outright: the cached snapshot if
// one is readable, otherwise a degraded fetch where every collection is
// tried independently and defaults to empty on its own failure.
func (s *Service) LoadFallback(ctx context.Context) bool {
	if s.cache != nil {
		if participants, ok := s.cache.Participants(); ok {
			if teams, ok := s.cache.Teams(); ok {
				fallbacksTotal.WithLabelValues("cache").Inc()
				if s.logger != nil {
					s.logger.Info("serving cached snapshot", "participants", len(participants), "teams", len(teams))
				}
				s.apply(Snapshot{
					Participants: participants,
					Teams:        teams,
					Activities:   []domain.Activity{},
					LoadedAt:     s.now(),
					FromCache:    true,
				})
				return true
			}
		}
	}

	participants, pErr := s.participants.ListParticipants(ctx)
	members, mErr := s.memberships.ListMemberships(ctx)
	teams, tErr := s.teams.ListTeams(ctx)
	activities, aErr := s.activities.ListActivities(ctx)
	for _, err := range []error{pErr, mErr, tErr, aErr} {
		if err != nil && s.logger != nil {
			s.logger.Warn("degraded fetch failed for a collection", "error", err)
		}
	}
	if pErr != nil && tErr != nil {
		s.recordFailure(errors.Join(pErr, tErr))
		return false
	}
	if pErr != nil {
		participants = nil
	}
	if tErr != nil {
		teams = nil
	}
	if aErr != nil {
		activities = nil
	}

	snap := buildSnapshot(participants, teams, activities, members, mErr == nil)
	snap.LoadedAt = s.now()
	fallbacksTotal.WithLabelValues("degraded").Inc()
	s.apply(snap)
	return true
}

// Refresh is a user-initiated retry: a force-fresh load under a timeout
// that doubles with every consecutive retry, capped, and reset by the next
// success. The returned error is categorized for display.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.retryCount++
	attempt := s.retryCount
	s.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout(attempt))
	defer cancel()

	if s.Load(loadCtx, true) {
		return true, nil
	}

	s.mu.RLock()
	cerr := s.lastErr
	s.mu.RUnlock()
	if cerr == nil {
		cerr = &CategorizedError{Kind: KindUnknown, Err: errors.New("load did not complete")}
	}
	return false, cerr
}

func (s *Service) refreshTimeout(attempt int) time.Duration {
	timeout := s.opts.RefreshBaseTimeout
	for i := 1; i < attempt; i++ {
		timeout *= 2
		if timeout >= s.opts.RefreshMaxTimeout {
			return s.opts.RefreshMaxTimeout
		}
	}
	return timeout
}

// Snapshot returns the current snapshot, if any load has completed.
func (s *Service) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return Snapshot{}, false
	}
	return *s.snap, true
}

// Loading reports whether a load is in flight.
func (s *Service) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// LastError returns the categorized error of the most recent failed load, or
// nil after a success.
func (s *Service) LastError() *CategorizedError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// TeamByID looks a team up in the current snapshot. No network.
func (s *Service) TeamByID(id string) (domain.Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return domain.Team{}, false
	}
	for _, t := range s.snap.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Team{}, false
}

// Notify registers an observer for state signals and returns its
// unsubscribe function.
func (s *Service) Notify(fn func(Signal)) func() {
	s.obsMu.Lock()
	s.obsSeq++
	id := s.obsSeq
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// OnRemoteChange registers an observer for raw remote change events (before
// debouncing) and returns its unsubscribe function.
func (s *Service) OnRemoteChange(fn func(repository.ChangeEvent)) func() {
	s.obsMu.Lock()
	s.obsSeq++
	id := s.obsSeq
	s.changeObs[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.changeObs, id)
		s.obsMu.Unlock()
	}
}

// Watch consumes the remote change feed until ctx is cancelled. Bursts of
// notifications are coalesced by the debouncer into a single reload, which
// goes through Load and therefore respects the in-flight and freshness
// guards. On teardown the pending debounce is cancelled; no reload fires
// afterwards.
func (s *Service) Watch(ctx context.Context, feed repository.ChangeFeed) {
	s.mu.Lock()
	s.watchCtx = ctx
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			s.debouncer.Cancel()
			return
		case event, ok := <-feed.Events():
			if !ok {
				s.debouncer.Cancel()
				return
			}
			s.pendingFresh.Store(true)
			s.notifyChange(event)
			s.debouncer.Schedule()
		}
	}
}

func (s *Service) debouncedReload() {
	s.mu.RLock()
	ctx := s.watchCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	fresh := s.pendingFresh.Swap(false)
	debouncedReloads.Inc()
	s.Load(ctx, fresh)
}

// fetchAll runs the sequential fetch order participants -> memberships ->
// teams -> activities, checking ctx between steps so a torn-down caller
// abandons the remaining work.
func (s *Service) fetchAll(ctx context.Context) Outcome[Snapshot] {
	if err := ctx.Err(); err != nil {
		return Failed[Snapshot](err)
	}
	participants, err := s.participants.ListParticipants(ctx)
	if err != nil {
		return Failed[Snapshot](fmt.Errorf("participants: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return Failed[Snapshot](err)
	}
	var reasons []error
	members, membersErr := s.memberships.ListMemberships(ctx)
	if membersErr != nil {
		reasons = append(reasons, fmt.Errorf("memberships: %w", membersErr))
		members = nil
	}

	if err := ctx.Err(); err != nil {
		return Failed[Snapshot](err)
	}
	teams, err := s.teams.ListTeams(ctx)
	if err != nil {
		return Failed[Snapshot](fmt.Errorf("teams: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return Failed[Snapshot](err)
	}
	activities, activitiesErr := s.activities.ListActivities(ctx)
	if activitiesErr != nil {
		reasons = append(reasons, fmt.Errorf("activities: %w", activitiesErr))
		activities = nil
	}

	snap := buildSnapshot(participants, teams, activities, members, membersErr == nil)
	if len(reasons) > 0 {
		return Degraded(snap, reasons...)
	}
	return Ok(snap)
}

// buildSnapshot merges the collections: membership links overwrite team
// references when their fetch succeeded, and every participant's points are
// recomputed from the activity list. Stored point values are never trusted.
func buildSnapshot(participants []domain.Participant, teams []domain.Team, activities []domain.Activity, members []domain.TeamMember, applyMembers bool) Snapshot {
	merged := make([]domain.Participant, len(participants))
	copy(merged, participants)

	if applyMembers {
		teamByParticipant := make(map[string]string, len(members))
		for _, m := range members {
			teamByParticipant[m.ParticipantID] = m.TeamID
		}
		for i := range merged {
			if teamID, ok := teamByParticipant[merged[i].ID]; ok {
				id := teamID
				merged[i].TeamID = &id
			} else {
				merged[i].TeamID = nil
			}
		}
	}

	points := make(map[string]int, len(merged))
	for _, a := range activities {
		points[a.ParticipantID] += a.Points
	}
	for i := range merged {
		merged[i].Points = points[merged[i].ID]
	}

	if teams == nil {
		teams = []domain.Team{}
	}
	if activities == nil {
		activities = []domain.Activity{}
	}
	return Snapshot{Participants: merged, Teams: teams, Activities: activities}
}

// apply atomically replaces the snapshot, resets the failure streak, and
// mirrors network-fetched data into the cache.
func (s *Service) apply(snap Snapshot) {
	s.mu.Lock()
	s.snap = &snap
	s.lastErr = nil
	s.failureStreak = 0
	if !snap.FromCache {
		s.lastSuccess = snap.LoadedAt
		s.retryCount = 0
	}
	s.mu.Unlock()

	if s.cache != nil && !snap.FromCache {
		if err := s.cache.PutParticipants(snap.Participants); err != nil && s.logger != nil {
			s.logger.Warn("failed to cache participants", "error", err)
		}
		if err := s.cache.PutTeams(snap.Teams); err != nil && s.logger != nil {
			s.logger.Warn("failed to cache teams", "error", err)
		}
	}
	s.notify(SignalSnapshot)
}

// recordFailure stores the categorized error and reports the failure to the
// log once per consecutive streak; a success resets the streak.
func (s *Service) recordFailure(reason error) {
	cerr := Categorize(reason)
	s.mu.Lock()
	s.lastErr = cerr
	s.failureStreak++
	streak := s.failureStreak
	s.mu.Unlock()

	if s.logger == nil {
		return
	}
	if streak == 1 {
		s.logger.Error("data load failed", "kind", cerr.Kind.String(), "error", reason)
	} else {
		s.logger.Debug("data load still failing", "streak", streak, "error", reason)
	}
}

// armSafetyTimer schedules the watchdog that clears a stuck loading flag.
// It does not cancel the underlying fetches. Callers hold s.mu.
func (s *Service) armSafetyTimer(gen uint64) {
	if s.safetyTimer != nil {
		s.safetyTimer.Stop()
	}
	s.safetyTimer = time.AfterFunc(s.opts.SafetyTimeout, func() {
		s.mu.Lock()
		stuck := s.loading && s.loadGen == gen
		if stuck {
			s.loading = false
		}
		s.mu.Unlock()
		if stuck {
			if s.logger != nil {
				s.logger.Warn("loading flag cleared by safety timeout")
			}
			s.notify(SignalLoading)
		}
	})
}

// finishLoading clears the loading flag and disarms the watchdog, but only
// for the load that owns the current generation. A load completing after its
// own watchdog already fired and a newer load began must not touch the newer
// load's timer or flag.
func (s *Service) finishLoading(gen uint64) {
	s.mu.Lock()
	stale := s.loadGen != gen
	if !stale {
		if s.safetyTimer != nil {
			s.safetyTimer.Stop()
			s.safetyTimer = nil
		}
		s.loading = false
	}
	s.mu.Unlock()
	if !stale {
		s.notify(SignalLoading)
	}
}

func (s *Service) notify(sig Signal) {
	s.obsMu.Lock()
	fns := make([]func(Signal), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(sig)
	}
}

func (s *Service) notifyChange(event repository.ChangeEvent) {
	s.obsMu.Lock()
	fns := make([]func(repository.ChangeEvent), 0, len(s.changeObs))
	for _, fn := range s.changeObs {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

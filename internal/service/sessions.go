package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/events"
	"github.com/cartridge/delayenv/internal/metrics"
	"github.com/cartridge/delayenv/internal/snapshot"
	"github.com/cartridge/delayenv/internal/types"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrConflict indicates a session with the same id already exists.
	ErrConflict = errors.New("session already exists")
	// ErrCapacity is returned when the session limit is reached.
	ErrCapacity = errors.New("session limit reached")
)

// Session event names.
const (
	EventCreated = "created"
	EventClosed  = "closed"
	EventRestore = "restored"
)

// session owns one wrapper. The wrapper is not safe for concurrent use, so
// every call goes through mu.
type session struct {
	mu sync.Mutex

	id       string
	envID    string
	maxSteps int
	delay    delay.Config
	mode     string
	wrapper  *delayenv.Wrapper

	createdAt time.Time
	lastUsed  time.Time
	episodes  int

	episodeID      string
	episodeSteps   int
	episodeReward  float64
	episodeDropped int
}

// Manager holds the open sessions of the server.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	maxSessions int

	events  events.Publisher
	metrics *metrics.Collector
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewManager constructs a Manager instance. collector may be nil.
func NewManager(maxSessions int, publisher events.Publisher, collector *metrics.Collector, logger *zerolog.Logger) *Manager {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Manager{
		sessions:    make(map[string]*session),
		maxSessions: maxSessions,
		events:      publisher,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow allows tests to override the time source.
func (m *Manager) WithNow(now func() time.Time) {
	m.now = now
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Create builds a wrapper for req and registers it under a new session.
func (m *Manager) Create(ctx context.Context, req types.CreateSessionRequest) (types.Session, error) {
	if err := req.Validate(); err != nil {
		return types.Session{}, err
	}
	mode, err := delay.ParseMode(string(req.Delay.Mode))
	if err != nil {
		return types.Session{}, err
	}
	req.Delay.Mode = mode

	inner, err := env.Make(req.EnvID, req.EnvSeed, req.MaxEpisodeSteps)
	if err != nil {
		return types.Session{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	opts := []delayenv.Option{delayenv.WithLogger(m.logger.With().Str("session_id", req.ID).Logger())}
	if req.StrictActions {
		opts = append(opts, delayenv.WithStrictActionBounds())
	}
	w, err := delayenv.FromConfig(inner, req.Delay, opts...)
	if err != nil {
		return types.Session{}, err
	}

	now := m.now()
	s := &session{
		id:        req.ID,
		envID:     req.EnvID,
		maxSteps:  req.MaxEpisodeSteps,
		delay:     req.Delay,
		mode:      string(mode),
		wrapper:   w,
		createdAt: now,
		lastUsed:  now,
	}

	m.mu.Lock()
	if _, exists := m.sessions[s.id]; exists {
		m.mu.Unlock()
		m.logger.Warn().Str("session_id", s.id).Msg("session already exists")
		return types.Session{}, fmt.Errorf("%w: %s", ErrConflict, s.id)
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return types.Session{}, fmt.Errorf("%w (%d)", ErrCapacity, m.maxSessions)
	}
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsActive(n)
	}
	m.publishSession(ctx, s.id, EventCreated, "")
	m.logger.Info().Str("session_id", s.id).Str("env_id", s.envID).Str("delay_mode", s.mode).Msg("session created")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describe(), nil
}

// Get returns session metadata.
func (m *Manager) Get(ctx context.Context, id string) (types.Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return types.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describe(), nil
}

// List returns every session ordered by creation time.
func (m *Manager) List(ctx context.Context) []types.Session {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]types.Session, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.describe())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reset starts a new episode in the session.
func (m *Manager) Reset(ctx context.Context, id string) (delayenv.AugmentedObservation, error) {
	s, err := m.lookup(id)
	if err != nil {
		return delayenv.AugmentedObservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = m.now()

	obs, err := s.wrapper.Reset(ctx)
	if err != nil {
		return delayenv.AugmentedObservation{}, err
	}
	s.startEpisode()
	return obs, nil
}

// Step sends action to the session's wrapper.
func (m *Manager) Step(ctx context.Context, id string, action env.Action) (delayenv.StepResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return delayenv.StepResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = m.now()

	res, err := s.wrapper.Step(ctx, action)
	if err != nil {
		return delayenv.StepResult{}, err
	}
	s.episodeSteps++
	s.episodeReward += res.Reward
	s.episodeDropped += res.Trace.DroppedActions
	if m.metrics != nil {
		m.metrics.Tick(s.mode, res.Trace)
	}
	if res.Done {
		m.finishEpisode(ctx, s, res)
		s.startEpisode()
	}
	return res, nil
}

// State exports the session's wrapper as a versioned record.
func (m *Manager) State(ctx context.Context, id string) (snapshot.Record, error) {
	s, err := m.lookup(id)
	if err != nil {
		return snapshot.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.wrapper.ExportState()
	if err != nil {
		return snapshot.Record{}, err
	}
	return snapshot.NewRecord(s.envID, s.maxSteps, s.delay, s.episodeID, st), nil
}

// Restore loads rec into an existing session. The record must have been
// taken from a session with the same environment and delay ranges.
func (m *Manager) Restore(ctx context.Context, id string, rec snapshot.Record) (types.Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return types.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.EnvID != s.envID {
		return types.Session{}, &env.ContractViolation{What: "state env_id", Detail: fmt.Sprintf("session runs %s, record is for %s", s.envID, rec.EnvID)}
	}
	if err := s.wrapper.ImportState(rec.State); err != nil {
		return types.Session{}, err
	}
	s.lastUsed = m.now()
	s.episodeID = rec.Header.EpisodeID
	s.episodeSteps, s.episodeReward, s.episodeDropped = 0, 0, 0
	m.publishSession(ctx, id, EventRestore, "")
	return s.describe(), nil
}

// Close removes a session.
func (m *Manager) Close(ctx context.Context, id, reason string) error {
	return m.remove(ctx, id, reason, nil)
}

// Sweep closes every session unused for longer than idle and returns their
// ids.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) []string {
	cutoff := m.now().Add(-idle)
	isIdle := func(s *session) bool { return s.lastUsed.Before(cutoff) }

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if isIdle(s) {
			stale = append(stale, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Strings(stale)
	closed := stale[:0]
	for _, id := range stale {
		if err := m.remove(ctx, id, "idle", isIdle); err == nil {
			closed = append(closed, id)
		}
	}
	return closed
}

// remove deletes a session. When cond is set it is evaluated under both
// locks and the session is kept unless it returns true.
func (m *Manager) remove(ctx context.Context, id, reason string, cond func(*session) bool) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cond != nil {
		s.mu.Lock()
		match := cond(s)
		s.mu.Unlock()
		if !match {
			m.mu.Unlock()
			return fmt.Errorf("%w: session %s was used again", ErrConflict, id)
		}
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsActive(n)
		m.metrics.SessionClosed(id, reason)
	}
	m.publishSession(ctx, id, EventClosed, reason)
	m.logger.Info().Str("session_id", id).Str("reason", reason).Msg("session closed")
	return nil
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) finishEpisode(ctx context.Context, s *session, res delayenv.StepResult) {
	s.episodes++
	truncated, _ := res.Info[env.TruncatedKey].(bool)
	if m.metrics != nil {
		m.metrics.EpisodeFinished(s.episodeID, s.envID, s.mode, s.episodeSteps, s.episodeReward, truncated)
	}
	event := events.EpisodeEvent{
		EpisodeID:      s.episodeID,
		SessionID:      s.id,
		EnvID:          s.envID,
		DelayMode:      s.mode,
		Steps:          s.episodeSteps,
		TotalReward:    s.episodeReward,
		Truncated:      truncated,
		DroppedActions: s.episodeDropped,
	}
	if err := m.events.PublishEpisode(ctx, event); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.id).Msg("failed to publish episode event")
	}
}

func (m *Manager) publishSession(ctx context.Context, id, event, reason string) {
	if err := m.events.PublishSession(ctx, events.SessionEvent{SessionID: id, Event: event, Reason: reason}); err != nil {
		m.logger.Error().Err(err).Str("session_id", id).Msg("failed to publish session event")
	}
}

func (s *session) startEpisode() {
	s.episodeID = uuid.NewString()
	s.episodeSteps = 0
	s.episodeReward = 0
	s.episodeDropped = 0
}

func (s *session) describe() types.Session {
	return types.Session{
		ID:              s.id,
		EnvID:           s.envID,
		MaxEpisodeSteps: s.maxSteps,
		Delay:           s.delay,
		Shape:           s.wrapper.Shape(),
		Status:          s.wrapper.Status().String(),
		Tick:            s.wrapper.Tick(),
		Episodes:        s.episodes,
		CreatedAt:       s.createdAt,
		LastUsedAt:      s.lastUsed,
	}
}

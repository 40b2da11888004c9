// Package session owns the current workout session: its interval timer,
// its telemetry runner and the hand-off to result extraction.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"workout-engine/internal/aggregator"
	"workout-engine/internal/models"
	"workout-engine/internal/registry"
	"workout-engine/internal/scoring"
	"workout-engine/internal/store"
	"workout-engine/internal/telemetry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// how many finished sessions keep their outcome in memory for export
const outcomeHistory = 20

// SourceFactory builds the telemetry source for a mode
type SourceFactory func(mode models.TelemetryMode) (telemetry.Source, error)

// StrategyFactory picks the scoring strategy for a mode
type StrategyFactory func(mode models.TelemetryMode) (scoring.Strategy, error)

// Extractor computes and persists final results for an ended session
type Extractor interface {
	Run(ctx context.Context, session models.Session, metrics []models.Metric) (models.SessionOutcome, error)
}

// History durable record of ended sessions, consulted once an outcome has left memory
type History interface {
	GetRecap(ctx context.Context, sessionID string) (models.RecapRecord, error)
	ListResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error)
}

// StartRequest parameters of a new session
type StartRequest struct {
	SessionID    string               `json:"session_id,omitempty"`
	Mode         models.TelemetryMode `json:"mode"`
	Config       models.SessionConfig `json:"config"`
	Plan         *models.StationPlan  `json:"plan,omitempty"`
	Participants []models.Assignment  `json:"participants,omitempty"`
}

// Deps collaborators of a Manager
type Deps struct {
	Location      string
	Table         *registry.AssignmentTable
	Aggregator    *aggregator.Aggregator
	States        *store.SessionStore
	Extractor     Extractor
	History       History // optional
	Sources       SourceFactory
	Strategies    StrategyFactory // nil uses scoring.ForMode
	RunnerMetrics *telemetry.Metrics
	Logger        *zap.Logger
}

// Manager the single owner of the current session. All mutation goes through its mutex;
// the telemetry runner writes only to the aggregator.
type Manager struct {
	mu       sync.Mutex
	deps     Deps
	current  *models.Session
	machine  *Machine
	plan     models.StationPlan
	runner   *telemetry.Runner
	outcomes map[string]models.SessionOutcome
	order    []string
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a manager with no current session
func NewManager(deps Deps) *Manager {
	if deps.Strategies == nil {
		deps.Strategies = scoring.ForMode
	}
	return &Manager{
		deps:     deps,
		outcomes: make(map[string]models.SessionOutcome),
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Start re-initialises the timer to prep and starts telemetry for a new session.
// A running session is replaced without extraction, but only once the request is known to succeed.
func (m *Manager) Start(ctx context.Context, req StartRequest) (models.Session, error) {
	if req.Mode == "" {
		req.Mode = models.ModeSimulated
	}
	strategy, err := m.deps.Strategies(req.Mode)
	if err != nil {
		return models.Session{}, err
	}
	source, err := m.deps.Sources(req.Mode)
	if err != nil {
		return models.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else {
		ended, err := m.endedLocked(ctx, sessionID)
		if err != nil {
			return models.Session{}, err
		}
		if ended {
			return models.Session{}, fmt.Errorf("%w: session %s already ended", models.ErrConflict, sessionID)
		}
	}

	releasing := ""
	if m.current != nil {
		releasing = m.current.ID
	}
	if err := m.deps.Table.CheckAvailable(req.Participants, releasing); err != nil {
		return models.Session{}, err
	}

	plan := models.StationPlan{}
	if req.Plan != nil {
		plan = *req.Plan
	} else if m.deps.States != nil {
		if plan, err = m.deps.States.LoadPlan(ctx); err != nil {
			m.logger.Warn("Failed to load station plan", zap.Error(err))
		}
	}

	if m.current != nil {
		m.logger.Warn("Replacing running session",
			zap.String("session_id", m.current.ID),
			zap.String("phase", string(m.current.Phase)),
		)
		m.clearLocked(ctx)
	}

	for _, p := range req.Participants {
		p.SessionID = sessionID
		if _, err := m.deps.Table.Assign(p); err != nil {
			// lost a race with a direct assignment after the check above
			m.deps.Table.ReleaseSession(sessionID)
			return models.Session{}, err
		}
	}

	machine := NewMachine(req.Config)
	session := &models.Session{
		ID:         sessionID,
		Location:   m.deps.Location,
		BeginsAt:   m.now(),
		Status:     models.StatusPreparing,
		Mode:       req.Mode,
		Config:     machine.Config(),
		PhaseState: machine.State(),
	}
	session.CurrentBlock = Label(session.PhaseState, session.Config, plan)

	m.current = session
	m.machine = machine
	m.plan = plan

	m.deps.Aggregator.Reset(sessionID, strategy, source.Interval())

	if m.deps.States != nil {
		if err := m.deps.States.SaveSetup(ctx, session.Config); err != nil {
			m.logger.Error("Failed to persist setup", zap.Error(err))
		}
		if err := m.deps.States.SavePlan(ctx, plan); err != nil {
			m.logger.Error("Failed to persist plan", zap.Error(err))
		}
	}
	m.persistLocked(ctx)
	m.startRunnerLocked(ctx, source)

	m.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.String("mode", string(req.Mode)),
		zap.Int("stations", session.Config.Stations),
		zap.Int("rounds", session.Config.Rounds),
		zap.Int("participant_count", len(req.Participants)),
	)
	return m.viewLocked(), nil
}

// Tick is the 1 Hz timer step. It returns the transition taken, if any.
func (m *Manager) Tick(ctx context.Context) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.machine == nil {
		return Transition{}, false
	}

	tr, changed := m.machine.Tick()
	m.current.PhaseState = m.machine.State()
	if !changed {
		return Transition{}, false
	}

	tr.SessionID = m.current.ID
	m.current.Status = tr.To.Status()
	m.current.CurrentBlock = Label(m.current.PhaseState, m.current.Config, m.plan)
	m.persistLocked(ctx)

	m.logger.Info("Phase transition",
		zap.String("session_id", tr.SessionID),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Int("round", tr.Round),
		zap.Int("station_id", tr.StationID),
	)

	// completion hands off to extraction under the same lock, so no Start can slip in between
	if tr.To == models.PhaseComplete {
		_, _ = m.endLocked(ctx, tr.SessionID)
	}
	return tr, true
}

// Resume restores the last persisted session after a restart
func (m *Manager) Resume(ctx context.Context) (models.Session, error) {
	if m.deps.States == nil {
		return models.Session{}, &models.NotFoundError{Kind: "session", ID: "persisted"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.viewLocked(), nil
	}

	saved, err := m.deps.States.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return models.Session{}, &models.NotFoundError{Kind: "session", ID: "persisted"}
		}
		return models.Session{}, err
	}
	if saved.Status == models.StatusComplete || saved.EndedAt != nil {
		return models.Session{}, &models.NotFoundError{Kind: "session", ID: saved.ID}
	}

	machine := NewMachine(saved.Config)
	if err := machine.Restore(saved.PhaseState); err != nil {
		return models.Session{}, fmt.Errorf("failed to restore session %s: %w", saved.ID, err)
	}
	strategy, err := m.deps.Strategies(saved.Mode)
	if err != nil {
		return models.Session{}, err
	}
	source, err := m.deps.Sources(saved.Mode)
	if err != nil {
		return models.Session{}, err
	}

	plan, err := m.deps.States.LoadPlan(ctx)
	if err != nil {
		m.logger.Warn("Failed to load station plan", zap.Error(err))
	}

	for _, p := range saved.Participants {
		if _, err := m.deps.Table.Assign(p); err != nil {
			m.logger.Warn("Could not restore assignment",
				zap.String("session_id", saved.ID),
				zap.String("device_id", p.DeviceID),
				zap.Error(err),
			)
		}
	}

	saved.Config = machine.Config()
	m.current = &saved
	m.machine = machine
	m.plan = plan
	m.deps.Aggregator.Reset(saved.ID, strategy, source.Interval())
	m.startRunnerLocked(ctx, source)

	m.logger.Info("Session resumed",
		zap.String("session_id", saved.ID),
		zap.String("phase", string(saved.Phase)),
		zap.Int("remaining", saved.Remaining),
	)
	return m.viewLocked(), nil
}

// EndSession runs extraction once and clears the session.
// Later calls for the same id return the stored outcome and write nothing.
// A persistence failure is returned after the session has been cleared.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (models.SessionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != sessionID {
		return m.endedOutcomeLocked(ctx, sessionID)
	}
	return m.endLocked(ctx, sessionID)
}

// endLocked extracts and clears the current session, which must be sessionID.
// Extraction is detached from ctx so a dropped request cannot abort the write.
func (m *Manager) endLocked(ctx context.Context, sessionID string) (models.SessionOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	m.stopRunnerLocked()

	ended := *m.current
	endedAt := m.now()
	ended.EndedAt = &endedAt
	ended.Status = models.StatusComplete
	ended.PhaseState.Phase = models.PhaseComplete
	ended.Remaining = 0
	ended.CurrentBlock = "Complete"
	ended.Participants = m.deps.Table.ListActive(sessionID)

	metrics := m.deps.Aggregator.AllMetrics()
	outcome, runErr := m.deps.Extractor.Run(ctx, ended, metrics)
	if runErr != nil {
		m.logger.Error("Failed to persist session results",
			zap.String("session_id", sessionID),
			zap.Error(runErr),
		)
	}
	m.rememberLocked(sessionID, outcome)

	m.current = &ended
	m.persistLocked(ctx)
	m.deps.Table.ReleaseSession(sessionID)
	m.current = nil
	m.machine = nil

	m.logger.Info("Session ended",
		zap.String("session_id", sessionID),
		zap.Int("participant_count", outcome.Recap.ParticipantCount),
		zap.Float64("total_calories", outcome.Recap.TotalCalories),
	)
	return outcome, runErr
}

// endedOutcomeLocked the outcome of a session that is no longer current, from memory or History
func (m *Manager) endedOutcomeLocked(ctx context.Context, sessionID string) (models.SessionOutcome, error) {
	if outcome, ok := m.outcomes[sessionID]; ok {
		m.logger.Debug("Session already ended", zap.String("session_id", sessionID))
		return outcome, nil
	}
	if m.deps.History == nil {
		return models.SessionOutcome{}, &models.NotFoundError{Kind: "session", ID: sessionID}
	}

	recap, err := m.deps.History.GetRecap(ctx, sessionID)
	if err != nil {
		return models.SessionOutcome{}, err
	}
	results, err := m.deps.History.ListResults(ctx, sessionID)
	if err != nil {
		return models.SessionOutcome{}, err
	}
	m.logger.Debug("Session already ended", zap.String("session_id", sessionID), zap.String("source", "history"))
	return models.SessionOutcome{Results: results, Recap: recap}, nil
}

// endedLocked whether sessionID has already been extracted
func (m *Manager) endedLocked(ctx context.Context, sessionID string) (bool, error) {
	if _, ok := m.outcomes[sessionID]; ok {
		return true, nil
	}
	if m.deps.History == nil {
		return false, nil
	}
	if _, err := m.deps.History.GetRecap(ctx, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check session %s history: %w", sessionID, err)
	}
	return true, nil
}

// Reset drops the current session without extraction
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	m.logger.Info("Session reset", zap.String("session_id", m.current.ID))
	m.clearLocked(ctx)
}

// Current returns the current session with its active participants
func (m *Manager) Current() (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return models.Session{}, false
	}
	return m.viewLocked(), true
}

// Outcome the stored extraction outcome of an ended session
func (m *Manager) Outcome(sessionID string) (models.SessionOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, ok := m.outcomes[sessionID]
	return outcome, ok
}

// Metrics the live leaderboard of the current session
func (m *Manager) Metrics() []models.Metric {
	return m.deps.Aggregator.Snapshot()
}

// Subscribe delivers leaderboard snapshots latest-wins; call the returned func to stop
func (m *Manager) Subscribe() (<-chan aggregator.Snapshot, func()) {
	return m.deps.Aggregator.Subscribe()
}

// UpdatePlan swaps the station plan used for block labels
func (m *Manager) UpdatePlan(plan models.StationPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plan = plan
	if m.current != nil {
		m.current.CurrentBlock = Label(m.current.PhaseState, m.current.Config, plan)
	}
}

// Close stops telemetry; the persisted session stays resumable
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRunnerLocked()
}

func (m *Manager) clearLocked(ctx context.Context) {
	m.stopRunnerLocked()
	m.deps.Table.ReleaseSession(m.current.ID)
	if m.deps.States != nil {
		if err := m.deps.States.ClearSession(ctx); err != nil {
			m.logger.Error("Failed to clear persisted session", zap.Error(err))
		}
	}
	m.current = nil
	m.machine = nil
}

func (m *Manager) startRunnerLocked(ctx context.Context, source telemetry.Source) {
	m.stopRunnerLocked()
	m.runner = telemetry.NewRunner(source, m.current.ID, m.deps.Table, m.deps.Aggregator, m.logger, m.deps.RunnerMetrics)
	// the runner outlives the request that started it
	m.runner.Start(context.WithoutCancel(ctx))
}

func (m *Manager) stopRunnerLocked() {
	if m.runner != nil {
		m.runner.Stop()
		m.runner = nil
	}
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.deps.States == nil {
		return
	}
	snapshot := *m.current
	if snapshot.Participants == nil {
		snapshot.Participants = m.deps.Table.ListActive(snapshot.ID)
	}
	if err := m.deps.States.SaveSession(ctx, snapshot); err != nil {
		m.logger.Error("Failed to persist session state",
			zap.String("session_id", snapshot.ID),
			zap.Error(err),
		)
	}
}

func (m *Manager) rememberLocked(sessionID string, outcome models.SessionOutcome) {
	m.outcomes[sessionID] = outcome
	m.order = append(m.order, sessionID)
	if len(m.order) > outcomeHistory {
		delete(m.outcomes, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) viewLocked() models.Session {
	view := *m.current
	view.Participants = m.deps.Table.ListActive(view.ID)
	return view
}

package session

import (
	"fmt"

	"workout-engine/internal/models"
)

// Transition a phase change produced by Machine.Tick
type Transition struct {
	SessionID string       `json:"session_id,omitempty"` // set by the Manager
	From      models.Phase `json:"from"`
	To        models.Phase `json:"to"`
	Round     int          `json:"round"`
	StationID int          `json:"station_id"`
}

// Machine interval timer: prep -> (work -> rest)* -> work -> complete.
// Stations rotate 1..N within a round; rounds repeat the rotation.
// Not safe for concurrent use; the Manager serialises access.
type Machine struct {
	cfg   models.SessionConfig
	state models.PhaseState
}

// NewMachine starts a timer in prep
func NewMachine(cfg models.SessionConfig) *Machine {
	cfg = cfg.WithDefaults()
	return &Machine{
		cfg: cfg,
		state: models.PhaseState{
			Phase:     models.PhasePrep,
			Remaining: cfg.PrepTime,
			Round:     1,
			StationID: 1,
		},
	}
}

// Restore resumes from a persisted state
func (m *Machine) Restore(state models.PhaseState) error {
	if state.Round < 1 || state.Round > m.cfg.Rounds {
		return fmt.Errorf("%w: round %d outside 1..%d", models.ErrInvalidInput, state.Round, m.cfg.Rounds)
	}
	if state.StationID < 1 || state.StationID > m.cfg.Stations {
		return fmt.Errorf("%w: station %d outside 1..%d", models.ErrInvalidInput, state.StationID, m.cfg.Stations)
	}
	switch state.Phase {
	case models.PhasePrep, models.PhaseWork, models.PhaseRest, models.PhaseComplete:
	default:
		return fmt.Errorf("%w: phase %q", models.ErrInvalidInput, state.Phase)
	}
	if state.Remaining < 0 {
		state.Remaining = 0
	}
	m.state = state
	return nil
}

// State current phase state
func (m *Machine) State() models.PhaseState { return m.state }

// Config the effective configuration
func (m *Machine) Config() models.SessionConfig { return m.cfg }

// Done reports whether the timer reached complete
func (m *Machine) Done() bool { return m.state.Phase == models.PhaseComplete }

// Tick advances one second. It returns the transition taken when remaining hits zero.
func (m *Machine) Tick() (Transition, bool) {
	if m.Done() {
		return Transition{}, false
	}
	if m.state.Remaining > 0 {
		m.state.Remaining--
	}
	if m.state.Remaining > 0 {
		return Transition{}, false
	}

	from := m.state.Phase
	m.advance()
	return Transition{
		From:      from,
		To:        m.state.Phase,
		Round:     m.state.Round,
		StationID: m.state.StationID,
	}, true
}

func (m *Machine) advance() {
	switch m.state.Phase {
	case models.PhasePrep:
		m.enter(models.PhaseWork, m.cfg.WorkTime)
	case models.PhaseWork:
		if m.lastSlot() {
			m.enter(models.PhaseComplete, 0)
			return
		}
		m.enter(models.PhaseRest, m.cfg.RestTime)
	case models.PhaseRest:
		m.state.StationID++
		if m.state.StationID > m.cfg.Stations {
			m.state.StationID = 1
			m.state.Round++
		}
		if m.state.Round > m.cfg.Rounds {
			m.state.Round = m.cfg.Rounds
			m.state.StationID = m.cfg.Stations
			m.enter(models.PhaseComplete, 0)
			return
		}
		m.enter(models.PhaseWork, m.cfg.WorkTime)
	}
}

func (m *Machine) enter(phase models.Phase, seconds int) {
	m.state.Phase = phase
	m.state.Remaining = seconds
}

func (m *Machine) lastSlot() bool {
	return m.state.Round >= m.cfg.Rounds && m.state.StationID >= m.cfg.Stations
}

// Label human-readable block name for displays
func Label(state models.PhaseState, cfg models.SessionConfig, plan models.StationPlan) string {
	switch state.Phase {
	case models.PhasePrep:
		return "Get ready"
	case models.PhaseRest:
		next := state.StationID + 1
		if next > cfg.Stations {
			next = 1
		}
		return fmt.Sprintf("Rest · next %s", stationName(next, plan))
	case models.PhaseComplete:
		return "Complete"
	}

	block := fmt.Sprintf("Round %d/%d · %s", state.Round, cfg.Rounds, stationName(state.StationID, plan))
	if st, ok := plan.Station(state.StationID); ok && len(st.Exercises) > 0 {
		block += ": " + st.Exercises[(state.Round-1)%len(st.Exercises)]
	}
	return block
}

func stationName(id int, plan models.StationPlan) string {
	if st, ok := plan.Station(id); ok && st.Name != "" {
		return st.Name
	}
	return fmt.Sprintf("Station %d", id)
}

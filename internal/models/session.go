package models

import "time"

// SessionStatus coarse status shown to displays
type SessionStatus string

const (
	StatusPreparing SessionStatus = "preparing"
	StatusActive    SessionStatus = "active"
	StatusRest      SessionStatus = "rest"
	StatusComplete  SessionStatus = "complete"
)

// Phase interval timer phase
type Phase string

const (
	PhasePrep     Phase = "prep"
	PhaseWork     Phase = "work"
	PhaseRest     Phase = "rest"
	PhaseComplete Phase = "complete"
)

// Status maps a phase to the session status it implies
func (p Phase) Status() SessionStatus {
	switch p {
	case PhaseWork:
		return StatusActive
	case PhaseRest:
		return StatusRest
	case PhaseComplete:
		return StatusComplete
	default:
		return StatusPreparing
	}
}

const (
	DefaultPrepTime = 10
	DefaultWorkTime = 45
	DefaultRestTime = 15
)

// SessionConfig interval timer setup (persisted under the "setup" key)
type SessionConfig struct {
	Stations int `json:"stations"`
	Rounds   int `json:"rounds"`
	PrepTime int `json:"prep_time"` // seconds
	WorkTime int `json:"work_time"`
	RestTime int `json:"rest_time"`
}

// WithDefaults fills zero durations and counts
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.Stations <= 0 {
		c.Stations = 1
	}
	if c.Rounds <= 0 {
		c.Rounds = 1
	}
	if c.PrepTime <= 0 {
		c.PrepTime = DefaultPrepTime
	}
	if c.WorkTime <= 0 {
		c.WorkTime = DefaultWorkTime
	}
	if c.RestTime <= 0 {
		c.RestTime = DefaultRestTime
	}
	return c
}

// Station one station of the plan
type Station struct {
	ID        int      `json:"id"` // 1-based
	Name      string   `json:"name"`
	Exercises []string `json:"exercises"`
}

// StationPlan per-station exercises (persisted under the "plan" key)
type StationPlan struct {
	Stations []Station `json:"stations"`
}

// Station returns the station with the given id, if planned
func (p StationPlan) Station(id int) (Station, bool) {
	for _, s := range p.Stations {
		if s.ID == id {
			return s, true
		}
	}
	return Station{}, false
}

// PhaseState timer sub-state of a session
type PhaseState struct {
	Phase     Phase `json:"phase"`
	Remaining int   `json:"remaining"` // seconds
	Round     int   `json:"round"`     // 1-based
	StationID int   `json:"station_id"`
}

// Session the single current workout run
type Session struct {
	ID           string        `json:"id"`
	Location     string        `json:"location"`
	CurrentBlock string        `json:"current_block"`
	BeginsAt     time.Time     `json:"begins_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Status       SessionStatus `json:"status"`
	Mode         TelemetryMode `json:"mode"`
	Participants []Assignment  `json:"participants"`
	Config       SessionConfig `json:"config"`
	PhaseState
}

package models

import "time"

// TelemetryMode selects the telemetry source for a session
type TelemetryMode string

const (
	ModeSimulated TelemetryMode = "simulated"
	ModeLive      TelemetryMode = "live"
)

// Valid reports whether m is a known mode
func (m TelemetryMode) Valid() bool {
	return m == ModeSimulated || m == ModeLive
}

// Sample one heart-rate reading
type Sample struct {
	ID                 string    `json:"id"`
	AssignmentID       string    `json:"assignment_id"`
	ParticipantID      string    `json:"participant_id"`
	DeviceID           string    `json:"device_id"`
	Timestamp          time.Time `json:"timestamp"`
	HeartRate          int       `json:"heart_rate"`
	CumulativeCalories float64   `json:"cumulative_calories"`
	Zone               int       `json:"zone"`
	IntensityPercent   float64   `json:"intensity_percent"`
}

// ZoneCount number of heart-rate zones
const ZoneCount = 5

// Metric live per-participant aggregate, recomputed every telemetry tick
type Metric struct {
	ParticipantID    string             `json:"participant_id"`
	ParticipantName  string             `json:"participant_name"`
	AssignmentID     string             `json:"assignment_id"`
	DeviceID         string             `json:"device_id"`
	CurrentHR        int                `json:"current_hr"`
	AverageHR        float64            `json:"average_hr"`
	MaxHR            int                `json:"max_hr"`
	MinHR            int                `json:"min_hr"`
	Calories         float64            `json:"calories"`
	Zone             int                `json:"zone"`
	IntensityPercent float64            `json:"intensity_percent"`
	Rank             int                `json:"rank"`
	SampleCount      int                `json:"sample_count"`
	ZoneSeconds      [ZoneCount]float64 `json:"zone_seconds"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

package models

import "time"

// ConnectionStatus heart-rate monitor link state as reported by the hub
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
)

// Valid reports whether s is one of the known statuses
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionConnected, ConnectionDisconnected, ConnectionConnecting:
		return true
	}
	return false
}

// Device a wearable heart-rate monitor
// InUse is owned by the assignment table and flips only on assign/unassign.
type Device struct {
	ID               string           `json:"id"`
	DisplayName      string           `json:"display_name"`
	Hub              string           `json:"hub,omitempty"`
	BatteryLevel     int              `json:"battery_level"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	InUse            bool             `json:"in_use"`
	LastSyncedAt     time.Time        `json:"last_synced_at"`
}

// Assignment binds a device to a participant for one session
type Assignment struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	SessionID       string    `json:"session_id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Weight          *float64  `json:"weight,omitempty"` // kg
	Age             *int      `json:"age,omitempty"`
	Gender          string    `json:"gender,omitempty"`
	Assigned        bool      `json:"assigned"`
	AssignedAt      time.Time `json:"assigned_at"`
}

// AgeOrZero returns the participant age, 0 when unknown
func (a Assignment) AgeOrZero() int {
	if a.Age == nil {
		return 0
	}
	return *a.Age
}

package models

import (
	"errors"
	"fmt"
)

var (
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrTelemetryFetch = errors.New("telemetry fetch failed")
	ErrPersistence    = errors.New("persistence failed")
	ErrInvalidInput   = errors.New("invalid input")
)

// ConflictError device already has an active assignment
type ConflictError struct {
	DeviceID     string
	AssignmentID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("device %s already in use by assignment %s", e.DeviceID, e.AssignmentID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError unknown id of the given kind (device, assignment, session)
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TelemetryFetchError a poll failed or returned an unusable entry.
// DeviceID is empty when the whole batch failed.
type TelemetryFetchError struct {
	DeviceID string
	Reason   string
	Err      error
}

func (e *TelemetryFetchError) Error() string {
	msg := "telemetry fetch failed"
	if e.DeviceID != "" {
		msg += " for device " + e.DeviceID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TelemetryFetchError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTelemetryFetch, e.Err}
	}
	return []error{ErrTelemetryFetch}
}

// PersistenceError a write to the results sink or KV surface failed
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Package service exposes the workout engine as one facade over the session manager,
// the device registry and the results store.
package service

import (
	"context"
	"fmt"

	"workout-engine/internal/models"
	"workout-engine/internal/registry"
	"workout-engine/internal/session"
)

// Service operations offered to transports
type Service interface {
	StartSession(ctx context.Context, req session.StartRequest) (models.Session, error)
	CurrentSession(ctx context.Context) (models.Session, error)
	EndSession(ctx context.Context, sessionID string) (models.SessionOutcome, error)
	ResetSession(ctx context.Context) error
	Leaderboard(ctx context.Context) ([]models.Metric, error)
	SessionAssignments(ctx context.Context, sessionID string) ([]models.Assignment, error)
	SessionResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error)

	ListDevices(ctx context.Context, availableOnly bool) ([]models.Device, error)
	UpsertDevice(ctx context.Context, d models.Device) (models.Device, error)
	SyncDevices(ctx context.Context) (int, error)
	SetDeviceConnection(ctx context.Context, deviceID string, status models.ConnectionStatus) (models.Device, error)
	Assign(ctx context.Context, a models.Assignment) (models.Assignment, error)
	Unassign(ctx context.Context, assignmentID string) error
}

// ResultsReader stored results of ended sessions
type ResultsReader interface {
	ListResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error)
}

var _ Service = (*engineService)(nil)

// Deps collaborators of the engine service. Discovery and Results may be nil.
type Deps struct {
	Manager     *session.Manager
	Devices     *registry.DeviceRegistry
	Table       *registry.AssignmentTable
	Discovery   registry.Discovery
	Results     ResultsReader
	DefaultMode models.TelemetryMode
}

type engineService struct {
	manager     *session.Manager
	devices     *registry.DeviceRegistry
	table       *registry.AssignmentTable
	discovery   registry.Discovery
	results     ResultsReader
	defaultMode models.TelemetryMode
}

// New creates the engine service
func New(deps Deps) Service {
	mode := deps.DefaultMode
	if mode == "" {
		mode = models.ModeSimulated
	}
	return &engineService{
		manager:     deps.Manager,
		devices:     deps.Devices,
		table:       deps.Table,
		discovery:   deps.Discovery,
		results:     deps.Results,
		defaultMode: mode,
	}
}

func (s *engineService) StartSession(ctx context.Context, req session.StartRequest) (models.Session, error) {
	if req.Mode == "" {
		req.Mode = s.defaultMode
	}
	if !req.Mode.Valid() {
		return models.Session{}, fmt.Errorf("%w: mode %q", models.ErrInvalidInput, req.Mode)
	}
	if req.Config.Stations < 0 || req.Config.Rounds < 0 ||
		req.Config.PrepTime < 0 || req.Config.WorkTime < 0 || req.Config.RestTime < 0 {
		return models.Session{}, fmt.Errorf("%w: session config values must not be negative", models.ErrInvalidInput)
	}
	return s.manager.Start(ctx, req)
}

func (s *engineService) CurrentSession(ctx context.Context) (models.Session, error) {
	current, ok := s.manager.Current()
	if !ok {
		return models.Session{}, &models.NotFoundError{Kind: "session", ID: "current"}
	}
	return current, nil
}

func (s *engineService) EndSession(ctx context.Context, sessionID string) (models.SessionOutcome, error) {
	return s.manager.EndSession(ctx, sessionID)
}

func (s *engineService) ResetSession(ctx context.Context) error {
	s.manager.Reset(ctx)
	return nil
}

func (s *engineService) Leaderboard(ctx context.Context) ([]models.Metric, error) {
	if _, ok := s.manager.Current(); !ok {
		return nil, &models.NotFoundError{Kind: "session", ID: "current"}
	}
	return s.manager.Metrics(), nil
}

func (s *engineService) SessionAssignments(ctx context.Context, sessionID string) ([]models.Assignment, error) {
	return s.table.ListActive(sessionID), nil
}

// SessionResults prefers the in-memory outcome and falls back to the results store
func (s *engineService) SessionResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error) {
	if outcome, ok := s.manager.Outcome(sessionID); ok {
		return outcome.Results, nil
	}
	if s.results == nil {
		return nil, &models.NotFoundError{Kind: "results", ID: sessionID}
	}
	results, err := s.results.ListResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &models.NotFoundError{Kind: "results", ID: sessionID}
	}
	return results, nil
}

func (s *engineService) ListDevices(ctx context.Context, availableOnly bool) ([]models.Device, error) {
	if availableOnly {
		return s.devices.ListAvailable(), nil
	}
	return s.devices.List(), nil
}

func (s *engineService) UpsertDevice(ctx context.Context, d models.Device) (models.Device, error) {
	if d.ConnectionStatus != "" && !d.ConnectionStatus.Valid() {
		return models.Device{}, fmt.Errorf("%w: connection status %q", models.ErrInvalidInput, d.ConnectionStatus)
	}
	return s.devices.Upsert(d)
}

func (s *engineService) SyncDevices(ctx context.Context) (int, error) {
	if s.discovery == nil {
		return 0, nil
	}
	return s.devices.Sync(ctx, s.discovery)
}

func (s *engineService) SetDeviceConnection(ctx context.Context, deviceID string, status models.ConnectionStatus) (models.Device, error) {
	return s.devices.SetConnection(deviceID, status)
}

// Assign binds a participant to a device; an empty session id means the current session
func (s *engineService) Assign(ctx context.Context, a models.Assignment) (models.Assignment, error) {
	if a.DeviceID == "" {
		return models.Assignment{}, fmt.Errorf("%w: device_id is required", models.ErrInvalidInput)
	}
	if a.SessionID == "" {
		current, ok := s.manager.Current()
		if !ok {
			return models.Assignment{}, fmt.Errorf("%w: session_id is required when no session is running", models.ErrInvalidInput)
		}
		a.SessionID = current.ID
	}
	return s.table.Assign(a)
}

func (s *engineService) Unassign(ctx context.Context, assignmentID string) error {
	s.table.Unassign(assignmentID)
	return nil
}

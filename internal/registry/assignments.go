package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"workout-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AssignmentTable device-to-participant bindings.
// Every operation holds the table lock while touching the registry (table -> registry),
// so a telemetry tick observes an assign/unassign either fully or not at all.
type AssignmentTable struct {
	mu          sync.RWMutex
	registry    *DeviceRegistry
	assignments map[string]*models.Assignment // by assignment id
	byDevice    map[string]string             // device id -> active assignment id
	logger      *zap.Logger
	now         func() time.Time
}

// NewAssignmentTable creates a table that keeps registry's InUse flags in sync
func NewAssignmentTable(registry *DeviceRegistry, logger *zap.Logger) *AssignmentTable {
	return &AssignmentTable{
		registry:    registry,
		assignments: make(map[string]*models.Assignment),
		byDevice:    make(map[string]string),
		logger:      logger,
		now:         time.Now,
	}
}

// Assign binds a device to a participant.
// Returns ConflictError if the device already has an active assignment.
func (t *AssignmentTable) Assign(a models.Assignment) (models.Assignment, error) {
	if err := validateAssignment(a); err != nil {
		return models.Assignment{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existingID, ok := t.byDevice[a.DeviceID]; ok {
		return models.Assignment{}, &models.ConflictError{DeviceID: a.DeviceID, AssignmentID: existingID}
	}
	if err := t.registry.setInUse(a.DeviceID, true); err != nil {
		return models.Assignment{}, err
	}

	a.ID = uuid.NewString()
	a.Assigned = true
	a.AssignedAt = t.now()
	if a.ParticipantID == "" {
		a.ParticipantID = a.ID
	}

	stored := a
	t.assignments[a.ID] = &stored
	t.byDevice[a.DeviceID] = a.ID

	t.logger.Info("Device assigned",
		zap.String("assignment_id", a.ID),
		zap.String("device_id", a.DeviceID),
		zap.String("session_id", a.SessionID),
		zap.String("participant_id", a.ParticipantID),
	)
	return stored, nil
}

// CheckAvailable reports the error Assign would return for any of as, without changing state.
// Devices held by session releasing count as free; a device listed twice conflicts.
func (t *AssignmentTable) CheckAvailable(as []models.Assignment, releasing string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	requested := make(map[string]bool, len(as))
	for _, a := range as {
		if err := validateAssignment(a); err != nil {
			return err
		}
		if requested[a.DeviceID] {
			return fmt.Errorf("%w: device %s requested twice", models.ErrConflict, a.DeviceID)
		}
		requested[a.DeviceID] = true

		if existingID, ok := t.byDevice[a.DeviceID]; ok {
			if releasing == "" || t.assignments[existingID].SessionID != releasing {
				return &models.ConflictError{DeviceID: a.DeviceID, AssignmentID: existingID}
			}
		}
		if _, err := t.registry.Get(a.DeviceID); err != nil {
			return err
		}
	}
	return nil
}

// maxAge largest participant age accepted
const maxAge = 120

func validateAssignment(a models.Assignment) error {
	if a.Age != nil && (*a.Age < 0 || *a.Age > maxAge) {
		return fmt.Errorf("%w: age %d out of range 0..%d", models.ErrInvalidInput, *a.Age, maxAge)
	}
	return nil
}

// Unassign releases an assignment. Unknown ids are a no-op.
func (t *AssignmentTable) Unassign(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unassignLocked(id)
}

func (t *AssignmentTable) unassignLocked(id string) {
	a, ok := t.assignments[id]
	if !ok {
		t.logger.Debug("Unassign of unknown assignment ignored", zap.String("assignment_id", id))
		return
	}

	delete(t.assignments, id)
	if t.byDevice[a.DeviceID] == id {
		delete(t.byDevice, a.DeviceID)
		if err := t.registry.setInUse(a.DeviceID, false); err != nil {
			t.logger.Warn("Failed to release device", zap.String("device_id", a.DeviceID), zap.Error(err))
		}
	}

	t.logger.Info("Device unassigned",
		zap.String("assignment_id", id),
		zap.String("device_id", a.DeviceID),
	)
}

// ReleaseSession unassigns every assignment of sessionID and returns how many were released
func (t *AssignmentTable) ReleaseSession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, a := range t.assignments {
		if a.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		t.unassignLocked(id)
	}
	return len(ids)
}

// ListActive returns the active assignments of a session, oldest first
func (t *AssignmentTable) ListActive(sessionID string) []models.Assignment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Assignment, 0)
	for _, a := range t.assignments {
		if a.Assigned && a.SessionID == sessionID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out
}

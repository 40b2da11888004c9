package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"workout-engine/internal/models"

	"go.uber.org/zap"
)

// Discovery lists the monitors currently known to the hub
type Discovery interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// DeviceRegistry in-memory catalog of monitors, keyed by device id
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	logger  *zap.Logger
	now     func() time.Time
}

// NewDeviceRegistry creates an empty registry
func NewDeviceRegistry(logger *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*models.Device),
		logger:  logger,
		now:     time.Now,
	}
}

// Upsert inserts d or merges it into the existing entry.
// Merges refresh hub-reported fields and keep the local InUse flag.
func (r *DeviceRegistry) Upsert(d models.Device) (models.Device, error) {
	if d.ID == "" {
		return models.Device{}, fmt.Errorf("%w: device id is required", models.ErrInvalidInput)
	}
	if d.ConnectionStatus == "" {
		d.ConnectionStatus = models.ConnectionDisconnected
	}
	if d.LastSyncedAt.IsZero() {
		d.LastSyncedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[d.ID]
	if !ok {
		d.InUse = false
		stored := d
		r.devices[d.ID] = &stored
		return stored, nil
	}

	if d.DisplayName != "" {
		existing.DisplayName = d.DisplayName
	}
	if d.Hub != "" {
		existing.Hub = d.Hub
	}
	existing.BatteryLevel = d.BatteryLevel
	existing.ConnectionStatus = d.ConnectionStatus
	existing.LastSyncedAt = d.LastSyncedAt
	return *existing, nil
}

// Get returns the device with id
func (r *DeviceRegistry) Get(id string) (models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return models.Device{}, &models.NotFoundError{Kind: "device", ID: id}
	}
	return *d, nil
}

// List returns all devices ordered by id
func (r *DeviceRegistry) List() []models.Device {
	return r.list(func(models.Device) bool { return true })
}

// ListAvailable returns devices not currently assigned
func (r *DeviceRegistry) ListAvailable() []models.Device {
	return r.list(func(d models.Device) bool { return !d.InUse })
}

func (r *DeviceRegistry) list(keep func(models.Device) bool) []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		if keep(*d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetConnection updates the link status of a known device. Idempotent.
func (r *DeviceRegistry) SetConnection(id string, status models.ConnectionStatus) (models.Device, error) {
	if !status.Valid() {
		return models.Device{}, fmt.Errorf("%w: connection status %q", models.ErrInvalidInput, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.Device{}, &models.NotFoundError{Kind: "device", ID: id}
	}
	d.ConnectionStatus = status
	return *d, nil
}

// Sync pulls the hub's device list and upserts every entry
func (r *DeviceRegistry) Sync(ctx context.Context, discovery Discovery) (int, error) {
	devices, err := discovery.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list devices: %w", err)
	}

	synced := 0
	for _, d := range devices {
		if _, err := r.Upsert(d); err != nil {
			r.logger.Warn("Skipping device from discovery",
				zap.String("device_id", d.ID),
				zap.Error(err),
			)
			continue
		}
		synced++
	}

	r.logger.Debug("Synced devices", zap.Int("device_count", synced))
	return synced, nil
}

// setInUse is called by the assignment table only
func (r *DeviceRegistry) setInUse(id string, inUse bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return &models.NotFoundError{Kind: "device", ID: id}
	}
	d.InUse = inUse
	return nil
}

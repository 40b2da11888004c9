package telemetry

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"workout-engine/internal/models"
	"workout-engine/internal/scoring"
	"workout-engine/internal/zone"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// plausible heart-rate range for a wearable reading
const (
	minValidHR = 25
	maxValidHR = 250
)

// LivePoller polls the hub once per tick for all active devices
type LivePoller struct {
	client   DeviceClient
	strategy scoring.Strategy
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastWindow time.Time
}

// NewLivePoller creates a poller against client
func NewLivePoller(client DeviceClient, interval time.Duration, logger *zap.Logger) *LivePoller {
	if interval <= 0 {
		interval = PollerInterval
	}
	return &LivePoller{
		client:   client,
		strategy: scoring.Live{},
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *LivePoller) Mode() models.TelemetryMode { return models.ModeLive }

func (p *LivePoller) Interval() time.Duration { return p.interval }

// Tick issues one batch call. A failed call returns a TelemetryFetchError and no samples;
// an unusable entry only drops that participant.
func (p *LivePoller) Tick(ctx context.Context, active []models.Assignment) ([]models.Sample, error) {
	if len(active) == 0 {
		return nil, nil
	}

	req := p.buildRequest(active)
	resp, err := p.client.FetchLatest(ctx, req)
	if err != nil {
		return nil, &models.TelemetryFetchError{Reason: "batch request failed", Err: err}
	}

	samples := make([]models.Sample, 0, len(active))
	for _, a := range active {
		reading, ok := resp[a.DeviceID]
		if !ok {
			p.logFetchError(&models.TelemetryFetchError{DeviceID: a.DeviceID, Reason: "missing from response"})
			continue
		}
		hr, calories, err := validateReading(a.DeviceID, reading)
		if err != nil {
			p.logFetchError(err)
			continue
		}

		age := a.AgeOrZero()
		samples = append(samples, models.Sample{
			ID:                 uuid.NewString(),
			AssignmentID:       a.ID,
			ParticipantID:      a.ParticipantID,
			DeviceID:           a.DeviceID,
			Timestamp:          req.WindowEnd,
			HeartRate:          hr,
			CumulativeCalories: calories,
			Zone:               zone.Classify(hr, age),
			IntensityPercent:   p.strategy.Intensity(hr, age),
		})
	}
	return samples, nil
}

func (p *LivePoller) buildRequest(active []models.Assignment) BatchRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := p.now()
	start := p.lastWindow
	if start.IsZero() || !start.Before(end) {
		start = end.Add(-p.interval)
	}
	p.lastWindow = end

	devices := make([]DeviceRequest, 0, len(active))
	for _, a := range active {
		devices = append(devices, DeviceRequest{
			ID:     a.DeviceID,
			Weight: a.Weight,
			Age:    a.Age,
			Gender: a.Gender,
		})
	}
	return BatchRequest{Devices: devices, WindowStart: start, WindowEnd: end}
}

func (p *LivePoller) logFetchError(err error) {
	p.logger.Warn("Skipping telemetry reading", zap.Error(err))
}

// validateReading checks the DTO shape before it enters the engine
func validateReading(deviceID string, r ReadingDTO) (int, float64, error) {
	if r.HeartRate == nil {
		return 0, 0, &models.TelemetryFetchError{DeviceID: deviceID, Reason: "heartRate missing"}
	}
	hr := *r.HeartRate
	if math.IsNaN(hr) || hr < minValidHR || hr > maxValidHR {
		return 0, 0, &models.TelemetryFetchError{DeviceID: deviceID, Reason: fmt.Sprintf("heartRate %v out of range", hr)}
	}
	if r.CumulativeCalories == nil {
		return 0, 0, &models.TelemetryFetchError{DeviceID: deviceID, Reason: "cumulativeCalories missing"}
	}
	calories := *r.CumulativeCalories
	if math.IsNaN(calories) || calories < 0 {
		return 0, 0, &models.TelemetryFetchError{DeviceID: deviceID, Reason: fmt.Sprintf("cumulativeCalories %v invalid", calories)}
	}
	return int(math.Round(hr)), calories, nil
}

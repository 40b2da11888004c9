package telemetry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"workout-engine/internal/models"
	"workout-engine/internal/scoring"
	"workout-engine/internal/zone"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	simMinHR       = 60
	simMaxHR       = 200
	simStep        = 5 // max bpm change per tick
	simSeedMinHR   = 70
	simSeedRangeHR = 31 // seeds fall in [70, 100]
	simMaxCalories = 2.0
)

// Simulator random-walk telemetry for demo sessions
type Simulator struct {
	metrics  MetricsReader
	strategy scoring.Strategy
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu  sync.Mutex // guards rng and last
	rng *rand.Rand
	// last emitted reading per participant, used until the aggregator has published one
	last map[string]models.Sample
}

// NewSimulator creates a simulator. rng may be nil for a time-seeded generator.
func NewSimulator(metrics MetricsReader, interval time.Duration, rng *rand.Rand, logger *zap.Logger) *Simulator {
	if interval <= 0 {
		interval = SimulatorInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{
		metrics:  metrics,
		strategy: scoring.Simulated{},
		interval: interval,
		logger:   logger,
		now:      time.Now,
		rng:      rng,
		last:     make(map[string]models.Sample),
	}
}

func (s *Simulator) Mode() models.TelemetryMode { return models.ModeSimulated }

func (s *Simulator) Interval() time.Duration { return s.interval }

// Tick advances every active participant by one random-walk step
func (s *Simulator) Tick(ctx context.Context, active []models.Assignment) ([]models.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	samples := make([]models.Sample, 0, len(active))
	for _, a := range active {
		hr, calories := s.previous(a.ParticipantID)
		if hr == 0 {
			hr = simSeedMinHR + s.rng.Intn(simSeedRangeHR)
		} else {
			hr = clamp(hr+s.rng.Intn(2*simStep+1)-simStep, simMinHR, simMaxHR)
		}
		calories += s.rng.Float64() * simMaxCalories

		age := a.AgeOrZero()
		sample := models.Sample{
			ID:                 uuid.NewString(),
			AssignmentID:       a.ID,
			ParticipantID:      a.ParticipantID,
			DeviceID:           a.DeviceID,
			Timestamp:          now,
			HeartRate:          hr,
			CumulativeCalories: calories,
			Zone:               zone.Classify(hr, age),
			IntensityPercent:   s.strategy.Intensity(hr, age),
		}
		s.last[a.ParticipantID] = sample
		samples = append(samples, sample)
	}

	s.logger.Debug("Simulated telemetry tick", zap.Int("sample_count", len(samples)))
	return samples, nil
}

func (s *Simulator) previous(participantID string) (int, float64) {
	if s.metrics != nil {
		if m, ok := s.metrics.Latest(participantID); ok && m.CurrentHR > 0 {
			return m.CurrentHR, m.Calories
		}
	}
	if last, ok := s.last[participantID]; ok {
		return last.HeartRate, last.CumulativeCalories
	}
	return 0, 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package aggregator folds telemetry samples into ranked per-participant metrics.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"workout-engine/internal/models"
	"workout-engine/internal/scoring"
	"workout-engine/internal/zone"

	"go.uber.org/zap"
)

// Snapshot one fully ranked view of a session, published after every tick
type Snapshot struct {
	SessionID string          `json:"session_id"`
	Mode      string          `json:"mode"`
	Metrics   []models.Metric `json:"metrics"` // rank order
	Samples   []models.Sample `json:"-"`       // samples of the tick that produced this snapshot
	At        time.Time       `json:"at"`
}

// Publisher receives every snapshot outside the aggregator lock.
// Failures are logged and never block the next tick.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snap Snapshot) error
}

type participantState struct {
	metric         models.Metric
	lastCumulative float64
}

// Aggregator owns the metric set of the current session
type Aggregator struct {
	mu          sync.RWMutex
	sessionID   string
	strategy    scoring.Strategy
	tickSeconds float64
	active      map[string]*participantState // by participant id
	retired     map[string]models.Metric     // participants unassigned mid-session
	ranked      []models.Metric
	window      *SampleWindow

	subMu       sync.Mutex
	subscribers map[int]chan Snapshot
	nextSubID   int

	publishers []Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewAggregator creates an aggregator with a sample window of windowSize
func NewAggregator(windowSize int, logger *zap.Logger, publishers ...Publisher) *Aggregator {
	return &Aggregator{
		strategy:    scoring.Simulated{Policy: scoring.CaloriesAccumulated},
		tickSeconds: 2,
		active:      make(map[string]*participantState),
		retired:     make(map[string]models.Metric),
		window:      NewSampleWindow(windowSize),
		subscribers: make(map[int]chan Snapshot),
		publishers:  publishers,
		logger:      logger,
		now:         time.Now,
	}
}

// Reset clears all state and starts a new session with strategy.
// tick is the telemetry interval credited to a zone per sample.
func (a *Aggregator) Reset(sessionID string, strategy scoring.Strategy, tick time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessionID = sessionID
	a.strategy = strategy
	a.tickSeconds = tick.Seconds()
	a.active = make(map[string]*participantState)
	a.retired = make(map[string]models.Metric)
	a.ranked = nil
	a.window.Reset()
}

// Apply folds one tick of samples into the metric set, re-ranks, then publishes.
// active is the assignment snapshot the samples were produced from.
func (a *Aggregator) Apply(ctx context.Context, samples []models.Sample, active []models.Assignment) {
	snap := a.apply(samples, active)
	a.publish(ctx, snap)
}

func (a *Aggregator) apply(samples []models.Sample, active []models.Assignment) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	byParticipant := make(map[string]models.Assignment, len(active))
	for _, as := range active {
		byParticipant[as.ParticipantID] = as
	}

	// retire first so a participant that left mid-tick is not re-ranked
	for pid, st := range a.active {
		if _, ok := byParticipant[pid]; !ok {
			st.metric.Rank = 0
			a.retired[pid] = st.metric
			delete(a.active, pid)
		}
	}

	accepted := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		as, ok := byParticipant[s.ParticipantID]
		if !ok {
			continue
		}
		a.update(s, as)
		accepted = append(accepted, s)
	}
	for _, as := range active {
		if _, ok := a.active[as.ParticipantID]; !ok {
			a.seed(as)
		}
	}
	a.window.Append(accepted...)

	a.rank()

	return Snapshot{
		SessionID: a.sessionID,
		Mode:      string(a.strategy.Mode()),
		Metrics:   copyMetrics(a.ranked),
		Samples:   accepted,
		At:        a.now(),
	}
}

func (a *Aggregator) update(s models.Sample, as models.Assignment) {
	st, ok := a.active[s.ParticipantID]
	if !ok {
		st = &participantState{}
		if prev, wasRetired := a.retired[s.ParticipantID]; wasRetired {
			st.metric = prev
			st.lastCumulative = prev.Calories
			delete(a.retired, s.ParticipantID)
		}
		a.active[s.ParticipantID] = st
	}
	m := &st.metric
	seen := m.SampleCount > 0
	age := as.AgeOrZero()

	m.ParticipantID = s.ParticipantID
	m.ParticipantName = as.ParticipantName
	m.AssignmentID = as.ID
	m.DeviceID = as.DeviceID

	m.CurrentHR = s.HeartRate
	m.SampleCount++
	// true running mean over every sample of the session
	m.AverageHR += (float64(s.HeartRate) - m.AverageHR) / float64(m.SampleCount)
	if !seen || s.HeartRate > m.MaxHR {
		m.MaxHR = s.HeartRate
	}
	if !seen || s.HeartRate < m.MinHR {
		m.MinHR = s.HeartRate
	}

	m.Calories = a.strategy.Calories(m.Calories, st.lastCumulative, seen, s)
	st.lastCumulative = s.CumulativeCalories

	m.Zone = zone.Classify(s.HeartRate, age)
	m.IntensityPercent = a.strategy.Intensity(s.HeartRate, age)
	m.ZoneSeconds[m.Zone-1] += a.tickSeconds
	m.UpdatedAt = s.Timestamp
}

// seed gives an active participant without readings a zero metric so it is ranked and extracted
func (a *Aggregator) seed(as models.Assignment) {
	st := &participantState{}
	if prev, wasRetired := a.retired[as.ParticipantID]; wasRetired {
		st.metric = prev
		st.lastCumulative = prev.Calories
		delete(a.retired, as.ParticipantID)
	}
	st.metric.ParticipantID = as.ParticipantID
	st.metric.ParticipantName = as.ParticipantName
	st.metric.AssignmentID = as.ID
	st.metric.DeviceID = as.DeviceID
	a.active[as.ParticipantID] = st
}

// rank orders the active set by the strategy and assigns 1..n.
// Participants without readings go last.
func (a *Aggregator) rank() {
	ranked := make([]models.Metric, 0, len(a.active))
	for _, st := range a.active {
		ranked = append(ranked, st.metric)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ranked[i].SampleCount > 0, ranked[j].SampleCount > 0
		if ri != rj {
			return ri
		}
		return a.strategy.Less(ranked[i], ranked[j])
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
		a.active[ranked[i].ParticipantID].metric.Rank = i + 1
	}
	a.ranked = ranked
}

func (a *Aggregator) publish(ctx context.Context, snap Snapshot) {
	a.subMu.Lock()
	for _, ch := range a.subscribers {
		offerLatest(ch, snap)
	}
	a.subMu.Unlock()

	for _, p := range a.publishers {
		if err := p.Publish(ctx, snap); err != nil {
			a.logger.Warn("Failed to publish metrics",
				zap.String("publisher", p.Name()),
				zap.String("session_id", snap.SessionID),
				zap.Error(err),
			)
		}
	}
}

// offerLatest replaces any unread snapshot so readers always see the newest
func offerLatest(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel that always holds the most recent unread snapshot
func (a *Aggregator) Subscribe() (<-chan Snapshot, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	id := a.nextSubID
	a.nextSubID++
	ch := make(chan Snapshot, 1)
	a.subscribers[id] = ch

	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subscribers, id)
	}
}

// Snapshot returns the active metrics in rank order
func (a *Aggregator) Snapshot() []models.Metric {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyMetrics(a.ranked)
}

// AllMetrics returns active metrics in rank order followed by retired ones
func (a *Aggregator) AllMetrics() []models.Metric {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := copyMetrics(a.ranked)
	retired := make([]models.Metric, 0, len(a.retired))
	for _, m := range a.retired {
		retired = append(retired, m)
	}
	sort.Slice(retired, func(i, j int) bool { return retired[i].ParticipantID < retired[j].ParticipantID })
	return append(out, retired...)
}

// Latest returns the last published metric of an active participant
func (a *Aggregator) Latest(participantID string) (models.Metric, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.active[participantID]
	if !ok {
		return models.Metric{}, false
	}
	return st.metric, true
}

// Samples returns the in-memory sample window, oldest first
func (a *Aggregator) Samples() []models.Sample {
	return a.window.Items()
}

// SessionID the session the metric set belongs to
func (a *Aggregator) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID
}

func copyMetrics(in []models.Metric) []models.Metric {
	out := make([]models.Metric, len(in))
	copy(out, in)
	return out
}

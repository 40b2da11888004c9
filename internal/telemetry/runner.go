package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"workout-engine/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// AssignmentLister snapshot of a session's active assignments
type AssignmentLister interface {
	ListActive(sessionID string) []models.Assignment
}

// Sink consumes each tick's samples
type Sink interface {
	Apply(ctx context.Context, samples []models.Sample, active []models.Assignment)
}

// Metrics runner counters, labelled by telemetry mode
type Metrics struct {
	Ticks       *prometheus.CounterVec
	FetchErrors *prometheus.CounterVec
	Samples     *prometheus.CounterVec
}

// NewMetrics registers the runner counters with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workout",
			Subsystem: "telemetry",
			Name:      "ticks_total",
			Help:      "Telemetry ticks executed.",
		}, []string{"mode"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workout",
			Subsystem: "telemetry",
			Name:      "fetch_errors_total",
			Help:      "Telemetry ticks skipped because the source failed.",
		}, []string{"mode"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workout",
			Subsystem: "telemetry",
			Name:      "samples_total",
			Help:      "Samples handed to the aggregator.",
		}, []string{"mode"}),
	}
	reg.MustRegister(m.Ticks, m.FetchErrors, m.Samples)
	return m
}

// Runner drives one Source on its own interval for one session
type Runner struct {
	source    Source
	sessionID string
	lister    AssignmentLister
	sink      Sink
	logger    *zap.Logger
	metrics   *Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wires source to sink for sessionID. metrics may be nil.
func NewRunner(source Source, sessionID string, lister AssignmentLister, sink Sink, logger *zap.Logger, metrics *Metrics) *Runner {
	return &Runner{
		source:    source,
		sessionID: sessionID,
		lister:    lister,
		sink:      sink,
		logger:    logger.With(zap.String("session_id", sessionID), zap.String("mode", string(source.Mode()))),
		metrics:   metrics,
	}
}

// Start launches the polling goroutine. Calling Start twice is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	ticker := time.NewTicker(r.source.Interval())
	go func() {
		defer close(r.done)
		defer ticker.Stop()
		r.run(ctx, ticker.C)
	}()

	r.logger.Info("Telemetry runner started", zap.Duration("interval", r.source.Interval()))
}

// Stop cancels the goroutine and waits for an in-flight tick to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("Telemetry runner stopped")
}

func (r *Runner) run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single tick: snapshot assignments, fetch, hand to the sink
func (r *Runner) RunOnce(ctx context.Context) {
	mode := string(r.source.Mode())
	if r.metrics != nil {
		r.metrics.Ticks.WithLabelValues(mode).Inc()
	}

	active := r.lister.ListActive(r.sessionID)
	samples, err := r.source.Tick(ctx, active)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if r.metrics != nil {
			r.metrics.FetchErrors.WithLabelValues(mode).Inc()
		}
		r.logger.Warn("Telemetry tick skipped", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if r.metrics != nil {
		r.metrics.Samples.WithLabelValues(mode).Add(float64(len(samples)))
	}
	r.sink.Apply(ctx, samples, active)
}

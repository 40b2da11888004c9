package service

import (
	"context"
	"time"

	"workout-engine/internal/models"
	"workout-engine/internal/session"

	"github.com/go-kit/kit/metrics"
)

var _ Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     Service
}

// Metrics counts calls and observes latency per method
func Metrics(counter metrics.Counter, latency metrics.Histogram, svc Service) Service {
	return &metricsMiddleware{counter: counter, latency: latency, svc: svc}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) StartSession(ctx context.Context, req session.StartRequest) (models.Session, error) {
	defer mm.observe("start-session", time.Now())
	return mm.svc.StartSession(ctx, req)
}

func (mm *metricsMiddleware) CurrentSession(ctx context.Context) (models.Session, error) {
	defer mm.observe("current-session", time.Now())
	return mm.svc.CurrentSession(ctx)
}

func (mm *metricsMiddleware) EndSession(ctx context.Context, sessionID string) (models.SessionOutcome, error) {
	defer mm.observe("end-session", time.Now())
	return mm.svc.EndSession(ctx, sessionID)
}

func (mm *metricsMiddleware) ResetSession(ctx context.Context) error {
	defer mm.observe("reset-session", time.Now())
	return mm.svc.ResetSession(ctx)
}

func (mm *metricsMiddleware) Leaderboard(ctx context.Context) ([]models.Metric, error) {
	defer mm.observe("leaderboard", time.Now())
	return mm.svc.Leaderboard(ctx)
}

func (mm *metricsMiddleware) SessionAssignments(ctx context.Context, sessionID string) ([]models.Assignment, error) {
	defer mm.observe("session-assignments", time.Now())
	return mm.svc.SessionAssignments(ctx, sessionID)
}

func (mm *metricsMiddleware) SessionResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error) {
	defer mm.observe("session-results", time.Now())
	return mm.svc.SessionResults(ctx, sessionID)
}

func (mm *metricsMiddleware) ListDevices(ctx context.Context, availableOnly bool) ([]models.Device, error) {
	defer mm.observe("list-devices", time.Now())
	return mm.svc.ListDevices(ctx, availableOnly)
}

func (mm *metricsMiddleware) UpsertDevice(ctx context.Context, d models.Device) (models.Device, error) {
	defer mm.observe("upsert-device", time.Now())
	return mm.svc.UpsertDevice(ctx, d)
}

func (mm *metricsMiddleware) SyncDevices(ctx context.Context) (int, error) {
	defer mm.observe("sync-devices", time.Now())
	return mm.svc.SyncDevices(ctx)
}

func (mm *metricsMiddleware) SetDeviceConnection(ctx context.Context, deviceID string, status models.ConnectionStatus) (models.Device, error) {
	defer mm.observe("set-device-connection", time.Now())
	return mm.svc.SetDeviceConnection(ctx, deviceID, status)
}

func (mm *metricsMiddleware) Assign(ctx context.Context, a models.Assignment) (models.Assignment, error) {
	defer mm.observe("assign", time.Now())
	return mm.svc.Assign(ctx, a)
}

func (mm *metricsMiddleware) Unassign(ctx context.Context, assignmentID string) error {
	defer mm.observe("unassign", time.Now())
	return mm.svc.Unassign(ctx, assignmentID)
}

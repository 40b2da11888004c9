package service

import (
	"context"
	"time"

	"workout-engine/internal/models"
	"workout-engine/internal/session"

	"go.uber.org/zap"
)

var _ Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *zap.Logger
	svc    Service
}

// Logging wraps svc with one structured entry per call
func Logging(logger *zap.Logger, svc Service) Service {
	return &loggingMiddleware{logger: logger, svc: svc}
}

func (lm *loggingMiddleware) log(op string, begin time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("duration", time.Since(begin).String()))
	if err != nil {
		lm.logger.Warn(op+" failed", append(fields, zap.Error(err))...)
		return
	}
	lm.logger.Info(op+" completed successfully", fields...)
}

func (lm *loggingMiddleware) StartSession(ctx context.Context, req session.StartRequest) (s models.Session, err error) {
	defer func(begin time.Time) {
		lm.log("Start session", begin, err,
			zap.String("session_id", s.ID),
			zap.String("mode", string(req.Mode)),
			zap.Int("participant_count", len(req.Participants)),
		)
	}(time.Now())

	return lm.svc.StartSession(ctx, req)
}

// read-only calls log at debug; displays poll them every second
func (lm *loggingMiddleware) CurrentSession(ctx context.Context) (models.Session, error) {
	defer func(begin time.Time) {
		lm.logger.Debug("Current session", zap.String("duration", time.Since(begin).String()))
	}(time.Now())

	return lm.svc.CurrentSession(ctx)
}

func (lm *loggingMiddleware) EndSession(ctx context.Context, sessionID string) (o models.SessionOutcome, err error) {
	defer func(begin time.Time) {
		lm.log("End session", begin, err,
			zap.String("session_id", sessionID),
			zap.Int("result_count", len(o.Results)),
		)
	}(time.Now())

	return lm.svc.EndSession(ctx, sessionID)
}

func (lm *loggingMiddleware) ResetSession(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		lm.log("Reset session", begin, err)
	}(time.Now())

	return lm.svc.ResetSession(ctx)
}

func (lm *loggingMiddleware) Leaderboard(ctx context.Context) ([]models.Metric, error) {
	defer func(begin time.Time) {
		lm.logger.Debug("Leaderboard", zap.String("duration", time.Since(begin).String()))
	}(time.Now())

	return lm.svc.Leaderboard(ctx)
}

func (lm *loggingMiddleware) SessionAssignments(ctx context.Context, sessionID string) ([]models.Assignment, error) {
	defer func(begin time.Time) {
		lm.logger.Debug("Session assignments",
			zap.String("session_id", sessionID),
			zap.String("duration", time.Since(begin).String()),
		)
	}(time.Now())

	return lm.svc.SessionAssignments(ctx, sessionID)
}

func (lm *loggingMiddleware) SessionResults(ctx context.Context, sessionID string) (res []models.ResultRecord, err error) {
	defer func(begin time.Time) {
		lm.log("Session results", begin, err,
			zap.String("session_id", sessionID),
			zap.Int("result_count", len(res)),
		)
	}(time.Now())

	return lm.svc.SessionResults(ctx, sessionID)
}

func (lm *loggingMiddleware) ListDevices(ctx context.Context, availableOnly bool) ([]models.Device, error) {
	defer func(begin time.Time) {
		lm.logger.Debug("List devices",
			zap.Bool("available_only", availableOnly),
			zap.String("duration", time.Since(begin).String()),
		)
	}(time.Now())

	return lm.svc.ListDevices(ctx, availableOnly)
}

func (lm *loggingMiddleware) UpsertDevice(ctx context.Context, d models.Device) (res models.Device, err error) {
	defer func(begin time.Time) {
		lm.log("Upsert device", begin, err, zap.String("device_id", d.ID))
	}(time.Now())

	return lm.svc.UpsertDevice(ctx, d)
}

func (lm *loggingMiddleware) SyncDevices(ctx context.Context) (n int, err error) {
	defer func(begin time.Time) {
		lm.log("Sync devices", begin, err, zap.Int("device_count", n))
	}(time.Now())

	return lm.svc.SyncDevices(ctx)
}

func (lm *loggingMiddleware) SetDeviceConnection(ctx context.Context, deviceID string, status models.ConnectionStatus) (d models.Device, err error) {
	defer func(begin time.Time) {
		lm.log("Set device connection", begin, err,
			zap.String("device_id", deviceID),
			zap.String("status", string(status)),
		)
	}(time.Now())

	return lm.svc.SetDeviceConnection(ctx, deviceID, status)
}

func (lm *loggingMiddleware) Assign(ctx context.Context, a models.Assignment) (res models.Assignment, err error) {
	defer func(begin time.Time) {
		lm.log("Assign device", begin, err,
			zap.String("device_id", a.DeviceID),
			zap.String("participant_id", res.ParticipantID),
			zap.String("assignment_id", res.ID),
		)
	}(time.Now())

	return lm.svc.Assign(ctx, a)
}

func (lm *loggingMiddleware) Unassign(ctx context.Context, assignmentID string) (err error) {
	defer func(begin time.Time) {
		lm.log("Unassign device", begin, err, zap.String("assignment_id", assignmentID))
	}(time.Now())

	return lm.svc.Unassign(ctx, assignmentID)
}

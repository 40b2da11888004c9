package extraction

import (
	"context"

	"workout-engine/internal/models"

	commonredis "workout-engine/common/redis"
)

const (
	// EventSessionCompleted stream event type
	EventSessionCompleted = "session.completed"

	streamMaxLen = 10000
)

// StreamEvents appends completion events to a Redis stream
type StreamEvents struct {
	client *commonredis.Client
	stream string
}

func NewStreamEvents(client *commonredis.Client, stream string) *StreamEvents {
	return &StreamEvents{client: client, stream: stream}
}

func (s *StreamEvents) SessionCompleted(ctx context.Context, outcome models.SessionOutcome) error {
	_, err := commonredis.PublishJSONToStream(ctx, s.client, s.stream, streamMaxLen, EventSessionCompleted, outcome)
	return err
}

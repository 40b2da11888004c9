package telemetry

import (
	"context"
	"fmt"
	"time"

	"workout-engine/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DeviceRequest one monitor in a batch telemetry request
type DeviceRequest struct {
	ID     string   `json:"id"`
	Weight *float64 `json:"weight,omitempty"`
	Age    *int     `json:"age,omitempty"`
	Gender string   `json:"gender,omitempty"`
}

// BatchRequest body of the telemetry collaborator call
type BatchRequest struct {
	Devices     []DeviceRequest `json:"devices"`
	WindowStart time.Time       `json:"windowStart"`
	WindowEnd   time.Time       `json:"windowEnd"`
}

// ReadingDTO one device entry of the batch response; pointers detect missing fields
type ReadingDTO struct {
	HeartRate          *float64 `json:"heartRate"`
	CumulativeCalories *float64 `json:"cumulativeCalories"`
}

// BatchResponse device id -> latest reading
type BatchResponse map[string]ReadingDTO

// DeviceDTO one entry of the discovery listing
type DeviceDTO struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	Hub              string `json:"hub"`
	Battery          int    `json:"battery"`
	ConnectionStatus string `json:"connectionStatus"`
}

// DeviceClient the hub-side collaborator for discovery and live readings
type DeviceClient interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	FetchLatest(ctx context.Context, req BatchRequest) (BatchResponse, error)
}

// HTTPDeviceClient DeviceClient over the hub's JSON API
type HTTPDeviceClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPDeviceClient creates a client for the hub API at baseURL.
// No retries: a failed poll is skipped and the next tick tries again.
func NewHTTPDeviceClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPDeviceClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPDeviceClient{
		httpClient: client,
		logger:     logger,
	}
}

// ListDevices fetches the hub's flat device list
func (c *HTTPDeviceClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	var dtos []DeviceDTO
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get("/devices")
	if err != nil {
		return nil, fmt.Errorf("failed to call device discovery: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("device discovery returned status %d", resp.StatusCode())
	}

	now := time.Now()
	devices := make([]models.Device, 0, len(dtos))
	for _, dto := range dtos {
		status := models.ConnectionStatus(dto.ConnectionStatus)
		if !status.Valid() {
			status = models.ConnectionDisconnected
		}
		devices = append(devices, models.Device{
			ID:               dto.ID,
			DisplayName:      dto.DisplayName,
			Hub:              dto.Hub,
			BatteryLevel:     dto.Battery,
			ConnectionStatus: status,
			LastSyncedAt:     now,
		})
	}

	c.logger.Debug("Fetched device list", zap.Int("device_count", len(devices)))
	return devices, nil
}

// FetchLatest posts one batch request and decodes the per-device readings
func (c *HTTPDeviceClient) FetchLatest(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	var out BatchResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/telemetry/latest")
	if err != nil {
		return nil, fmt.Errorf("failed to call telemetry API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("telemetry API returned status %d", resp.StatusCode())
	}
	if out == nil {
		return nil, fmt.Errorf("telemetry API returned an empty body")
	}
	return out, nil
}

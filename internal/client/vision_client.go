package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/buglens/api/internal/config"
	"github.com/buglens/api/internal/model"
)

// UIDetector defines the interface for frame-level UI detection
type UIDetector interface {
	Detect(ctx context.Context, framePath string, annotate bool) (*DetectResponse, error)
	HealthCheck(ctx context.Context) error
}

// VisionClient implements UIDetector for the detector microservice
type VisionClient struct {
	httpClient *http.Client
	baseURL    string
}

// DetectResponse represents the detections for one frame
type DetectResponse struct {
	Detections []model.DetectedElement `json:"detections"`
	// AnnotatedImage is the frame with boxes drawn on it, base64-encoded
	// JPEG, present only when annotation was requested.
	AnnotatedImage string `json:"annotated_image,omitempty"`
}

// NewVisionClient creates a new vision detector client
func NewVisionClient(cfg *config.VisionConfig) *VisionClient {
	return &VisionClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Detect uploads one frame to the detector and returns its detections
func (c *VisionClient) Detect(ctx context.Context, framePath string, annotate bool) (*DetectResponse, error) {
	f, err := os.Open(framePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(framePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to copy frame data: %w", err)
	}
	if annotate {
		if err := writer.WriteField("annotate", "true"); err != nil {
			return nil, fmt.Errorf("failed to write annotate field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result DetectResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// HealthCheck checks if the detector service is available
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vision service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *VisionClient) IsConfigured() bool {
	return c.baseURL != ""
}

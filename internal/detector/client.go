package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Client calls a layout model server over HTTP. The server receives the image
// as multipart form data and answers with pixel boxes.
type Client struct {
	baseURL    string
	model      string
	imageSize  int
	httpClient *http.Client
}

var _ Detector = (*Client)(nil)

func NewClient(baseURL, model string, imageSize int, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if model == "" {
		model = DefaultModel
	}
	if imageSize <= 0 {
		imageSize = DefaultImageSize
	}
	return &Client{
		baseURL:   baseURL,
		model:     model,
		imageSize: imageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type PredictResponse struct {
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Boxes  []RawBox `json:"boxes"`
	Error  string   `json:"error,omitempty"`
}

func (c *Client) Detect(ctx context.Context, imagePath string, t Thresholds) (*Detection, error) {
	t = t.WithDefaults()

	body, contentType, err := c.form(imagePath, t)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/predict", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Layout detection failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Layout detection failed: detector returned status %d: %s", resp.StatusCode, string(bytes.TrimSpace(bodyBytes)))
	}

	var predict PredictResponse
	if err := json.Unmarshal(bodyBytes, &predict); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if predict.Error != "" {
		return nil, fmt.Errorf("Layout detection failed: %s", predict.Error)
	}

	detection := &Detection{
		Thresholds: t,
		ImageSize:  c.imageSize,
		Model:      c.model,
	}
	if len(predict.Boxes) == 0 {
		detection.Regions = []Region{}
		return detection, nil
	}

	regions, err := Normalize(predict.Boxes, predict.Width, predict.Height)
	if err != nil {
		return nil, err
	}
	detection.Regions = regions
	return detection, nil
}

func (c *Client) form(imagePath string, t Thresholds) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", errors.New("Image file not found on disk.")
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model": c.model,
		"conf":  strconv.FormatFloat(t.Confidence, 'f', -1, 64),
		"iou":   strconv.FormatFloat(t.IoU, 'f', -1, 64),
		"imgsz": strconv.Itoa(c.imageSize),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call detector: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector health check failed with status %d", resp.StatusCode)
	}
	return nil
}

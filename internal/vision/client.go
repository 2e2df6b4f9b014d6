package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"asset-intake/internal/domain/asset"
)

var ErrNotConfigured = errors.New("vision service not configured")

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client sends capture images to the external recognition service.
type Client struct {
	config     Config
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(config Config, log zerolog.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		log:        log.With().Str("component", "vision").Logger(),
	}
}

type recognizeRequest struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type,omitempty"`
}

// recognizeResponse mirrors the service payload, where undetermined values
// arrive as "Unknown", "N/A" or "Not Scanned".
type recognizeResponse struct {
	Plate    string `json:"plate"`
	VIN      string `json:"vin"`
	Category string `json:"category"`
	Year     string `json:"year"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Color    string `json:"color"`
}

func (c *Client) Recognize(ctx context.Context, image []byte, contentType string) (asset.RecognitionResult, error) {
	if c.config.URL == "" {
		return asset.RecognitionResult{}, ErrNotConfigured
	}
	if len(image) == 0 {
		return asset.RecognitionResult{}, errors.New("empty image")
	}

	payload, err := json.Marshal(recognizeRequest{
		Image:       base64.StdEncoding.EncodeToString(image),
		ContentType: contentType,
	})
	if err != nil {
		return asset.RecognitionResult{}, fmt.Errorf("encode recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return asset.RecognitionResult{}, fmt.Errorf("build recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return asset.RecognitionResult{}, fmt.Errorf("recognize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asset.RecognitionResult{}, fmt.Errorf("recognize: unexpected status %d", resp.StatusCode)
	}

	var body recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return asset.RecognitionResult{}, fmt.Errorf("decode recognition response: %w", err)
	}

	result := asset.FromExternal(asset.RecognitionResult{
		Plate:    body.Plate,
		VIN:      body.VIN,
		Category: asset.Category(body.Category),
		Year:     body.Year,
		Make:     body.Make,
		Model:    body.Model,
		Color:    body.Color,
	})

	c.log.Debug().
		Str("plate", result.Plate).
		Str("vin", result.VIN).
		Str("category", string(result.Category)).
		Dur("duration", time.Since(start)).
		Msg("recognized capture")

	return result, nil
}

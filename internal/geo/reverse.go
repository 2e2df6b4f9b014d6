package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"asset-intake/internal/domain/asset"
)

// ReverseGeocoder labels a device fix using a Nominatim compatible
// /reverse endpoint.
type ReverseGeocoder struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewReverseGeocoder(baseURL, userAgent string, timeout time.Duration) *ReverseGeocoder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ReverseGeocoder{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

func (g *ReverseGeocoder) Locate(ctx context.Context, hint *Coordinates) (asset.Location, error) {
	if hint == nil {
		return asset.Location{}, ErrNoFix
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(hint.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(hint.Lng, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return asset.Location{}, fmt.Errorf("build reverse geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return asset.Location{}, fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asset.Location{}, fmt.Errorf("reverse geocode: unexpected status %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return asset.Location{}, fmt.Errorf("decode reverse geocode response: %w", err)
	}
	if body.Error != "" {
		return asset.Location{}, fmt.Errorf("reverse geocode: %s", body.Error)
	}

	return asset.Location{Lat: hint.Lat, Lng: hint.Lng, Label: body.DisplayName}, nil
}

package decode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"asset-intake/internal/vin"
)

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://vpic.nhtsa.dot.gov/api",
		Timeout:  10 * time.Second,
		CacheTTL: 24 * time.Hour,
	}
}

// Client looks VINs up against a vPIC compatible decode API. Answers,
// including "no match", are cached per VIN.
type Client struct {
	config     Config
	httpClient *http.Client
	cache      *cache.Cache
	log        zerolog.Logger
}

func NewClient(config Config, log zerolog.Logger) *Client {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaults.CacheTTL
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      cache.New(config.CacheTTL, config.CacheTTL*2),
		log:        log.With().Str("component", "decode").Logger(),
	}
}

type decodeResponse struct {
	Count   int            `json:"Count"`
	Message string         `json:"Message"`
	Results []decodeResult `json:"Results"`
}

type decodeResult struct {
	ErrorCode    string `json:"ErrorCode"`
	Make         string `json:"Make"`
	Manufacturer string `json:"Manufacturer"`
	ModelYear    string `json:"ModelYear"`
	PlantCity    string `json:"PlantCity"`
	PlantState   string `json:"PlantState"`
	PlantCountry string `json:"PlantCountry"`
}

// Decode returns manufacturing data for v, or nil when the service knows
// nothing about it.
func (c *Client) Decode(ctx context.Context, v string) (*vin.ManufacturingInfo, error) {
	if len(v) != vin.Length {
		return nil, nil
	}

	if cached, found := c.cache.Get(v); found {
		c.log.Debug().Str("vin", v).Msg("decode cache hit")
		return cached.(*vin.ManufacturingInfo), nil
	}

	endpoint := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(v))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build decode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decode vin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("decode vin: unexpected status %d", resp.StatusCode)
	}

	var body decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode vin response: %w", err)
	}

	info := toInfo(body)
	c.cache.Set(v, info, cache.DefaultExpiration)

	c.log.Debug().
		Str("vin", v).
		Dur("duration", time.Since(start)).
		Bool("matched", info != nil).
		Msg("decoded vin")

	return info, nil
}

func toInfo(body decodeResponse) *vin.ManufacturingInfo {
	if len(body.Results) == 0 {
		return nil
	}
	r := body.Results[0]

	manufacturer := strings.TrimSpace(r.Manufacturer)
	if manufacturer == "" {
		manufacturer = strings.TrimSpace(r.Make)
	}

	var plantParts []string
	for _, p := range []string{r.PlantCity, r.PlantState} {
		if p = strings.TrimSpace(p); p != "" {
			plantParts = append(plantParts, p)
		}
	}

	info := vin.ManufacturingInfo{
		Manufacturer: manufacturer,
		Country:      strings.TrimSpace(r.PlantCountry),
		Plant:        strings.Join(plantParts, ", "),
		ModelYear:    strings.TrimSpace(r.ModelYear),
	}
	if info.IsZero() {
		return nil
	}
	return &info
}

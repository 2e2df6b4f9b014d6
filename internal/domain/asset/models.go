package asset

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"asset-intake/internal/vin"
)

// Sentinels used by the vision service and by previously stored records for
// values that could not be determined.
const (
	Unknown    = "Unknown"
	NotApplied = "N/A"
	NotScanned = "Not Scanned"
)

// MaxPhotos caps the photo history kept on an asset.
const MaxPhotos = 20

type Category string

const (
	CategoryVehicle   Category = "vehicle"
	CategoryTrailer   Category = "trailer"
	CategoryEquipment Category = "equipment"
	CategoryUnknown   Category = "unknown"
)

func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryVehicle, CategoryTrailer, CategoryEquipment:
		return c
	}
	return CategoryUnknown
}

type WarningType string

const (
	WarningNone    WarningType = "none"
	WarningVerbal  WarningType = "verbal"
	WarningWritten WarningType = "written"
)

type InteractionKind string

const (
	KindSighting     InteractionKind = "sighting"
	KindTrespass     InteractionKind = "trespass"
	KindNotification InteractionKind = "notification"
)

// RecognitionResult holds the attributes read from a capture. An empty field
// means the value was not determined.
type RecognitionResult struct {
	Plate    string   `json:"plate,omitempty"`
	VIN      string   `json:"vin,omitempty"`
	Category Category `json:"category,omitempty"`
	Year     string   `json:"year,omitempty"`
	Make     string   `json:"make,omitempty"`
	Model    string   `json:"model,omitempty"`
	Color    string   `json:"color,omitempty"`
}

// IsPlaceholder reports whether s is empty or one of the sentinel strings.
func IsPlaceholder(s string) bool {
	switch strings.TrimSpace(s) {
	case "", Unknown, NotApplied, NotScanned:
		return true
	}
	return false
}

// FromExternal drops sentinel strings coming from the vision service.
func FromExternal(r RecognitionResult) RecognitionResult {
	clean := func(s string) string {
		if IsPlaceholder(s) {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return RecognitionResult{
		Plate:    clean(r.Plate),
		VIN:      clean(r.VIN),
		Category: ParseCategory(string(r.Category)),
		Year:     clean(r.Year),
		Make:     clean(r.Make),
		Model:    clean(r.Model),
		Color:    clean(r.Color),
	}
}

type Photo struct {
	Ref        string    `json:"ref"`
	CapturedAt time.Time `json:"captured_at"`
}

type Location struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

type PendingCapture struct {
	ID          uuid.UUID         `json:"id"`
	Recognition RecognitionResult `json:"recognition"`
	Photos      []Photo           `json:"photos"`
	Location    *Location         `json:"location,omitempty"`
	CapturedAt  time.Time         `json:"captured_at"`
	VINReport   *vin.Reasoning    `json:"vin_report,omitempty"`
}

type AssetRecord struct {
	ID            uuid.UUID `json:"id"`
	Plate         string    `json:"plate"`
	VIN           string    `json:"vin"`
	Category      Category  `json:"category"`
	Year          string    `json:"year"`
	Make          string    `json:"make"`
	Model         string    `json:"model"`
	Color         string    `json:"color"`
	Photos        []Photo   `json:"photos"`
	FirstSighting time.Time `json:"first_sighting"`
	LastSighting  time.Time `json:"last_sighting"`
	Location      *Location `json:"location,omitempty"`
}

type InteractionRecord struct {
	ID          uuid.UUID       `json:"id"`
	Kind        InteractionKind `json:"kind"`
	AssetID     uuid.UUID       `json:"asset_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Notes       string          `json:"notes"`
	Operator    string          `json:"operator"`
	WarningType WarningType     `json:"warning_type"`
	Location    *Location       `json:"location,omitempty"`
}

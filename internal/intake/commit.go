package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"asset-intake/internal/domain/asset"
)

var ErrAssetNotFound = errors.New("asset not found")

const (
	notesInitial   = "Initial sighting recorded."
	notesDuplicate = "Repeat sighting; existing asset updated."
	notesTrespass  = "Trespass notice issued (%s warning)."
)

type CommitRequest struct {
	Recognition asset.RecognitionResult
	Photos      []asset.Photo
	Warning     asset.WarningType
	ExistingID  *uuid.UUID
	Location    *asset.Location
	Operator    string
}

// Committer builds the asset and interaction records for a finished workflow.
// It performs no I/O; callers persist both records together.
type Committer struct {
	Now   func() time.Time
	NewID func() uuid.UUID
}

func NewCommitter() *Committer {
	return &Committer{Now: time.Now, NewID: uuid.New}
}

func (c *Committer) Commit(records []asset.AssetRecord, req CommitRequest) (asset.AssetRecord, asset.InteractionRecord, error) {
	now := c.Now().UTC()
	warning := req.Warning
	if warning == "" {
		warning = asset.WarningNone
	}

	var (
		record asset.AssetRecord
		notes  string
	)
	if req.ExistingID == nil {
		record = c.newRecord(req, now)
		notes = notesInitial
	} else {
		existing, ok := findByID(records, *req.ExistingID)
		if !ok {
			return asset.AssetRecord{}, asset.InteractionRecord{}, fmt.Errorf("%w: %s", ErrAssetNotFound, *req.ExistingID)
		}
		record = merge(existing, req, now)
		notes = notesDuplicate
	}

	kind := asset.KindSighting
	if warning != asset.WarningNone {
		kind = asset.KindTrespass
		notes = fmt.Sprintf(notesTrespass, warning)
	}

	interaction := asset.InteractionRecord{
		ID:          c.NewID(),
		Kind:        kind,
		AssetID:     record.ID,
		Timestamp:   now,
		Notes:       notes,
		Operator:    req.Operator,
		WarningType: warning,
		Location:    copyLocation(req.Location),
	}
	return record, interaction, nil
}

func (c *Committer) newRecord(req CommitRequest, now time.Time) asset.AssetRecord {
	r := req.Recognition
	category := r.Category
	if category == "" {
		category = asset.CategoryUnknown
	}
	return asset.AssetRecord{
		ID:            c.NewID(),
		Plate:         orUnknown(r.Plate),
		VIN:           orUnknown(r.VIN),
		Category:      category,
		Year:          orUnknown(r.Year),
		Make:          orUnknown(r.Make),
		Model:         orUnknown(r.Model),
		Color:         orUnknown(r.Color),
		Photos:        capPhotos(append([]asset.Photo(nil), req.Photos...)),
		FirstSighting: now,
		LastSighting:  now,
		Location:      copyLocation(req.Location),
	}
}

func merge(existing asset.AssetRecord, req CommitRequest, now time.Time) asset.AssetRecord {
	photos := make([]asset.Photo, 0, len(req.Photos)+len(existing.Photos))
	photos = append(photos, req.Photos...)
	photos = append(photos, existing.Photos...)

	updated := existing
	updated.Photos = capPhotos(photos)
	updated.LastSighting = now
	if req.Location != nil {
		updated.Location = copyLocation(req.Location)
	}
	return updated
}

func findByID(records []asset.AssetRecord, id uuid.UUID) (asset.AssetRecord, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return asset.AssetRecord{}, false
}

func capPhotos(p []asset.Photo) []asset.Photo {
	if len(p) > asset.MaxPhotos {
		return p[:asset.MaxPhotos]
	}
	return p
}

func orUnknown(s string) string {
	if s == "" {
		return asset.Unknown
	}
	return s
}

func copyLocation(l *asset.Location) *asset.Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

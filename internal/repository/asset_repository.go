package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"asset-intake/internal/domain/asset"
)

type AssetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

type Asset struct {
	ID            uuid.UUID `gorm:"primaryKey"`
	Plate         string    `gorm:"not null"`
	VIN           string    `gorm:"column:vin;not null"`
	Category      string    `gorm:"not null"`
	Year          *string
	Make          *string
	Model         *string
	Color         *string
	Photos        datatypes.JSONSlice[asset.Photo]
	LocationLat   *float64
	LocationLng   *float64
	LocationLabel *string
	FirstSighting time.Time `gorm:"not null"`
	LastSighting  time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

func (Asset) TableName() string { return "assets" }

type Interaction struct {
	ID            uuid.UUID `gorm:"primaryKey"`
	Kind          string    `gorm:"not null"`
	AssetID       uuid.UUID `gorm:"not null"`
	OccurredAt    time.Time `gorm:"not null"`
	Notes         *string
	Operator      *string
	WarningType   string `gorm:"not null"`
	LocationLat   *float64
	LocationLng   *float64
	LocationLabel *string
	CreatedAt     time.Time
}

func (Interaction) TableName() string { return "interactions" }

// LoadAssets returns every asset in insertion order.
func (r *AssetRepository) LoadAssets(ctx context.Context) ([]asset.AssetRecord, error) {
	var rows []Asset
	err := r.db.WithContext(ctx).
		Order("first_sighting ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]asset.AssetRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// LoadInteractions returns the interaction log, newest first.
func (r *AssetRepository) LoadInteractions(ctx context.Context) ([]asset.InteractionRecord, error) {
	var rows []Interaction
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]asset.InteractionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// SaveCommit upserts the asset and appends the interaction in one
// transaction, so either both are stored or neither is.
func (r *AssetRepository) SaveCommit(ctx context.Context, record asset.AssetRecord, interaction asset.InteractionRecord) error {
	assetRow := assetFromDomain(record)
	interactionRow := interactionFromDomain(interaction)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&assetRow).Error
		if err != nil {
			return err
		}
		return tx.Create(&interactionRow).Error
	})
}

func (row Asset) toDomain() asset.AssetRecord {
	return asset.AssetRecord{
		ID:            row.ID,
		Plate:         row.Plate,
		VIN:           row.VIN,
		Category:      asset.Category(row.Category),
		Year:          deref(row.Year),
		Make:          deref(row.Make),
		Model:         deref(row.Model),
		Color:         deref(row.Color),
		Photos:        []asset.Photo(row.Photos),
		FirstSighting: row.FirstSighting.UTC(),
		LastSighting:  row.LastSighting.UTC(),
		Location:      toLocation(row.LocationLat, row.LocationLng, row.LocationLabel),
	}
}

func assetFromDomain(a asset.AssetRecord) Asset {
	row := Asset{
		ID:            a.ID,
		Plate:         a.Plate,
		VIN:           a.VIN,
		Category:      string(a.Category),
		Photos:        datatypes.JSONSlice[asset.Photo](a.Photos),
		FirstSighting: a.FirstSighting,
		LastSighting:  a.LastSighting,
		UpdatedAt:     time.Now().UTC(),
	}

	if a.Year != "" {
		row.Year = &a.Year
	}
	if a.Make != "" {
		row.Make = &a.Make
	}
	if a.Model != "" {
		row.Model = &a.Model
	}
	if a.Color != "" {
		row.Color = &a.Color
	}
	if a.Location != nil {
		row.LocationLat = &a.Location.Lat
		row.LocationLng = &a.Location.Lng
		if a.Location.Label != "" {
			row.LocationLabel = &a.Location.Label
		}
	}
	return row
}

func (row Interaction) toDomain() asset.InteractionRecord {
	return asset.InteractionRecord{
		ID:          row.ID,
		Kind:        asset.InteractionKind(row.Kind),
		AssetID:     row.AssetID,
		Timestamp:   row.OccurredAt.UTC(),
		Notes:       deref(row.Notes),
		Operator:    deref(row.Operator),
		WarningType: asset.WarningType(row.WarningType),
		Location:    toLocation(row.LocationLat, row.LocationLng, row.LocationLabel),
	}
}

func interactionFromDomain(i asset.InteractionRecord) Interaction {
	row := Interaction{
		ID:          i.ID,
		Kind:        string(i.Kind),
		AssetID:     i.AssetID,
		OccurredAt:  i.Timestamp,
		WarningType: string(i.WarningType),
		CreatedAt:   time.Now().UTC(),
	}

	if i.Notes != "" {
		row.Notes = &i.Notes
	}
	if i.Operator != "" {
		row.Operator = &i.Operator
	}
	if i.Location != nil {
		row.LocationLat = &i.Location.Lat
		row.LocationLng = &i.Location.Lng
		if i.Location.Label != "" {
			row.LocationLabel = &i.Location.Label
		}
	}
	return row
}

func toLocation(lat, lng *float64, label *string) *asset.Location {
	if lat == nil || lng == nil {
		return nil
	}
	return &asset.Location{Lat: *lat, Lng: *lng, Label: deref(label)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// columnTypes maps the placeholders used in migrationStatements per dialect.
var columnTypes = map[string]*strings.Replacer{
	"postgres": strings.NewReplacer("{uuid}", "UUID", "{json}", "JSONB", "{float}", "DOUBLE PRECISION"),
	"sqlite":   strings.NewReplacer("{uuid}", "TEXT", "{json}", "TEXT", "{float}", "REAL"),
}

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id              {uuid} PRIMARY KEY,
		plate           TEXT NOT NULL,
		vin             TEXT NOT NULL,
		category        TEXT NOT NULL DEFAULT 'unknown',
		year            TEXT,
		make            TEXT,
		model           TEXT,
		color           TEXT,
		photos          {json},
		location_lat    {float},
		location_lng    {float},
		location_label  TEXT,
		first_sighting  TIMESTAMP NOT NULL,
		last_sighting   TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_plate ON assets(plate);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_vin ON assets(vin);`,
	`CREATE INDEX IF NOT EXISTS idx_assets_first_sighting ON assets(first_sighting);`,
	`CREATE TABLE IF NOT EXISTS interactions (
		id              {uuid} PRIMARY KEY,
		kind            TEXT NOT NULL,
		asset_id        {uuid} NOT NULL REFERENCES assets(id),
		occurred_at     TIMESTAMP NOT NULL,
		notes           TEXT,
		operator        TEXT,
		warning_type    TEXT NOT NULL DEFAULT 'none',
		location_lat    {float},
		location_lng    {float},
		location_label  TEXT,
		created_at      TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_asset_id ON interactions(asset_id);`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_occurred_at ON interactions(occurred_at);`,
}

func runMigrations(db *gorm.DB, dialect string) error {
	types, ok := columnTypes[dialect]
	if !ok {
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}
	for i, stmt := range migrationStatements {
		if err := db.Exec(types.Replace(stmt)).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

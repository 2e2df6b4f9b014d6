package repository

import (
	"context"
	"sync"

	"asset-intake/internal/domain/asset"
)

// MemoryStore keeps records for the lifetime of the process. Used when
// db.driver is "memory".
type MemoryStore struct {
	mu           sync.RWMutex
	assets       []asset.AssetRecord
	interactions []asset.InteractionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadAssets(context.Context) ([]asset.AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]asset.AssetRecord(nil), m.assets...), nil
}

func (m *MemoryStore) LoadInteractions(context.Context) ([]asset.InteractionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]asset.InteractionRecord(nil), m.interactions...), nil
}

func (m *MemoryStore) SaveCommit(ctx context.Context, record asset.AssetRecord, interaction asset.InteractionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := false
	for i := range m.assets {
		if m.assets[i].ID == record.ID {
			m.assets[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		m.assets = append(m.assets, record)
	}

	m.interactions = append([]asset.InteractionRecord{interaction}, m.interactions...)
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Store provides access to aggregated demand history and forecast outputs.
// Replace operations have drop-then-insert semantics: the prior contents of
// the collection are discarded, never merged.
type Store interface {
	// FetchDemand returns demand records from a collection, filtered and
	// ordered by (category, specification, year, month).
	FetchDemand(ctx context.Context, collection string, f Filter) ([]DemandRecord, error)

	// ReplaceDemand replaces the full contents of a demand collection.
	// Returns the number of records written.
	ReplaceDemand(ctx context.Context, collection string, records []DemandRecord) (int, error)

	// FetchForecasts returns forecast records from a collection, filtered and
	// ordered by (category, specification, year, month).
	FetchForecasts(ctx context.Context, collection string, f Filter) ([]ForecastRecord, error)

	// ReplaceForecasts replaces the full contents of a forecast collection.
	// Returns the number of records written.
	ReplaceForecasts(ctx context.Context, collection string, records []ForecastRecord) (int, error)

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory store with optional file snapshot
type MemoryStore struct {
	mu        sync.RWMutex
	demand    map[string][]DemandRecord
	forecasts map[string][]ForecastRecord
	snapshot  string // optional file path for persistence
}

type memorySnapshot struct {
	Demand    map[string][]DemandRecord   `json:"demand"`
	Forecasts map[string][]ForecastRecord `json:"forecasts"`
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(snapshotPath string) *MemoryStore {
	ms := &MemoryStore{
		demand:    make(map[string][]DemandRecord),
		forecasts: make(map[string][]ForecastRecord),
		snapshot:  snapshotPath,
	}

	// Load from snapshot if exists
	if snapshotPath != "" {
		ms.loadSnapshot()
	}

	return ms
}

func (m *MemoryStore) FetchDemand(ctx context.Context, collection string, f Filter) ([]DemandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DemandRecord
	for _, r := range m.demand[collection] {
		if f.Match(r.Category, r.Year) {
			out = append(out, r)
		}
	}
	sortDemand(out)
	return out, nil
}

func (m *MemoryStore) ReplaceDemand(ctx context.Context, collection string, records []DemandRecord) (int, error) {
	m.mu.Lock()
	m.demand[collection] = append([]DemandRecord(nil), records...)
	m.mu.Unlock()

	if m.snapshot != "" {
		if err := m.saveSnapshot(); err != nil {
			return 0, fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return len(records), nil
}

func (m *MemoryStore) FetchForecasts(ctx context.Context, collection string, f Filter) ([]ForecastRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ForecastRecord
	for _, r := range m.forecasts[collection] {
		if f.Match(r.Category, r.Year) {
			out = append(out, r)
		}
	}
	sortForecasts(out)
	return out, nil
}

func (m *MemoryStore) ReplaceForecasts(ctx context.Context, collection string, records []ForecastRecord) (int, error) {
	m.mu.Lock()
	m.forecasts[collection] = append([]ForecastRecord(nil), records...)
	m.mu.Unlock()

	if m.snapshot != "" {
		if err := m.saveSnapshot(); err != nil {
			return 0, fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return len(records), nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return err
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range snap.Demand {
		m.demand[k] = v
	}
	for k, v := range snap.Forecasts {
		m.forecasts[k] = v
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	snap := memorySnapshot{
		Demand:    m.demand,
		Forecasts: m.forecasts,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	return os.WriteFile(m.snapshot, data, 0600)
}

func sortDemand(records []DemandRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Specification != b.Specification {
			return a.Specification < b.Specification
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
}

func sortForecasts(records []ForecastRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Specification != b.Specification {
			return a.Specification < b.Specification
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
}

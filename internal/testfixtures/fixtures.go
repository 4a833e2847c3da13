// Package testfixtures provides deterministic building blocks shared by the
// ledger and server tests: an in-memory durable copy and a canonical catalog.
package testfixtures

import (
	"context"
	"sync"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/example/parksys/internal/ledger"
)

var referenceTime = time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// It matches the gateway's minimum accepted UTC timestamp.
func ReferenceTime() time.Time {
	return referenceTime
}

// MemorySnapshotter is an in-memory durable copy for tests. It records every
// save and can be primed with a snapshot or a save failure.
type MemorySnapshotter struct {
	mu        sync.Mutex
	snapshot  ledger.Snapshot
	saveCount int

	// SaveErr, when set, is returned by every Save call.
	SaveErr error
}

// NewMemorySnapshotter returns an empty in-memory durable copy.
func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{}
}

// Prime replaces the stored snapshot, simulating pre-existing durable state.
func (m *MemorySnapshotter) Prime(snap ledger.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snap
}

// Save stores the snapshot and bumps the save counter.
func (m *MemorySnapshotter) Save(_ context.Context, snap ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snapshot = snap
	m.saveCount++
	return nil
}

// Load returns the last stored snapshot.
func (m *MemorySnapshotter) Load(context.Context) (ledger.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

// SaveCount reports how many snapshots have been written.
func (m *MemorySnapshotter) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// Catalog describes the canonical two-lot test catalog: an hourly lot with a
// daily cap and a flat-rate lot in a neighbouring city.
type Catalog struct {
	City      ledger.City
	HourlyLot ledger.Lot
	FixedLot  ledger.Lot
}

// SeedCatalog populates the store with the canonical catalog.
func SeedCatalog(ctx context.Context, store *ledger.Store) (Catalog, error) {
	var cat Catalog
	var err error

	if cat.City, err = store.AddCity(ctx, "Tel Aviv"); err != nil {
		return cat, err
	}

	cat.HourlyLot, err = store.AddLot(ctx, ledger.LotParams{
		Name:         "Central Garage",
		CityID:       cat.City.ID,
		Latitude:     32.0,
		Longitude:    35.0,
		Hourly:       true,
		Rate:         10,
		MaxDailyRate: null.FloatFrom(40),
	})
	if err != nil {
		return cat, err
	}

	cat.FixedLot, err = store.AddLot(ctx, ledger.LotParams{
		Name:         "Beach Lot",
		CityID:       cat.City.ID,
		Latitude:     31.0,
		Longitude:    34.0,
		Hourly:       false,
		Rate:         5,
	})
	return cat, err
}

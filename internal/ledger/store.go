package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/example/parksys/internal/logging"
)

// Snapshotter persists and recovers full ledger snapshots. The store treats
// it as the durable copy: Save overwrites the durable state wholesale, Load
// recovers it once at startup.
type Snapshotter interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Store owns the working copy of the parking ledger: cities, lots, and
// session logs. All reads and writes during normal operation hit the working
// copy; every successful mutation is followed by a full snapshot write to the
// durable copy before the call returns.
//
// A single mutex serializes mutations and catalog reads, so a mutate/price/
// persist sequence is atomic with respect to concurrent connections. Write
// volume is one event per parking action, so the coarse lock and the O(size)
// snapshot per write are an accepted trade-off.
type Store struct {
	mu       sync.Mutex
	durable  Snapshotter
	logger   *slog.Logger
	cities   map[int64]City
	lots     map[int64]Lot
	sessions map[int64]Session

	nextCityID    int64
	nextLotID     int64
	nextSessionID int64
}

// Open constructs a store backed by the given durable copy and recovers the
// prior working set from it. A recovery error other than a torn snapshot is
// fatal; a torn snapshot is logged and the readable portion is kept.
func Open(ctx context.Context, durable Snapshotter, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		durable:       durable,
		logger:        logger,
		cities:        make(map[int64]City),
		lots:          make(map[int64]Lot),
		sessions:      make(map[int64]Session),
		nextCityID:    1,
		nextLotID:     1,
		nextSessionID: 1,
	}

	snap, err := durable.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover durable copy: %w", err)
	}
	s.install(snap)

	logger.Info("ledger recovered",
		"cities", len(s.cities),
		"lots", len(s.lots),
		"sessions", len(s.sessions),
	)
	return s, nil
}

// install loads a snapshot into the working copy and advances the ID
// counters past the highest recovered IDs.
func (s *Store) install(snap Snapshot) {
	for _, c := range snap.Cities {
		s.cities[c.ID] = c
		if c.ID >= s.nextCityID {
			s.nextCityID = c.ID + 1
		}
	}
	for _, l := range snap.Lots {
		s.lots[l.ID] = l
		if l.ID >= s.nextLotID {
			s.nextLotID = l.ID + 1
		}
	}
	for _, sess := range snap.Sessions {
		s.sessions[sess.ID] = sess
		if sess.ID >= s.nextSessionID {
			s.nextSessionID = sess.ID + 1
		}
	}
}

// snapshotLocked builds a full copy of the working set ordered by ID.
// Callers must hold s.mu.
func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Cities:   make([]City, 0, len(s.cities)),
		Lots:     make([]Lot, 0, len(s.lots)),
		Sessions: make([]Session, 0, len(s.sessions)),
	}
	for _, c := range s.cities {
		snap.Cities = append(snap.Cities, c)
	}
	for _, l := range s.lots {
		snap.Lots = append(snap.Lots, l)
	}
	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, sess)
	}
	sort.Slice(snap.Cities, func(i, j int) bool { return snap.Cities[i].ID < snap.Cities[j].ID })
	sort.Slice(snap.Lots, func(i, j int) bool { return snap.Lots[i].ID < snap.Lots[j].ID })
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].ID < snap.Sessions[j].ID })
	return snap
}

// persistLocked writes the working copy to the durable copy. The working copy
// keeps the mutation even when the write fails: the durable copy then lags by
// at most this operation, which matches the crash-consistency contract.
// Callers must hold s.mu.
func (s *Store) persistLocked(ctx context.Context) error {
	if err := s.durable.Save(ctx, s.snapshotLocked()); err != nil {
		logging.Or(ctx, s.logger).Error("durable copy write failed", "error", err)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Snapshot returns a consistent full copy of the current working set.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// StartParking opens a new session for the customer at the given lot.
// Duplicate opens for the same customer are allowed; the close rule in
// EndParking picks the most recently opened one.
func (s *Store) StartParking(ctx context.Context, lotID int64, customerID uint32, start time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lots[lotID]; !ok {
		return Session{}, fmt.Errorf("start parking: lot %d: %w", lotID, ErrNotFound)
	}

	sess := Session{
		ID:         s.nextSessionID,
		LotID:      lotID,
		CustomerID: customerID,
		StartTime:  start.UTC(),
	}
	s.nextSessionID++
	s.sessions[sess.ID] = sess

	if err := s.persistLocked(ctx); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// EndParking closes the customer's most recently opened session: the open
// session with the highest ID, i.e. insert order, not StartTime, which may
// differ under device clock skew. It computes the charge from the session's
// lot pricing policy and returns the closed session.
func (s *Store) EndParking(ctx context.Context, customerID uint32, end time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open *Session
	for id := range s.sessions {
		sess := s.sessions[id]
		if sess.CustomerID != customerID || !sess.Open() {
			continue
		}
		if open == nil || sess.ID > open.ID {
			open = &sess
		}
	}
	if open == nil {
		return Session{}, fmt.Errorf("end parking: customer %d: %w", customerID, ErrNoOpenSession)
	}

	end = end.UTC()
	duration := end.Sub(open.StartTime)
	lot, ok := s.lots[open.LotID]
	if !ok {
		// Lot removed while the session was open. The session still
		// closes; with the pricing policy gone the charge is zero.
		logging.Or(ctx, s.logger).Warn("closing session for removed lot", "session", open.ID, "lot", open.LotID)
	}

	open.EndTime = null.TimeFrom(end)
	open.DurationSec = null.IntFrom(int64(duration / time.Second))
	if ok {
		open.TotalPrice = null.FloatFrom(CalculatePrice(duration, lot))
	} else {
		open.TotalPrice = null.FloatFrom(0)
	}
	s.sessions[open.ID] = *open

	if err := s.persistLocked(ctx); err != nil {
		return Session{}, err
	}
	return *open, nil
}

// AddCity registers a new city. City names are unique.
func (s *Store) AddCity(ctx context.Context, name string) (City, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cities {
		if c.Name == name {
			return City{}, fmt.Errorf("add city %q: %w", name, ErrDuplicateCity)
		}
	}

	city := City{ID: s.nextCityID, Name: name}
	s.nextCityID++
	s.cities[city.ID] = city

	if err := s.persistLocked(ctx); err != nil {
		return City{}, err
	}
	return city, nil
}

// RemoveCity deletes a city and all its lots. Session logs that reference
// the removed lots are retained for history.
func (s *Store) RemoveCity(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cities[id]; !ok {
		return fmt.Errorf("remove city %d: %w", id, ErrNotFound)
	}

	delete(s.cities, id)
	for lotID, lot := range s.lots {
		if lot.CityID == id {
			delete(s.lots, lotID)
		}
	}

	return s.persistLocked(ctx)
}

// LotParams carries the attributes of a new lot.
type LotParams struct {
	Name         string
	CityID       int64
	Latitude     float64
	Longitude    float64
	Hourly       bool
	Rate         float64
	MaxDailyRate null.Float
}

// AddLot registers a new lot under an existing city.
func (s *Store) AddLot(ctx context.Context, params LotParams) (Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cities[params.CityID]; !ok {
		return Lot{}, fmt.Errorf("add lot: city %d: %w", params.CityID, ErrNotFound)
	}

	lot := Lot{
		ID:           s.nextLotID,
		CityID:       params.CityID,
		Name:         params.Name,
		Latitude:     params.Latitude,
		Longitude:    params.Longitude,
		Hourly:       params.Hourly,
		Rate:         params.Rate,
		MaxDailyRate: params.MaxDailyRate,
	}
	s.nextLotID++
	s.lots[lot.ID] = lot

	if err := s.persistLocked(ctx); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// RemoveLot deletes a lot. Existing session logs keep referencing its ID.
func (s *Store) RemoveLot(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lots[id]; !ok {
		return fmt.Errorf("remove lot %d: %w", id, ErrNotFound)
	}
	delete(s.lots, id)

	return s.persistLocked(ctx)
}

// UpdateLotPrice sets a lot's rate and, for hourly lots, its daily cap. An
// invalid maxDaily clears any existing cap.
func (s *Store) UpdateLotPrice(ctx context.Context, id int64, rate float64, maxDaily null.Float) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lots[id]
	if !ok {
		return fmt.Errorf("update lot %d price: %w", id, ErrNotFound)
	}
	lot.Rate = rate
	lot.MaxDailyRate = maxDaily
	s.lots[id] = lot

	return s.persistLocked(ctx)
}

// SetLotType switches a lot between hourly and flat-rate billing.
func (s *Store) SetLotType(ctx context.Context, id int64, hourly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lots[id]
	if !ok {
		return fmt.Errorf("set lot %d type: %w", id, ErrNotFound)
	}
	lot.Hourly = hourly
	s.lots[id] = lot

	return s.persistLocked(ctx)
}

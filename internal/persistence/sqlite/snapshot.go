// Package sqlite implements the ledger's durable copy as a single SQLite
// file. The durable copy is overwritten wholesale with the working copy after
// every successful mutation, and read back exactly once at startup. A crash
// during the overwrite can leave a torn snapshot on disk; the layer records a
// content digest alongside each snapshot so a torn state is detected and
// reported at recovery instead of silently served.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/guregu/null.v4"

	"github.com/example/parksys/internal/ledger"
	_ "modernc.org/sqlite"
)

// ErrSnapshotTorn is returned by Load when the stored digest does not match
// the snapshot rows, which indicates a crash interrupted the last write. The
// returned snapshot still carries whatever rows were readable.
var ErrSnapshotTorn = fmt.Errorf("sqlite: durable snapshot digest mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS cities (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS lots (
	id             INTEGER PRIMARY KEY,
	city_id        INTEGER NOT NULL,
	name           TEXT NOT NULL,
	latitude       REAL NOT NULL,
	longitude      REAL NOT NULL,
	hourly         INTEGER NOT NULL,
	rate           REAL NOT NULL,
	max_daily_rate REAL
);

CREATE TABLE IF NOT EXISTS sessions (
	id           INTEGER PRIMARY KEY,
	lot_id       INTEGER NOT NULL,
	customer_id  INTEGER NOT NULL,
	start_time   TEXT NOT NULL,
	end_time     TEXT,
	duration_sec INTEGER,
	total_price  REAL
);

CREATE TABLE IF NOT EXISTS snapshot_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	digest     TEXT NOT NULL,
	written_at TEXT NOT NULL
);
`

// SnapshotStore persists full ledger snapshots to a SQLite database.
type SnapshotStore struct {
	db *sql.DB
}

// Open opens (or creates) the durable copy at the given DSN and ensures the
// schema exists.
func Open(dsn string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open durable copy: %w", err)
	}

	// The snapshot writer rewrites every table in one transaction; a second
	// writer would only contend for the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SnapshotStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save overwrites the durable copy with the given snapshot in one
// transaction, together with a digest of its canonical encoding.
func (s *SnapshotStore) Save(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot write: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"cities", "lots", "sessions", "snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, c := range snap.Cities {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cities (id, name) VALUES (?, ?)", c.ID, c.Name); err != nil {
			return fmt.Errorf("write city %d: %w", c.ID, err)
		}
	}

	for _, l := range snap.Lots {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lots (id, city_id, name, latitude, longitude, hourly, rate, max_daily_rate)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.CityID, l.Name, l.Latitude, l.Longitude, l.Hourly, l.Rate, nullFloatValue(l.MaxDailyRate),
		); err != nil {
			return fmt.Errorf("write lot %d: %w", l.ID, err)
		}
	}

	for _, sess := range snap.Sessions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, lot_id, customer_id, start_time, end_time, duration_sec, total_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.LotID, sess.CustomerID,
			sess.StartTime.UTC().Format(time.RFC3339),
			nullTimeValue(sess.EndTime),
			nullIntValue(sess.DurationSec),
			nullFloatValue(sess.TotalPrice),
		); err != nil {
			return fmt.Errorf("write session %d: %w", sess.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshot_meta (id, digest, written_at) VALUES (1, ?, ?)",
		digest(snap), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the full durable snapshot. When the stored digest does not
// match the rows (or is missing while rows exist), Load returns the readable
// rows together with ErrSnapshotTorn.
func (s *SnapshotStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	var snap ledger.Snapshot

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM cities ORDER BY id")
	if err != nil {
		return snap, fmt.Errorf("read cities: %w", err)
	}
	for rows.Next() {
		var c ledger.City
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan city: %w", err)
		}
		snap.Cities = append(snap.Cities, c)
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, city_id, name, latitude, longitude, hourly, rate, max_daily_rate
		FROM lots ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("read lots: %w", err)
	}
	for rows.Next() {
		var (
			l        ledger.Lot
			maxDaily sql.NullFloat64
		)
		if err := rows.Scan(&l.ID, &l.CityID, &l.Name, &l.Latitude, &l.Longitude, &l.Hourly, &l.Rate, &maxDaily); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan lot: %w", err)
		}
		l.MaxDailyRate = null.NewFloat(maxDaily.Float64, maxDaily.Valid)
		snap.Lots = append(snap.Lots, l)
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, lot_id, customer_id, start_time, end_time, duration_sec, total_price
		FROM sessions ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("read sessions: %w", err)
	}
	for rows.Next() {
		var (
			sess     ledger.Session
			start    string
			end      sql.NullString
			duration sql.NullInt64
			price    sql.NullFloat64
		)
		if err := rows.Scan(&sess.ID, &sess.LotID, &sess.CustomerID, &start, &end, &duration, &price); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan session: %w", err)
		}
		if sess.StartTime, err = time.Parse(time.RFC3339, start); err != nil {
			rows.Close()
			return snap, fmt.Errorf("parse session %d start_time: %w", sess.ID, err)
		}
		if end.Valid {
			endTime, err := time.Parse(time.RFC3339, end.String)
			if err != nil {
				rows.Close()
				return snap, fmt.Errorf("parse session %d end_time: %w", sess.ID, err)
			}
			sess.EndTime = null.TimeFrom(endTime)
		}
		sess.DurationSec = null.NewInt(duration.Int64, duration.Valid)
		sess.TotalPrice = null.NewFloat(price.Float64, price.Valid)
		snap.Sessions = append(snap.Sessions, sess)
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	var stored string
	err = s.db.QueryRowContext(ctx, "SELECT digest FROM snapshot_meta WHERE id = 1").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if len(snap.Cities)+len(snap.Lots)+len(snap.Sessions) > 0 {
			return snap, ErrSnapshotTorn
		}
		// Fresh database.
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("read snapshot meta: %w", err)
	}

	if stored != digest(snap) {
		return snap, ErrSnapshotTorn
	}
	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return rows.Close()
}

// digest computes a BLAKE2b-256 digest over a canonical, ID-ordered text
// encoding of the snapshot. Save and Load both order rows by ID, so equal
// snapshots always encode identically.
func digest(snap ledger.Snapshot) string {
	h, _ := blake2b.New256(nil)

	for _, c := range snap.Cities {
		fmt.Fprintf(h, "city|%d|%s\n", c.ID, c.Name)
	}
	for _, l := range snap.Lots {
		fmt.Fprintf(h, "lot|%d|%d|%s|%g|%g|%t|%g|%s\n",
			l.ID, l.CityID, l.Name, l.Latitude, l.Longitude, l.Hourly, l.Rate, encodeNullFloat(l.MaxDailyRate))
	}
	for _, s := range snap.Sessions {
		end := ""
		if s.EndTime.Valid {
			end = s.EndTime.Time.UTC().Format(time.RFC3339)
		}
		duration := ""
		if s.DurationSec.Valid {
			duration = fmt.Sprintf("%d", s.DurationSec.Int64)
		}
		fmt.Fprintf(h, "session|%d|%d|%d|%s|%s|%s|%s\n",
			s.ID, s.LotID, s.CustomerID, s.StartTime.UTC().Format(time.RFC3339),
			end, duration, encodeNullFloat(s.TotalPrice))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func encodeNullFloat(f null.Float) string {
	if !f.Valid {
		return ""
	}
	return fmt.Sprintf("%g", f.Float64)
}

func nullFloatValue(f null.Float) driver.Value {
	if !f.Valid {
		return nil
	}
	return f.Float64
}

func nullIntValue(i null.Int) driver.Value {
	if !i.Valid {
		return nil
	}
	return i.Int64
}

func nullTimeValue(t null.Time) driver.Value {
	if !t.Valid {
		return nil
	}
	return t.Time.UTC().Format(time.RFC3339)
}

package ledger

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// City groups parking lots under a single municipality. Names are unique
// across the catalog.
type City struct {
	ID   int64
	Name string
}

// Lot represents a physical parking location with a pricing policy.
type Lot struct {
	ID        int64
	CityID    int64
	Name      string
	Latitude  float64
	Longitude float64
	// Hourly selects tiered hourly billing; when false the lot charges a
	// flat rate per session.
	Hourly bool
	Rate   float64
	// MaxDailyRate caps an hourly lot's charge per session. An invalid
	// value means the lot is uncapped; it is never consulted for flat-rate
	// lots.
	MaxDailyRate null.Float
}

// Session is one open-to-close parking occupancy record for a customer at a
// lot. A session is open while EndTime is invalid; the matching STOP event
// closes it exactly once, filling EndTime, DurationSec, and TotalPrice.
type Session struct {
	ID          int64
	LotID       int64
	CustomerID  uint32
	StartTime   time.Time
	EndTime     null.Time
	DurationSec null.Int
	TotalPrice  null.Float
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool {
	return !s.EndTime.Valid
}

// Snapshot is a full copy of the ledger schema: the unit of transfer between
// the working copy and the durable copy.
type Snapshot struct {
	Cities   []City
	Lots     []Lot
	Sessions []Session
}

package ledger

import "errors"

var (
	// ErrNotFound is returned when a referenced city or lot does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrDuplicateCity is returned when a city name is already taken.
	ErrDuplicateCity = errors.New("ledger: city name already exists")

	// ErrNoOpenSession is returned by EndParking when the customer has no
	// open session to close.
	ErrNoOpenSession = errors.New("ledger: no open session for customer")
)

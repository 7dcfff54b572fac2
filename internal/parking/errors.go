package parking

import "errors"

var (
	ErrAlreadyParked    = errors.New("vehicle already parked")
	ErrNotParked        = errors.New("vehicle not parked")
	ErrNoAvailableSpot  = errors.New("no available spot")
	ErrSpotNotOccupied  = errors.New("spot is not occupied")
	ErrSpotOccupied     = errors.New("spot is occupied")
	ErrSpotNotFound     = errors.New("spot not found")
	ErrSpotUnavailable  = errors.New("spot is not free")
	ErrCategoryMismatch = errors.New("spot category does not match vehicle")

	// ErrInconsistentState marks a broken invariant between the registry and
	// the session table. It is never corrected automatically.
	ErrInconsistentState = errors.New("inconsistent parking state")
)

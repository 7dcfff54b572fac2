package parking

import (
	"fmt"
	"sync"

	"parking-manager/internal/vehicle"
)

type Status string

const (
	StatusFree        Status = "FREE"
	StatusOccupied    Status = "OCCUPIED"
	StatusMaintenance Status = "MAINTENANCE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusFree, StatusOccupied, StatusMaintenance:
		return true
	}
	return false
}

// Occupant ties an occupied spot to the session holding it.
type Occupant struct {
	SessionID string `json:"session_id"`
	Plate     string `json:"plate"`
}

// Spot is a point-in-time copy of a spot's state.
type Spot struct {
	ID       string           `json:"id"`
	Number   int              `json:"number"`
	Category vehicle.Category `json:"category"`
	Status   Status           `json:"status"`
	Occupant *Occupant        `json:"occupant,omitempty"`
}

// spot is the registry's live record. Every status transition happens inside
// mu, so check-and-set is a single step.
type spot struct {
	mu       sync.Mutex
	id       string
	number   int
	category vehicle.Category
	status   Status
	occupant Occupant
}

func newSpot(id string, number int, category vehicle.Category) *spot {
	return &spot{
		id:       id,
		number:   number,
		category: category,
		status:   StatusFree,
	}
}

// occupy flips FREE to OCCUPIED. It reports false if the spot was not free.
func (s *spot) occupy(o Occupant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusFree {
		return false
	}
	s.status = StatusOccupied
	s.occupant = o
	return true
}

// vacate flips OCCUPIED to FREE. A non-empty sessionID must match the current
// occupant.
func (s *spot) vacate(sessionID string) (Occupant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusOccupied {
		return Occupant{}, fmt.Errorf("%w: spot %s is %s", ErrSpotNotOccupied, s.id, s.status)
	}
	if sessionID != "" && s.occupant.SessionID != sessionID {
		return Occupant{}, fmt.Errorf("%w: spot %s is held by session %s, not %s",
			ErrSpotNotOccupied, s.id, s.occupant.SessionID, sessionID)
	}

	o := s.occupant
	s.status = StatusFree
	s.occupant = Occupant{}
	return o, nil
}

func (s *spot) setMaintenance(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case on && s.status == StatusOccupied:
		return fmt.Errorf("%w: spot %s is held by %s", ErrSpotOccupied, s.id, s.occupant.Plate)
	case on:
		s.status = StatusMaintenance
	case s.status == StatusMaintenance:
		s.status = StatusFree
	}
	return nil
}

func (s *spot) snapshot() Spot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Spot{
		ID:       s.id,
		Number:   s.number,
		Category: s.category,
		Status:   s.status,
	}
	if s.status == StatusOccupied {
		o := s.occupant
		out.Occupant = &o
	}
	return out
}

package parking

import (
	"fmt"
	"slices"
	"sort"

	"parking-manager/internal/vehicle"
)

// SpotSpec describes one spot to seed the registry with.
type SpotSpec struct {
	ID       string
	Number   int
	Category vehicle.Category
	Status   Status
}

// SpotFilter narrows List. Zero fields match everything.
type SpotFilter struct {
	Category vehicle.Category
	Status   Status
}

func (f SpotFilter) match(s Spot) bool {
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

type CategoryStats struct {
	Total       int `json:"total"`
	Free        int `json:"free"`
	Occupied    int `json:"occupied"`
	Maintenance int `json:"maintenance"`
}

type Stats struct {
	CategoryStats
	ByCategory map[vehicle.Category]CategoryStats `json:"by_category"`
}

// Registry is the fixed spot inventory. The set of spots never changes after
// NewRegistry; only their status does.
type Registry struct {
	spots []*spot
	byID  map[string]*spot
}

func NewRegistry(specs []SpotSpec) (*Registry, error) {
	r := &Registry{
		spots: make([]*spot, 0, len(specs)),
		byID:  make(map[string]*spot, len(specs)),
	}

	numbers := make(map[int]string, len(specs))
	for _, sp := range specs {
		if sp.ID == "" {
			return nil, fmt.Errorf("spot number %d has no id", sp.Number)
		}
		if !sp.Category.Valid() {
			return nil, fmt.Errorf("spot %s: %w: %q", sp.ID, vehicle.ErrUnknownCategory, sp.Category)
		}
		if _, dup := r.byID[sp.ID]; dup {
			return nil, fmt.Errorf("duplicate spot id %s", sp.ID)
		}
		if other, dup := numbers[sp.Number]; dup {
			return nil, fmt.Errorf("spots %s and %s share number %d", other, sp.ID, sp.Number)
		}
		numbers[sp.Number] = sp.ID

		s := newSpot(sp.ID, sp.Number, sp.Category)
		// Occupied spots are only ever produced by Restore.
		if sp.Status == StatusMaintenance {
			s.status = StatusMaintenance
		}
		r.spots = append(r.spots, s)
		r.byID[sp.ID] = s
	}

	sort.Slice(r.spots, func(i, j int) bool {
		return r.spots[i].number < r.spots[j].number
	})

	return r, nil
}

func (r *Registry) Capacity() int {
	return len(r.spots)
}

// Claim occupies the free spot with the lowest number in the given category.
// With anyCategory set, spots of other categories are taken only once the
// requested category has nothing free.
func (r *Registry) Claim(category vehicle.Category, anyCategory bool, o Occupant) (Spot, error) {
	for _, s := range r.spots {
		if s.category == category && s.occupy(o) {
			return s.snapshot(), nil
		}
	}
	if anyCategory {
		for _, s := range r.spots {
			if s.category != category && s.occupy(o) {
				return s.snapshot(), nil
			}
		}
	}
	return Spot{}, fmt.Errorf("%w: category %s", ErrNoAvailableSpot, category)
}

// ClaimSpot occupies one named spot.
func (r *Registry) ClaimSpot(id string, category vehicle.Category, o Occupant) (Spot, error) {
	s, ok := r.byID[id]
	if !ok {
		return Spot{}, fmt.Errorf("%w: %s", ErrSpotNotFound, id)
	}
	if s.category != category {
		return Spot{}, fmt.Errorf("%w: spot %s is %s, vehicle is %s", ErrCategoryMismatch, id, s.category, category)
	}
	if !s.occupy(o) {
		return Spot{}, fmt.Errorf("%w: %s", ErrSpotUnavailable, id)
	}
	return s.snapshot(), nil
}

// occupy takes a named spot for a session being restored. The category check
// is skipped because the session may have been admitted with a fallback.
func (r *Registry) occupy(id string, o Occupant) (Spot, error) {
	s, ok := r.byID[id]
	if !ok {
		return Spot{}, fmt.Errorf("%w: %s", ErrSpotNotFound, id)
	}
	if !s.occupy(o) {
		return Spot{}, fmt.Errorf("%w: %s", ErrSpotUnavailable, id)
	}
	return s.snapshot(), nil
}

// Release frees an occupied spot regardless of who holds it.
func (r *Registry) Release(id string) error {
	_, err := r.release(id, "")
	return err
}

func (r *Registry) release(id, sessionID string) (Occupant, error) {
	s, ok := r.byID[id]
	if !ok {
		return Occupant{}, fmt.Errorf("%w: %s", ErrSpotNotFound, id)
	}
	return s.vacate(sessionID)
}

func (r *Registry) SetMaintenance(id string, on bool) (Spot, error) {
	s, ok := r.byID[id]
	if !ok {
		return Spot{}, fmt.Errorf("%w: %s", ErrSpotNotFound, id)
	}
	if err := s.setMaintenance(on); err != nil {
		return Spot{}, err
	}
	return s.snapshot(), nil
}

func (r *Registry) Get(id string) (Spot, error) {
	s, ok := r.byID[id]
	if !ok {
		return Spot{}, fmt.Errorf("%w: %s", ErrSpotNotFound, id)
	}
	return s.snapshot(), nil
}

// List returns snapshots ordered by spot number. Each snapshot is taken under
// that spot's lock, so the slice as a whole is not an atomic picture.
func (r *Registry) List(filter SpotFilter) []Spot {
	out := make([]Spot, 0, len(r.spots))
	for _, s := range r.spots {
		snap := s.snapshot()
		if filter.match(snap) {
			out = append(out, snap)
		}
	}
	return out
}

func (r *Registry) Stats() Stats {
	st := Stats{ByCategory: make(map[vehicle.Category]CategoryStats)}
	for _, snap := range r.List(SpotFilter{}) {
		cs := st.ByCategory[snap.Category]
		count(&st.CategoryStats, snap.Status)
		count(&cs, snap.Status)
		st.ByCategory[snap.Category] = cs
	}
	return st
}

func count(cs *CategoryStats, status Status) {
	cs.Total++
	switch status {
	case StatusFree:
		cs.Free++
	case StatusOccupied:
		cs.Occupied++
	case StatusMaintenance:
		cs.Maintenance++
	}
}

// Categories reports which categories have at least one spot.
func (r *Registry) Categories() []vehicle.Category {
	var out []vehicle.Category
	for _, s := range r.spots {
		if !slices.Contains(out, s.category) {
			out = append(out, s.category)
		}
	}
	return out
}

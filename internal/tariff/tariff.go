// Package tariff holds the per-category billing parameters used at exit time.
package tariff

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"parking-manager/internal/vehicle"
)

var (
	ErrTariffNotConfigured = errors.New("tariff not configured")
	ErrInvalidTariffValue  = errors.New("invalid tariff value")
)

type Tariff struct {
	Category         vehicle.Category `json:"category"`
	FirstHour        decimal.Decimal  `json:"first_hour"`
	AdditionalHour   decimal.Decimal  `json:"additional_hour"`
	ToleranceMinutes int              `json:"tolerance_minutes"`
}

func (t Tariff) Validate() error {
	if !t.Category.Valid() {
		return fmt.Errorf("%w: %q", vehicle.ErrUnknownCategory, t.Category)
	}
	if !t.FirstHour.IsPositive() {
		return fmt.Errorf("%w: first hour rate must be > 0, got %s", ErrInvalidTariffValue, t.FirstHour)
	}
	if !t.AdditionalHour.IsPositive() {
		return fmt.Errorf("%w: additional hour rate must be > 0, got %s", ErrInvalidTariffValue, t.AdditionalHour)
	}
	if t.ToleranceMinutes < 0 {
		return fmt.Errorf("%w: tolerance must be >= 0, got %d", ErrInvalidTariffValue, t.ToleranceMinutes)
	}
	return nil
}

// Patch carries the fields of an update. Nil fields keep their prior value.
type Patch struct {
	FirstHour        *decimal.Decimal `json:"first_hour,omitempty"`
	AdditionalHour   *decimal.Decimal `json:"additional_hour,omitempty"`
	ToleranceMinutes *int             `json:"tolerance_minutes,omitempty"`
}

func (p Patch) complete() bool {
	return p.FirstHour != nil && p.AdditionalHour != nil && p.ToleranceMinutes != nil
}

func (p Patch) apply(t Tariff) Tariff {
	if p.FirstHour != nil {
		t.FirstHour = *p.FirstHour
	}
	if p.AdditionalHour != nil {
		t.AdditionalHour = *p.AdditionalHour
	}
	if p.ToleranceMinutes != nil {
		t.ToleranceMinutes = *p.ToleranceMinutes
	}
	return t
}

// Table maps each category to its single active tariff. Lookups return copies,
// so a reader racing an Update sees either the old or the new tariff whole.
type Table struct {
	mu      sync.RWMutex
	tariffs map[vehicle.Category]Tariff
}

func NewTable(tariffs ...Tariff) (*Table, error) {
	t := &Table{tariffs: make(map[vehicle.Category]Tariff, len(tariffs))}
	for _, tr := range tariffs {
		if err := t.Set(tr); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) Lookup(category vehicle.Category) (Tariff, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.tariffs[category]
	if !ok {
		return Tariff{}, fmt.Errorf("%w: %s", ErrTariffNotConfigured, category)
	}
	return tr, nil
}

// Set installs or replaces the whole tariff for its category.
func (t *Table) Set(tr Tariff) error {
	if err := tr.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	t.tariffs[tr.Category] = tr
	t.mu.Unlock()
	return nil
}

// Update merges the supplied fields into the category's tariff and returns the
// result. A category without a tariff only accepts a complete patch.
func (t *Table) Update(category vehicle.Category, patch Patch) (Tariff, error) {
	if patch.FirstHour != nil && !patch.FirstHour.IsPositive() {
		return Tariff{}, fmt.Errorf("%w: first hour rate must be > 0, got %s", ErrInvalidTariffValue, patch.FirstHour)
	}
	if patch.AdditionalHour != nil && !patch.AdditionalHour.IsPositive() {
		return Tariff{}, fmt.Errorf("%w: additional hour rate must be > 0, got %s", ErrInvalidTariffValue, patch.AdditionalHour)
	}
	if patch.ToleranceMinutes != nil && *patch.ToleranceMinutes < 0 {
		return Tariff{}, fmt.Errorf("%w: tolerance must be >= 0, got %d", ErrInvalidTariffValue, *patch.ToleranceMinutes)
	}
	if !category.Valid() {
		return Tariff{}, fmt.Errorf("%w: %q", vehicle.ErrUnknownCategory, category)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.tariffs[category]
	if !ok {
		if !patch.complete() {
			return Tariff{}, fmt.Errorf("%w: %s (partial update needs an existing tariff)", ErrTariffNotConfigured, category)
		}
		current = Tariff{Category: category}
	}

	next := patch.apply(current)
	t.tariffs[category] = next
	return next, nil
}

// List returns every configured tariff ordered by category.
func (t *Table) List() []Tariff {
	t.mu.RLock()
	out := make([]Tariff, 0, len(t.tariffs))
	for _, tr := range t.tariffs {
		out = append(out, tr)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Tariff) int {
		return strings.Compare(string(a.Category), string(b.Category))
	})
	return out
}

// ParseList reads tariffs in the form
// "CAR=10.00/5.00/15,MOTORCYCLE=5.00/2.50/15" (first/additional/tolerance).
func ParseList(s string) ([]Tariff, error) {
	var out []Tariff
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, values, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("tariff %q: expected CATEGORY=first/additional/tolerance", item)
		}
		category, err := vehicle.ParseCategory(name)
		if err != nil {
			return nil, err
		}

		parts := strings.Split(values, "/")
		if len(parts) != 3 {
			return nil, fmt.Errorf("tariff %q: expected three values", item)
		}
		first, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("tariff %q: first hour: %w", item, err)
		}
		additional, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("tariff %q: additional hour: %w", item, err)
		}
		tolerance, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("tariff %q: tolerance: %w", item, err)
		}

		tr := Tariff{
			Category:         category,
			FirstHour:        first,
			AdditionalHour:   additional,
			ToleranceMinutes: tolerance,
		}
		if err := tr.Validate(); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

package vehicle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCategory = errors.New("unknown vehicle category")
	ErrInvalidPlate    = errors.New("invalid plate")
)

// Category is the closed set of vehicle classes. Spots and tariffs are keyed by it.
type Category string

const (
	Car        Category = "CAR"
	Motorcycle Category = "MOTORCYCLE"
	Accessible Category = "ACCESSIBLE"
)

// Categories lists every known category in display order.
func Categories() []Category {
	return []Category{Car, Motorcycle, Accessible}
}

func (c Category) Valid() bool {
	switch c {
	case Car, Motorcycle, Accessible:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory accepts any casing and surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

type Vehicle struct {
	Plate    string
	Category Category
}

func NewVehicle(plate string, category Category) (*Vehicle, error) {
	p, err := NormalizePlate(plate)
	if err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return &Vehicle{
		Plate:    p,
		Category: category,
	}, nil
}

// NormalizePlate upper-cases the plate and strips spaces and dashes so that
// "abc-1d23" and "ABC1D23" address the same vehicle.
func NormalizePlate(plate string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(plate) {
		switch {
		case r == ' ' || r == '-':
			continue
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPlate, plate)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidPlate)
	}
	return b.String(), nil
}

// Package fee turns a dwell interval and a tariff into a billed amount.
//
// Calculate is a pure function: it reads nothing but its arguments and may be
// called from any number of goroutines.
package fee

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"parking-manager/internal/tariff"
)

var ErrInvalidInterval = errors.New("exit precedes entry")

// Elapsed is the hours/minutes breakdown shown to the driver. It is never fed
// back into the amount.
type Elapsed struct {
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
}

func (e Elapsed) String() string {
	return fmt.Sprintf("%dh %dmin", e.Hours, e.Minutes)
}

type Quote struct {
	Amount         decimal.Decimal `json:"amount"`
	ElapsedMinutes int64           `json:"elapsed_minutes"`
	Elapsed        Elapsed         `json:"elapsed"`
	Graced         bool            `json:"graced"`
}

// Calculate bills the interval [entry, exit] against t.
//
// Elapsed time is truncated to whole minutes. Up to and including the
// tolerance nothing is charged. Past it the first hour is charged flat and
// every started hour after the first sixty minutes is charged in full.
func Calculate(entry, exit time.Time, t tariff.Tariff) (Quote, error) {
	if exit.Before(entry) {
		return Quote{}, fmt.Errorf("%w: entry %s, exit %s", ErrInvalidInterval,
			entry.Format(time.RFC3339), exit.Format(time.RFC3339))
	}

	minutes := int64(exit.Sub(entry) / time.Minute)
	q := Quote{
		ElapsedMinutes: minutes,
		Elapsed:        Elapsed{Hours: minutes / 60, Minutes: minutes % 60},
	}

	if minutes <= int64(t.ToleranceMinutes) {
		q.Amount = decimal.Zero
		q.Graced = true
		return q, nil
	}

	q.Amount = t.FirstHour.Add(t.AdditionalHour.Mul(decimal.NewFromInt(AdditionalHours(minutes))))
	return q, nil
}

// AdditionalHours is the number of started hours beyond the first sixty
// minutes, rounded up.
func AdditionalHours(minutes int64) int64 {
	extra := max(0, minutes-60)
	return (extra + 59) / 60
}

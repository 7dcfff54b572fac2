package parking

import (
	"time"

	"github.com/shopspring/decimal"

	"parking-manager/internal/fee"
	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

// Session is one stay of one vehicle in one spot. ExitTime, Amount and
// Elapsed stay nil while the session is open and are set exactly once.
type Session struct {
	ID         string           `json:"id"`
	SpotID     string           `json:"spot_id"`
	SpotNumber int              `json:"spot_number"`
	Plate      string           `json:"plate"`
	Category   vehicle.Category `json:"category"`
	EntryTime  time.Time        `json:"entry_time"`
	ExitTime   *time.Time       `json:"exit_time,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Elapsed    *fee.Elapsed     `json:"elapsed,omitempty"`
}

func (s Session) Open() bool {
	return s.ExitTime == nil
}

// close returns the session with its exit fields filled in from q.
func (s Session) close(exit time.Time, q fee.Quote) Session {
	amount := q.Amount
	elapsed := q.Elapsed
	s.ExitTime = &exit
	s.Amount = &amount
	s.Elapsed = &elapsed
	return s
}

// Receipt is what a successful exit hands back.
type Receipt struct {
	Session Session       `json:"session"`
	Quote   fee.Quote     `json:"quote"`
	Tariff  tariff.Tariff `json:"tariff"`
}

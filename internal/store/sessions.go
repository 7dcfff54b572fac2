package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"parking-manager/internal/fee"
	"parking-manager/internal/parking"
	"parking-manager/internal/vehicle"
)

type sessionRow struct {
	ID             string      `db:"id"`
	SpotID         string      `db:"spot_id"`
	SpotNumber     int         `db:"spot_number"`
	Plate          string      `db:"plate"`
	Category       string      `db:"category"`
	EntryTime      string      `db:"entry_time"`
	ExitTime       null.String `db:"exit_time"`
	Amount         null.String `db:"amount"`
	ElapsedMinutes null.Int    `db:"elapsed_minutes"`
}

const sessionColumns = `id, spot_id, spot_number, plate, category, entry_time, exit_time, amount, elapsed_minutes`

func toRow(s parking.Session) sessionRow {
	r := sessionRow{
		ID:         s.ID,
		SpotID:     s.SpotID,
		SpotNumber: s.SpotNumber,
		Plate:      s.Plate,
		Category:   s.Category.String(),
		EntryTime:  s.EntryTime.UTC().Format(time.RFC3339Nano),
	}
	if s.ExitTime != nil {
		r.ExitTime = null.StringFrom(s.ExitTime.UTC().Format(time.RFC3339Nano))
	}
	if s.Amount != nil {
		r.Amount = null.StringFrom(s.Amount.String())
	}
	if s.Elapsed != nil {
		r.ElapsedMinutes = null.IntFrom(s.Elapsed.Hours*60 + s.Elapsed.Minutes)
	}
	return r
}

func (r sessionRow) toSession() (parking.Session, error) {
	category, err := vehicle.ParseCategory(r.Category)
	if err != nil {
		return parking.Session{}, err
	}
	entry, err := time.Parse(time.RFC3339Nano, r.EntryTime)
	if err != nil {
		return parking.Session{}, fmt.Errorf("entry time: %w", err)
	}

	s := parking.Session{
		ID:         r.ID,
		SpotID:     r.SpotID,
		SpotNumber: r.SpotNumber,
		Plate:      r.Plate,
		Category:   category,
		EntryTime:  entry,
	}
	if r.ExitTime.Valid {
		exit, err := time.Parse(time.RFC3339Nano, r.ExitTime.String)
		if err != nil {
			return parking.Session{}, fmt.Errorf("exit time: %w", err)
		}
		s.ExitTime = &exit
	}
	if r.Amount.Valid {
		amount, err := decimal.NewFromString(r.Amount.String)
		if err != nil {
			return parking.Session{}, fmt.Errorf("amount: %w", err)
		}
		s.Amount = &amount
	}
	if r.ElapsedMinutes.Valid {
		m := r.ElapsedMinutes.Int64
		s.Elapsed = &fee.Elapsed{Hours: m / 60, Minutes: m % 60}
	}
	return s, nil
}

// SaveSession inserts a session or, when it is still open in the archive,
// records its exit. A closed row is never rewritten, so a late write of the
// open session cannot reopen it.
func (s *Store) SaveSession(ctx context.Context, sess parking.Session) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (:id, :spot_id, :spot_number, :plate, :category, :entry_time, :exit_time, :amount, :elapsed_minutes)
		 ON CONFLICT(id) DO UPDATE SET
			exit_time = excluded.exit_time,
			amount = excluded.amount,
			elapsed_minutes = excluded.elapsed_minutes
		 WHERE sessions.exit_time IS NULL`,
		toRow(sess),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSessions returns every archived session, oldest entry first.
func (s *Store) LoadSessions(ctx context.Context) ([]parking.Session, error) {
	return s.loadSessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY entry_time`)
}

func (s *Store) LoadOpenSessions(ctx context.Context) ([]parking.Session, error) {
	return s.loadSessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE exit_time IS NULL ORDER BY entry_time`)
}

func (s *Store) loadSessions(ctx context.Context, query string) ([]parking.Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]parking.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toSession()
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", r.ID, err)
		}
		out = append(out, sess)
	}
	return out, nil
}

package store

import (
	"context"
	"fmt"

	"parking-manager/internal/parking"
	"parking-manager/internal/vehicle"
)

type spotRow struct {
	ID       string `db:"id"`
	Number   int    `db:"number"`
	Category string `db:"category"`
	Status   string `db:"status"`
}

// LoadSpots returns the persisted inventory ordered by number. An occupied
// status is reported as free: occupancy is rebuilt from open sessions.
func (s *Store) LoadSpots(ctx context.Context) ([]parking.SpotSpec, error) {
	var rows []spotRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, number, category, status FROM spots ORDER BY number`); err != nil {
		return nil, fmt.Errorf("load spots: %w", err)
	}

	specs := make([]parking.SpotSpec, 0, len(rows))
	for _, r := range rows {
		category, err := vehicle.ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("load spot %s: %w", r.ID, err)
		}
		status := parking.Status(r.Status)
		if status != parking.StatusMaintenance {
			status = parking.StatusFree
		}
		specs = append(specs, parking.SpotSpec{
			ID:       r.ID,
			Number:   r.Number,
			Category: category,
			Status:   status,
		})
	}
	return specs, nil
}

// SeedSpots inserts spots that are not stored yet. Existing rows are left
// untouched.
func (s *Store) SeedSpots(ctx context.Context, specs []parking.SpotSpec) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed spots: %w", err)
	}
	defer tx.Rollback()

	for _, sp := range specs {
		status := sp.Status
		if status == "" {
			status = parking.StatusFree
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT OR IGNORE INTO spots (id, number, category, status)
			 VALUES (:id, :number, :category, :status)`,
			spotRow{ID: sp.ID, Number: sp.Number, Category: sp.Category.String(), Status: string(status)},
		); err != nil {
			return fmt.Errorf("seed spot %s: %w", sp.ID, err)
		}
	}
	return tx.Commit()
}

// SaveSpot records a spot's current status.
func (s *Store) SaveSpot(ctx context.Context, sp parking.Spot) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO spots (id, number, category, status)
		 VALUES (:id, :number, :category, :status)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		spotRow{ID: sp.ID, Number: sp.Number, Category: sp.Category.String(), Status: string(sp.Status)},
	)
	if err != nil {
		return fmt.Errorf("save spot %s: %w", sp.ID, err)
	}
	return nil
}

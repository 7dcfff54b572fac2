package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

type tariffRow struct {
	Category         string `db:"category"`
	FirstHour        string `db:"first_hour"`
	AdditionalHour   string `db:"additional_hour"`
	ToleranceMinutes int    `db:"tolerance_minutes"`
	UpdatedAt        string `db:"updated_at"`
}

func (s *Store) LoadTariffs(ctx context.Context) ([]tariff.Tariff, error) {
	var rows []tariffRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT category, first_hour, additional_hour, tolerance_minutes FROM tariffs ORDER BY category`); err != nil {
		return nil, fmt.Errorf("load tariffs: %w", err)
	}

	out := make([]tariff.Tariff, 0, len(rows))
	for _, r := range rows {
		category, err := vehicle.ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("load tariff: %w", err)
		}
		first, err := decimal.NewFromString(r.FirstHour)
		if err != nil {
			return nil, fmt.Errorf("load tariff %s: first hour: %w", category, err)
		}
		additional, err := decimal.NewFromString(r.AdditionalHour)
		if err != nil {
			return nil, fmt.Errorf("load tariff %s: additional hour: %w", category, err)
		}
		out = append(out, tariff.Tariff{
			Category:         category,
			FirstHour:        first,
			AdditionalHour:   additional,
			ToleranceMinutes: r.ToleranceMinutes,
		})
	}
	return out, nil
}

func (s *Store) SaveTariff(ctx context.Context, t tariff.Tariff) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO tariffs (category, first_hour, additional_hour, tolerance_minutes, updated_at)
		 VALUES (:category, :first_hour, :additional_hour, :tolerance_minutes, :updated_at)
		 ON CONFLICT(category) DO UPDATE SET
			first_hour = excluded.first_hour,
			additional_hour = excluded.additional_hour,
			tolerance_minutes = excluded.tolerance_minutes,
			updated_at = excluded.updated_at`,
		tariffRow{
			Category:         t.Category.String(),
			FirstHour:        t.FirstHour.String(),
			AdditionalHour:   t.AdditionalHour.String(),
			ToleranceMinutes: t.ToleranceMinutes,
			UpdatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
		},
	)
	if err != nil {
		return fmt.Errorf("save tariff %s: %w", t.Category, err)
	}
	return nil
}

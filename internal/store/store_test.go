package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-manager/internal/fee"
	"parking-manager/internal/parking"
	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := Open(ctx, filepath.Join(t.TempDir(), "nested", "parking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedLayout(t *testing.T, s *Store, layout string) []parking.SpotSpec {
	t.Helper()
	specs, err := parking.ParseLayout(layout)
	require.NoError(t, err)
	require.NoError(t, s.SeedSpots(context.Background(), specs))
	return specs
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSpotsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	specs := seedLayout(t, s, "CAR:2,MOTORCYCLE:1")
	// A second seed must not clobber stored state.
	require.NoError(t, s.SaveSpot(ctx, parking.Spot{ID: "S002", Number: 2, Category: vehicle.Car, Status: parking.StatusMaintenance}))
	require.NoError(t, s.SeedSpots(ctx, specs))
	require.NoError(t, s.SaveSpot(ctx, parking.Spot{ID: "S001", Number: 1, Category: vehicle.Car, Status: parking.StatusOccupied}))

	loaded, err := s.LoadSpots(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, parking.StatusFree, loaded[0].Status, "occupancy is rebuilt from sessions")
	assert.Equal(t, parking.StatusMaintenance, loaded[1].Status)
	assert.Equal(t, vehicle.Motorcycle, loaded[2].Category)
}

func TestTariffsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := tariff.Tariff{
		Category:         vehicle.Car,
		FirstHour:        decimal.RequireFromString("10.00"),
		AdditionalHour:   decimal.RequireFromString("5.00"),
		ToleranceMinutes: 15,
	}
	require.NoError(t, s.SaveTariff(ctx, tr))

	tr.AdditionalHour = decimal.RequireFromString("7.25")
	require.NoError(t, s.SaveTariff(ctx, tr))

	loaded, err := s.LoadTariffs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].FirstHour.Equal(tr.FirstHour))
	assert.True(t, loaded[0].AdditionalHour.Equal(decimal.RequireFromString("7.25")))
	assert.Equal(t, 15, loaded[0].ToleranceMinutes)
}

func TestSessionUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedLayout(t, s, "CAR:1")

	entry := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	sess := parking.Session{
		ID:         "sess-1",
		SpotID:     "S001",
		SpotNumber: 1,
		Plate:      "ABC1234",
		Category:   vehicle.Car,
		EntryTime:  entry,
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	open, err := s.LoadOpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].EntryTime.Equal(entry))
	assert.True(t, open[0].Open())

	exit := entry.Add(90 * time.Minute)
	amount := decimal.RequireFromString("15.00")
	sess.ExitTime = &exit
	sess.Amount = &amount
	sess.Elapsed = &fee.Elapsed{Hours: 1, Minutes: 30}
	require.NoError(t, s.SaveSession(ctx, sess))

	open, err = s.LoadOpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].ExitTime.Equal(exit))
	assert.True(t, all[0].Amount.Equal(amount))
	assert.Equal(t, int64(30), all[0].Elapsed.Minutes)
}

func TestClosedSessionIsNotReopened(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedLayout(t, s, "CAR:1")

	entry := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	exit := entry.Add(30 * time.Minute)
	amount := decimal.RequireFromString("10.00")
	open := parking.Session{
		ID:         "sess-1",
		SpotID:     "S001",
		SpotNumber: 1,
		Plate:      "ABC1234",
		Category:   vehicle.Car,
		EntryTime:  entry,
	}
	closed := open
	closed.ExitTime = &exit
	closed.Amount = &amount
	closed.Elapsed = &fee.Elapsed{Minutes: 30}

	// The exit lands first; the entry write arrives late.
	require.NoError(t, s.SaveSession(ctx, closed))
	require.NoError(t, s.SaveSession(ctx, open))

	stillOpen, err := s.LoadOpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, stillOpen)

	all, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].ExitTime)
	assert.True(t, all[0].ExitTime.Equal(exit))
	assert.True(t, all[0].Amount.Equal(amount))
}

func TestSessionRequiresKnownSpot(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveSession(context.Background(), parking.Session{
		ID:        "sess-1",
		SpotID:    "S404",
		Plate:     "ABC1234",
		Category:  vehicle.Car,
		EntryTime: time.Now(),
	})
	assert.Error(t, err)
}

func TestRestartResumesOpenSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	specs := seedLayout(t, s, "CAR:2")

	tariffs, err := tariff.NewTable(tariff.Tariff{
		Category:         vehicle.Car,
		FirstHour:        decimal.RequireFromString("10.00"),
		AdditionalHour:   decimal.RequireFromString("5.00"),
		ToleranceMinutes: 15,
	})
	require.NoError(t, err)

	registry, err := parking.NewRegistry(specs)
	require.NoError(t, err)
	first := parking.NewManager(registry, tariffs)

	sess, err := first.Enter("ABC1234", vehicle.Car, parking.WithSpot("S002"))
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, sess))

	loadedSpecs, err := s.LoadSpots(ctx)
	require.NoError(t, err)
	registry, err = parking.NewRegistry(loadedSpecs)
	require.NoError(t, err)
	second := parking.NewManager(registry, tariffs)

	archived, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, second.Restore(archived))

	got, err := second.Lookup("ABC1234")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, 2, got.SpotNumber)
	assert.NoError(t, second.Verify())
}

package parking

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"parking-manager/internal/logging"
	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

// Archive persists state changes after they are committed in memory.
type Archive interface {
	SaveSession(ctx context.Context, s Session) error
	SaveSpot(ctx context.Context, s Spot) error
	SaveTariff(ctx context.Context, t tariff.Tariff) error
}

// InstrumentedManager wraps a Manager with spans, metrics, logs and
// archival. Archival runs after the core call returns and its failures never
// undo the in-memory change.
type InstrumentedManager struct {
	*Manager
	tracer  trace.Tracer
	archive Archive

	entries           metric.Int64Counter
	exits             metric.Int64Counter
	revenue           metric.Float64Counter
	occupancy         metric.Int64UpDownCounter
	operationDuration metric.Float64Histogram
	archiveFailures   metric.Int64Counter
}

func NewInstrumentedManager(m *Manager, tracer trace.Tracer, meter metric.Meter, archive Archive) (*InstrumentedManager, error) {
	entries, err := meter.Int64Counter("parking_entries_total",
		metric.WithDescription("Total number of entry attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	exits, err := meter.Int64Counter("parking_exits_total",
		metric.WithDescription("Total number of exit attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	revenue, err := meter.Float64Counter("parking_revenue_total",
		metric.WithDescription("Sum of amounts billed at exit"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	occupancy, err := meter.Int64UpDownCounter("parking_lot_occupancy",
		metric.WithDescription("Current number of occupied parking spots"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("operation_duration_seconds",
		metric.WithDescription("Duration of parking operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	archiveFailures, err := meter.Int64Counter("parking_archive_failures_total",
		metric.WithDescription("Writes to the archive that failed"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	im := &InstrumentedManager{
		Manager:           m,
		tracer:            tracer,
		archive:           archive,
		entries:           entries,
		exits:             exits,
		revenue:           revenue,
		occupancy:         occupancy,
		operationDuration: operationDuration,
		archiveFailures:   archiveFailures,
	}

	// Restored sessions already hold spots.
	occupancy.Add(context.Background(), int64(m.Stats().Occupied))

	return im, nil
}

// finish records the outcome of an operation on its span and histogram.
func (im *InstrumentedManager) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error, labels ...attribute.KeyValue) {
	labels = append(labels, attribute.String("operation", op), attribute.String("status", outcome(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	im.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(labels...))
}

// outcome maps an error onto a low-cardinality status label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent"
	case errors.Is(err, ErrAlreadyParked), errors.Is(err, ErrNotParked):
		return "rejected"
	case errors.Is(err, ErrNoAvailableSpot), errors.Is(err, ErrSpotUnavailable):
		return "full"
	case errors.Is(err, tariff.ErrTariffNotConfigured):
		return "no_tariff"
	default:
		return "failed"
	}
}

func (im *InstrumentedManager) Enter(ctx context.Context, plate string, category vehicle.Category, opts ...EnterOption) (Session, error) {
	ctx, span := im.tracer.Start(ctx, "parking.enter",
		trace.WithAttributes(
			attribute.String("vehicle.plate", plate),
			attribute.String("vehicle.category", category.String()),
		))
	defer span.End()

	start := time.Now()
	span.AddEvent("claiming_spot")

	s, err := im.Manager.Enter(plate, category, opts...)

	labels := []attribute.KeyValue{attribute.String("category", category.String())}
	im.entries.Add(ctx, 1, metric.WithAttributes(append(labels, attribute.String("status", outcome(err)))...))
	im.finish(ctx, span, "enter", start, err, labels...)

	if err != nil {
		logging.Warn(ctx, "entry refused", "plate", plate, "category", category, "error", err)
		return Session{}, err
	}

	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("spot.id", s.SpotID),
		attribute.Int("spot.number", s.SpotNumber),
	)
	span.AddEvent("spot_allocated", trace.WithAttributes(attribute.Int("spot_number", s.SpotNumber)))
	im.occupancy.Add(ctx, 1)
	logging.Info(ctx, "vehicle entered", "plate", s.Plate, "spot", s.SpotID, "session", s.ID)

	im.saveSession(ctx, s)
	if spot, err := im.Registry().Get(s.SpotID); err == nil {
		im.saveSpot(ctx, spot)
	}
	return s, nil
}

func (im *InstrumentedManager) Exit(ctx context.Context, plate string) (Receipt, error) {
	return im.ExitAt(ctx, plate, im.now())
}

func (im *InstrumentedManager) ExitAt(ctx context.Context, plate string, exit time.Time) (Receipt, error) {
	ctx, span := im.tracer.Start(ctx, "parking.exit",
		trace.WithAttributes(attribute.String("vehicle.plate", plate)))
	defer span.End()

	start := time.Now()
	span.AddEvent("closing_session")

	rc, err := im.Manager.ExitAt(plate, exit)

	labels := []attribute.KeyValue{}
	if rc.Session.ID != "" {
		labels = append(labels, attribute.String("category", rc.Session.Category.String()))
	}
	im.exits.Add(ctx, 1, metric.WithAttributes(append(labels, attribute.String("status", outcome(err)))...))
	im.finish(ctx, span, "exit", start, err, labels...)

	if rc.Session.ID == "" {
		logging.Warn(ctx, "exit refused", "plate", plate, "error", err)
		return rc, err
	}

	amount := rc.Quote.Amount.InexactFloat64()
	span.SetAttributes(
		attribute.String("session.id", rc.Session.ID),
		attribute.String("spot.id", rc.Session.SpotID),
		attribute.Int64("parking.elapsed_minutes", rc.Quote.ElapsedMinutes),
		attribute.String("parking.amount", rc.Quote.Amount.StringFixed(2)),
		attribute.Bool("parking.graced", rc.Quote.Graced),
	)
	im.revenue.Add(ctx, amount, metric.WithAttributes(labels...))

	if err != nil {
		logging.Error(ctx, "session closed but spot not released",
			"plate", rc.Session.Plate, "spot", rc.Session.SpotID, "session", rc.Session.ID, "error", err)
	} else {
		span.AddEvent("spot_released")
		im.occupancy.Add(ctx, -1)
		logging.Info(ctx, "vehicle exited",
			"plate", rc.Session.Plate, "spot", rc.Session.SpotID,
			"amount", rc.Quote.Amount.StringFixed(2), "elapsed", rc.Quote.Elapsed.String())
	}

	im.saveSession(ctx, rc.Session)
	if spot, gerr := im.Registry().Get(rc.Session.SpotID); gerr == nil {
		im.saveSpot(ctx, spot)
	}
	return rc, err
}

func (im *InstrumentedManager) Lookup(ctx context.Context, plate string) (Session, error) {
	ctx, span := im.tracer.Start(ctx, "parking.lookup",
		trace.WithAttributes(attribute.String("vehicle.plate", plate)))
	defer span.End()

	start := time.Now()
	s, err := im.Manager.Lookup(plate)
	if err != nil {
		span.AddEvent("vehicle_not_found")
	} else {
		span.SetAttributes(attribute.String("spot.id", s.SpotID))
	}
	im.finish(ctx, span, "lookup", start, err)
	return s, err
}

func (im *InstrumentedManager) OpenSessions(ctx context.Context) []Session {
	ctx, span := im.tracer.Start(ctx, "parking.open_sessions")
	defer span.End()

	start := time.Now()
	out := slices.Collect(im.Manager.OpenSessions())
	slices.SortFunc(out, func(a, b Session) int {
		return a.EntryTime.Compare(b.EntryTime)
	})

	span.SetAttributes(attribute.Int("sessions.count", len(out)))
	im.finish(ctx, span, "open_sessions", start, nil)
	return out
}

func (im *InstrumentedManager) Sessions(ctx context.Context) []Session {
	ctx, span := im.tracer.Start(ctx, "parking.sessions")
	defer span.End()

	start := time.Now()
	out := slices.Collect(im.Manager.Sessions())

	span.SetAttributes(attribute.Int("sessions.count", len(out)))
	im.finish(ctx, span, "sessions", start, nil)
	return out
}

func (im *InstrumentedManager) Spots(ctx context.Context, filter SpotFilter) []Spot {
	ctx, span := im.tracer.Start(ctx, "parking.spots",
		trace.WithAttributes(
			attribute.String("filter.category", filter.Category.String()),
			attribute.String("filter.status", string(filter.Status)),
		))
	defer span.End()

	start := time.Now()
	out := im.Manager.Spots(filter)

	span.SetAttributes(attribute.Int("spots.count", len(out)))
	im.finish(ctx, span, "spots", start, nil)
	return out
}

func (im *InstrumentedManager) Stats(ctx context.Context) Stats {
	ctx, span := im.tracer.Start(ctx, "parking.stats")
	defer span.End()

	start := time.Now()
	st := im.Manager.Stats()

	span.SetAttributes(
		attribute.Int("spots.total", st.Total),
		attribute.Int("spots.occupied", st.Occupied),
	)
	im.finish(ctx, span, "stats", start, nil)
	return st
}

func (im *InstrumentedManager) SetMaintenance(ctx context.Context, spotID string, on bool) (Spot, error) {
	ctx, span := im.tracer.Start(ctx, "parking.set_maintenance",
		trace.WithAttributes(
			attribute.String("spot.id", spotID),
			attribute.Bool("spot.maintenance", on),
		))
	defer span.End()

	start := time.Now()
	s, err := im.Manager.SetMaintenance(spotID, on)
	im.finish(ctx, span, "set_maintenance", start, err)
	if err != nil {
		return Spot{}, err
	}

	logging.Info(ctx, "spot status changed", "spot", s.ID, "status", s.Status)
	im.saveSpot(ctx, s)
	return s, nil
}

func (im *InstrumentedManager) Tariff(ctx context.Context, category vehicle.Category) (tariff.Tariff, error) {
	ctx, span := im.tracer.Start(ctx, "parking.tariff",
		trace.WithAttributes(attribute.String("vehicle.category", category.String())))
	defer span.End()

	start := time.Now()
	t, err := im.Manager.Tariff(category)
	im.finish(ctx, span, "tariff", start, err)
	return t, err
}

func (im *InstrumentedManager) Tariffs(ctx context.Context) []tariff.Tariff {
	ctx, span := im.tracer.Start(ctx, "parking.tariffs")
	defer span.End()

	start := time.Now()
	out := im.Manager.Tariffs()
	im.finish(ctx, span, "tariffs", start, nil)
	return out
}

func (im *InstrumentedManager) UpdateTariff(ctx context.Context, category vehicle.Category, patch tariff.Patch) (tariff.Tariff, error) {
	ctx, span := im.tracer.Start(ctx, "parking.update_tariff",
		trace.WithAttributes(attribute.String("vehicle.category", category.String())))
	defer span.End()

	start := time.Now()
	t, err := im.Manager.UpdateTariff(category, patch)
	im.finish(ctx, span, "update_tariff", start, err)
	if err != nil {
		logging.Warn(ctx, "tariff update refused", "category", category, "error", err)
		return tariff.Tariff{}, err
	}

	logging.Info(ctx, "tariff updated",
		"category", t.Category,
		"first_hour", t.FirstHour.StringFixed(2),
		"additional_hour", t.AdditionalHour.StringFixed(2),
		"tolerance_minutes", t.ToleranceMinutes)
	if im.archive != nil {
		if err := im.archive.SaveTariff(ctx, t); err != nil {
			im.archiveFailed(ctx, "tariff", err)
		}
	}
	return t, nil
}

func (im *InstrumentedManager) Verify(ctx context.Context) error {
	ctx, span := im.tracer.Start(ctx, "parking.verify")
	defer span.End()

	start := time.Now()
	err := im.Manager.Verify()
	im.finish(ctx, span, "verify", start, err)
	if err != nil {
		logging.Error(ctx, "state verification failed", "error", err)
	}
	return err
}

func (im *InstrumentedManager) saveSession(ctx context.Context, s Session) {
	if im.archive == nil {
		return
	}
	if err := im.archive.SaveSession(ctx, s); err != nil {
		im.archiveFailed(ctx, "session", err)
	}
}

func (im *InstrumentedManager) saveSpot(ctx context.Context, s Spot) {
	if im.archive == nil {
		return
	}
	if err := im.archive.SaveSpot(ctx, s); err != nil {
		im.archiveFailed(ctx, "spot", err)
	}
}

func (im *InstrumentedManager) archiveFailed(ctx context.Context, kind string, err error) {
	trace.SpanFromContext(ctx).AddEvent("archive_failed", trace.WithAttributes(
		attribute.String("archive.kind", kind),
	))
	im.archiveFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	logging.Error(ctx, "archive write failed", "kind", kind, "error", err)
}

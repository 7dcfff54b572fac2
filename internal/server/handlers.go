package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"parking-manager/internal/fee"
	"parking-manager/internal/parking"
	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	manager     *parking.InstrumentedManager
	db          Pinger
	serviceName string
}

func NewHandler(manager *parking.InstrumentedManager, db Pinger, serviceName string) *Handler {
	return &Handler{
		manager:     manager,
		db:          db,
		serviceName: serviceName,
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, parking.ErrInconsistentState):
		return http.StatusInternalServerError
	case errors.Is(err, parking.ErrAlreadyParked),
		errors.Is(err, parking.ErrSpotOccupied),
		errors.Is(err, parking.ErrSpotUnavailable),
		errors.Is(err, parking.ErrNoAvailableSpot):
		return http.StatusConflict
	case errors.Is(err, parking.ErrNotParked),
		errors.Is(err, parking.ErrSpotNotFound),
		errors.Is(err, tariff.ErrTariffNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, tariff.ErrInvalidTariffValue),
		errors.Is(err, fee.ErrInvalidInterval),
		errors.Is(err, vehicle.ErrUnknownCategory),
		errors.Is(err, vehicle.ErrInvalidPlate),
		errors.Is(err, parking.ErrCategoryMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:  "healthy",
		Service: h.serviceName,
		Meta:    extractMeta(ctx),
	}

	status := http.StatusOK
	if h.db != nil {
		resp.Database = "up"
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "down"
			status = http.StatusServiceUnavailable
		}
	}
	WriteJSON(w, status, resp)
}

func (h *Handler) Enter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Plate == "" || req.Category == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Plate and category are required")
		return
	}

	category, err := vehicle.ParseCategory(req.Category)
	if err != nil {
		WriteError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []parking.EnterOption
	if req.SpotID != "" {
		opts = append(opts, parking.WithSpot(req.SpotID))
	}
	if req.AnyCategory {
		opts = append(opts, parking.WithAnyCategory())
	}

	s, err := h.manager.Enter(ctx, req.Plate, category, opts...)
	if err != nil {
		WriteError(ctx, w, statusFor(err), err.Error())
		return
	}

	WriteSuccess(ctx, w, "Vehicle entered", newSessionResponse(s))
}

func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Plate == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Plate is required")
		return
	}

	rc, err := h.manager.Exit(ctx, req.Plate)
	switch {
	case err == nil:
		WriteSuccess(ctx, w, "Vehicle exited", newExitResponse(rc))
	case rc.Session.ID != "":
		// Billed and closed, but the spot could not be released.
		WriteErrorData(ctx, w, statusFor(err), err.Error(), newExitResponse(rc))
	case errors.Is(err, tariff.ErrTariffNotConfigured):
		WriteError(ctx, w, http.StatusUnprocessableEntity, err.Error())
	default:
		WriteError(ctx, w, statusFor(err), err.Error())
	}
}

func (h *Handler) ListOpenSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	WriteSuccess(ctx, w, "Open sessions", newSessionResponses(h.manager.OpenSessions(ctx)))
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	WriteSuccess(ctx, w, "Session history", newSessionResponses(h.manager.Sessions(ctx)))
}

func (h *Handler) FindByPlate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plate := chi.URLParam(r, "plate")

	s, err := h.manager.Lookup(ctx, plate)
	if err != nil {
		WriteError(ctx, w, statusFor(err), err.Error())
		return
	}

	WriteSuccess(ctx, w, "Vehicle found", newSessionResponse(s))
}

func (h *Handler) ListSpots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var filter parking.SpotFilter

	if c := r.URL.Query().Get("category"); c != "" {
		category, err := vehicle.ParseCategory(c)
		if err != nil {
			WriteError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Category = category
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := parking.Status(strings.ToUpper(s))
		if !status.Valid() {
			WriteError(ctx, w, http.StatusBadRequest, "Unknown spot status: "+s)
			return
		}
		filter.Status = status
	}

	WriteSuccess(ctx, w, "Spots", h.manager.Spots(ctx, filter))
}

func (h *Handler) SpotStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	WriteSuccess(ctx, w, "Spot statistics", h.manager.Stats(ctx))
}

func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Maintenance == nil {
		WriteError(ctx, w, http.StatusBadRequest, "Body must be {\"maintenance\": true|false}")
		return
	}

	s, err := h.manager.SetMaintenance(ctx, chi.URLParam(r, "id"), *req.Maintenance)
	if err != nil {
		WriteError(ctx, w, statusFor(err), err.Error())
		return
	}

	WriteSuccess(ctx, w, "Spot updated", s)
}

func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tariffs := h.manager.Tariffs(ctx)

	out := make([]TariffResponse, 0, len(tariffs))
	for _, t := range tariffs {
		out = append(out, newTariffResponse(t))
	}
	WriteSuccess(ctx, w, "Tariffs", out)
}

func (h *Handler) GetTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category, err := vehicle.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		WriteError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.manager.Tariff(ctx, category)
	if err != nil {
		WriteError(ctx, w, statusFor(err), err.Error())
		return
	}

	WriteSuccess(ctx, w, "Tariff", newTariffResponse(t))
}

func (h *Handler) UpdateTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category, err := vehicle.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		WriteError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	var patch tariff.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := h.manager.UpdateTariff(ctx, category, patch)
	if err != nil {
		WriteError(ctx, w, statusFor(err), err.Error())
		return
	}

	WriteSuccess(ctx, w, "Tariff updated", newTariffResponse(t))
}

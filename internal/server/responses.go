package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"parking-manager/internal/parking"
	"parking-manager/internal/tariff"
)

type Meta struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database,omitempty"`
	Meta     *Meta  `json:"meta,omitempty"`
}

type EntryRequest struct {
	Plate       string `json:"plate"`
	Category    string `json:"category"`
	SpotID      string `json:"spot_id,omitempty"`
	AnyCategory bool   `json:"any_category,omitempty"`
}

type ExitRequest struct {
	Plate string `json:"plate"`
}

type MaintenanceRequest struct {
	Maintenance *bool `json:"maintenance"`
}

// SessionResponse renders money with two fractional digits and the elapsed
// time as "1h 30min".
type SessionResponse struct {
	ID         string     `json:"id"`
	SpotID     string     `json:"spot_id"`
	SpotNumber int        `json:"spot_number"`
	Plate      string     `json:"plate"`
	Category   string     `json:"category"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	Amount     string     `json:"amount,omitempty"`
	Elapsed    string     `json:"elapsed,omitempty"`
	Open       bool       `json:"open"`
}

type ExitResponse struct {
	Session        SessionResponse `json:"session"`
	Amount         string          `json:"amount"`
	Elapsed        string          `json:"elapsed"`
	ElapsedMinutes int64           `json:"elapsed_minutes"`
	Graced         bool            `json:"graced"`
	Tariff         TariffResponse  `json:"tariff"`
}

type TariffResponse struct {
	Category         string `json:"category"`
	FirstHour        string `json:"first_hour"`
	AdditionalHour   string `json:"additional_hour"`
	ToleranceMinutes int    `json:"tolerance_minutes"`
}

func newSessionResponse(s parking.Session) SessionResponse {
	out := SessionResponse{
		ID:         s.ID,
		SpotID:     s.SpotID,
		SpotNumber: s.SpotNumber,
		Plate:      s.Plate,
		Category:   s.Category.String(),
		EntryTime:  s.EntryTime,
		ExitTime:   s.ExitTime,
		Open:       s.Open(),
	}
	if s.Amount != nil {
		out.Amount = s.Amount.StringFixed(2)
	}
	if s.Elapsed != nil {
		out.Elapsed = s.Elapsed.String()
	}
	return out
}

func newSessionResponses(sessions []parking.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionResponse(s))
	}
	return out
}

func newExitResponse(rc parking.Receipt) ExitResponse {
	return ExitResponse{
		Session:        newSessionResponse(rc.Session),
		Amount:         rc.Quote.Amount.StringFixed(2),
		Elapsed:        rc.Quote.Elapsed.String(),
		ElapsedMinutes: rc.Quote.ElapsedMinutes,
		Graced:         rc.Quote.Graced,
		Tariff:         newTariffResponse(rc.Tariff),
	}
}

func newTariffResponse(t tariff.Tariff) TariffResponse {
	return TariffResponse{
		Category:         t.Category.String(),
		FirstHour:        t.FirstHour.StringFixed(2),
		AdditionalHour:   t.AdditionalHour.StringFixed(2),
		ToleranceMinutes: t.ToleranceMinutes,
	}
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractMeta(ctx context.Context) *Meta {
	meta := &Meta{}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		meta.TraceID = span.SpanContext().TraceID().String()
	}

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		meta.RequestID = reqID
	}

	return meta
}

func WriteSuccess(ctx context.Context, w http.ResponseWriter, message string, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    extractMeta(ctx),
	})
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteErrorData(ctx, w, status, message, nil)
}

// WriteErrorData reports a failure that still produced a result worth
// returning.
func WriteErrorData(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Data:    data,
		Meta:    extractMeta(ctx),
	})
}

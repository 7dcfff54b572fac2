package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parking-manager/internal/logging"
	"parking-manager/internal/parking"
)

type Options struct {
	Port        string
	ServiceName string
	Manager     *parking.InstrumentedManager
	// DB is optional; when set /health pings it.
	DB Pinger
}

type Server struct {
	httpServer *http.Server
	handler    *Handler
}

func NewServer(opts Options) *Server {
	handler := NewHandler(opts.Manager, opts.DB, opts.ServiceName)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		parking.NewSpotCollector(opts.Manager.Registry()),
	)

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware(opts.ServiceName))
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware)

	r.Get("/health", handler.HealthCheck)
	r.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}).ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/entry", handler.Enter)
			r.Post("/exit", handler.Exit)
			r.Get("/", handler.ListOpenSessions)
			r.Get("/history", handler.ListHistory)
			r.Get("/{plate}", handler.FindByPlate)
		})
		r.Route("/spots", func(r chi.Router) {
			r.Get("/", handler.ListSpots)
			r.Get("/stats", handler.SpotStats)
			r.Put("/{id}/maintenance", handler.SetMaintenance)
		})
		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", handler.ListTariffs)
			r.Get("/{category}", handler.GetTariff)
			r.Patch("/{category}", handler.UpdateTariff)
		})
	})

	httpServer := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	logging.Info(context.Background(), "starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return fmt.Sprintf("http://localhost%s", s.httpServer.Addr)
}

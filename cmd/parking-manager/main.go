package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parking-manager/internal/config"
	"parking-manager/internal/logging"
	"parking-manager/internal/parking"
	"parking-manager/internal/server"
	"parking-manager/internal/store"
	"parking-manager/internal/tariff"
	"parking-manager/internal/telemetry"
)

var (
	mode = flag.String("mode", "", "Mode to run: cli, server, or both (default $APP_MODE)")
	port = flag.String("port", "", "Port for HTTP server (default $APP_PORT)")
)

type app struct {
	cfg     *config.Config
	tp      *telemetry.Provider
	manager *parking.InstrumentedManager
	store   *store.Store
}

func main() {
	flag.Parse()

	cfg := config.Load()
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *port != "" {
		cfg.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, cfg.OTelServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	logging.Init(cfg.OTelServiceName, cfg.Environment)

	a, err := newApp(ctx, cfg, tp)
	if err != nil {
		logging.Error(ctx, "startup failed", "error", err)
		a.close()
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	switch cfg.Mode {
	case "cli":
		a.runCLI(ctx, cancel, sigChan)
	case "server":
		a.runServer(ctx, cancel, sigChan)
	case "both":
		a.runBoth(ctx, cancel, sigChan)
	default:
		logging.Error(ctx, "invalid mode, must be cli, server, or both", "mode", cfg.Mode)
		a.close()
		os.Exit(2)
	}

	a.close()
}

// newApp builds the manager from the store when one is configured, seeding
// it from configuration on first run.
func newApp(ctx context.Context, cfg *config.Config, tp *telemetry.Provider) (*app, error) {
	a := &app{cfg: cfg, tp: tp}

	specs, err := parking.ParseLayout(cfg.SpotLayout)
	if err != nil {
		return a, err
	}
	tariffs, err := tariff.ParseList(cfg.Tariffs)
	if err != nil {
		return a, err
	}

	var sessions []parking.Session
	if cfg.DatabasePath != "" {
		if a.store, err = store.Open(ctx, cfg.DatabasePath); err != nil {
			return a, err
		}
		if specs, tariffs, sessions, err = a.load(ctx, specs, tariffs); err != nil {
			return a, err
		}
	}

	registry, err := parking.NewRegistry(specs)
	if err != nil {
		return a, err
	}
	table, err := tariff.NewTable(tariffs...)
	if err != nil {
		return a, err
	}

	m := parking.NewManager(registry, table)
	if err := m.Restore(sessions); err != nil {
		logging.Error(ctx, "some sessions could not be restored", "error", err)
	}
	for _, s := range m.Stranded() {
		logging.Warn(ctx, "open session holds no spot", "session", s.ID, "plate", s.Plate, "spot", s.SpotID)
	}
	if err := m.Verify(); err != nil {
		logging.Error(ctx, "restored state is inconsistent", "error", err)
	}

	var archive parking.Archive
	if a.store != nil {
		archive = a.store
	}
	a.manager, err = parking.NewInstrumentedManager(m, tp.Tracer(), tp.Meter(), archive)
	if err != nil {
		return a, err
	}

	logging.Info(ctx, "parking manager ready",
		"spots", registry.Capacity(),
		"open_sessions", m.Stats().Occupied,
		"store", cfg.DatabasePath)
	return a, nil
}

// load prefers stored spots and tariffs and seeds whatever is missing.
func (a *app) load(ctx context.Context, specs []parking.SpotSpec, tariffs []tariff.Tariff) ([]parking.SpotSpec, []tariff.Tariff, []parking.Session, error) {
	if err := a.store.Migrate(ctx); err != nil {
		return nil, nil, nil, err
	}

	stored, err := a.store.LoadSpots(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(stored) == 0 {
		if err := a.store.SeedSpots(ctx, specs); err != nil {
			return nil, nil, nil, err
		}
	} else {
		specs = stored
	}

	storedTariffs, err := a.store.LoadTariffs(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(storedTariffs) == 0 {
		for _, t := range tariffs {
			if err := a.store.SaveTariff(ctx, t); err != nil {
				return nil, nil, nil, err
			}
		}
	} else {
		tariffs = storedTariffs
	}

	sessions, err := a.store.LoadSessions(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return specs, tariffs, sessions, nil
}

func (a *app) newServer() *server.Server {
	opts := server.Options{
		Port:        a.cfg.Port,
		ServiceName: a.cfg.OTelServiceName,
		Manager:     a.manager,
	}
	if a.store != nil {
		opts.DB = a.store
	}
	return server.NewServer(opts)
}

func (a *app) runCLI(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	go func() {
		<-sigChan
		logging.Info(ctx, "shutting down")
		cancel()
	}()

	shell := parking.NewShell(a.manager, a.tp.Tracer(), os.Stdin, os.Stdout)
	shell.Run(ctx)
}

func (a *app) runServer(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	srv := a.newServer()

	go func() {
		<-sigChan
		logging.Info(ctx, "received shutdown signal")
		a.shutdownServer(srv)
		cancel()
	}()

	logging.Info(ctx, "starting server mode", "port", a.cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error(ctx, "server error", "error", err)
	}
}

func (a *app) runBoth(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	srv := a.newServer()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	cliDone := make(chan struct{})
	go func() {
		parking.NewShell(a.manager, a.tp.Tracer(), os.Stdin, os.Stdout).Run(ctx)
		close(cliDone)
	}()

	go func() {
		<-sigChan
		logging.Info(ctx, "received shutdown signal")
		cancel()
	}()

	select {
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "server error", "error", err)
		}
	case <-cliDone:
		logging.Info(ctx, "CLI exited")
	case <-ctx.Done():
		logging.Info(ctx, "context cancelled")
	}

	a.shutdownServer(srv)
}

func (a *app) shutdownServer(srv *server.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "server shutdown error", "error", err)
	}
}

func (a *app) close() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Error(shutdownCtx, "error closing store", "error", err)
		}
	}

	logging.Info(shutdownCtx, "shutting down telemetry")
	if err := a.tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down telemetry: %v", err)
	}
}

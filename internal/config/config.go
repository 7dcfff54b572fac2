package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            string
	Mode            string
	Environment     string
	OTelServiceName string
	OTelEndpoint    string
	DatabasePath    string
	SpotLayout      string
	Tariffs         string
	ShutdownTimeout time.Duration
}

func Load() *Config {
	return &Config{
		Port:            envOr("APP_PORT", "8080"),
		Mode:            envOr("APP_MODE", "cli"),
		Environment:     envOr("ENVIRONMENT", "development"),
		OTelServiceName: envOr("OTEL_SERVICE_NAME", "parking-manager"),
		OTelEndpoint:    envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		DatabasePath:    envOr("DATABASE_PATH", "data/parking.db"),
		SpotLayout:      envOr("SPOT_LAYOUT", "CAR:10,MOTORCYCLE:4,ACCESSIBLE:2"),
		Tariffs:         envOr("TARIFFS", "CAR=10.00/5.00/15,MOTORCYCLE=5.00/2.50/15,ACCESSIBLE=10.00/5.00/30"),
		ShutdownTimeout: time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

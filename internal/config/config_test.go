package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "cli", cfg.Mode)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "parking-manager", cfg.OTelServiceName)
	assert.Equal(t, "http://localhost:4318", cfg.OTelEndpoint)
	assert.Equal(t, "data/parking.db", cfg.DatabasePath)
	assert.Equal(t, "CAR:10,MOTORCYCLE:4,ACCESSIBLE:2", cfg.SpotLayout)
	assert.Equal(t, "CAR=10.00/5.00/15,MOTORCYCLE=5.00/2.50/15,ACCESSIBLE=10.00/5.00/30", cfg.Tariffs)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_MODE", "server")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("SPOT_LAYOUT", "CAR:2")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "", cfg.DatabasePath, "an empty path disables the store")
	assert.Equal(t, "CAR:2", cfg.SpotLayout)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestInvalidNumericFallsBackToDefault(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "soon")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

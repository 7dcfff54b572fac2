package parking

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"parking-manager/internal/telemetry"
)

func runShell(t *testing.T, input string) string {
	t.Helper()
	im, _ := newInstrumented(t, nil)
	var out bytes.Buffer
	NewShell(im, telemetry.Noop().Tracer(), strings.NewReader(input), &out).Run(context.Background())
	return out.String()
}

func TestShellEnterAndExit(t *testing.T) {
	out := runShell(t, `
enter ABC1234 car
enter ABC1234 car
status
exit ABC1234
exit ABC1234
`)

	for _, want := range []string{
		"Allocated spot number: 1 (S001)",
		"vehicle already parked",
		"ABC1234",
		"Spot number 1 is free. Time: 0h 0min. Amount due: 0.00",
		"vehicle not parked",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestShellEnterWithSpot(t *testing.T) {
	out := runShell(t, "enter ABC1234 CAR S002\nspots car occupied\n")
	if !strings.Contains(out, "Allocated spot number: 2 (S002)") {
		t.Errorf("Unexpected output:\n%s", out)
	}
	if strings.Contains(out, "S001") {
		t.Errorf("Expected filter to hide free spots, got:\n%s", out)
	}
}

func TestShellTariffs(t *testing.T) {
	out := runShell(t, `
tariff car
set_tariff car first=12.50 tolerance=5
set_tariff car first=-1
set_tariff accessible tolerance=5
tariff truck
`)

	for _, want := range []string{
		"CAR: first hour 10.00, additional hour 5.00, tolerance 15 min",
		"CAR: first hour 12.50, additional hour 5.00, tolerance 5 min",
		"invalid tariff value",
		"tariff not configured",
		"unknown vehicle category",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestShellMaintenanceAndStats(t *testing.T) {
	out := runShell(t, `
maintenance S001 on
enter ABC1234 CAR
maintenance S002 on
stats
verify
maintenance S001 sideways
`)

	for _, want := range []string{
		"Spot S001 is MAINTENANCE",
		"Allocated spot number: 2 (S002)",
		"spot is occupied",
		"Total: 3  Free: 1  Occupied: 1  Maintenance: 1",
		"OK",
		"Usage: maintenance <spot_id> on|off",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestShellUnknownCommand(t *testing.T) {
	out := runShell(t, "fly away\n")
	if !strings.Contains(out, "Unknown command: fly") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestShellEmptyHistory(t *testing.T) {
	out := runShell(t, "history\n")
	if !strings.Contains(out, "No sessions") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

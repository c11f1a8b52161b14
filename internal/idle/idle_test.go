package idle_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"livemarks/internal/idle"
)

func TestTTYSensorUsesMostRecentAccess(t *testing.T) {
	t.Parallel()

	if runtime.GOOS != "linux" {
		t.Skip("terminal access times are read on linux only")
	}

	dir := t.TempDir()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	touch(t, filepath.Join(dir, "tty1"), base)
	touch(t, filepath.Join(dir, "tty2"), base.Add(20*time.Minute))

	clk := clocktesting.NewFakeClock(base.Add(50 * time.Minute))
	sensor := idle.NewTTYSensor(clk, filepath.Join(dir, "tty*"))

	got, err := sensor.IdleDuration()
	if err != nil {
		t.Fatalf("IdleDuration: %v", err)
	}

	if got != 30*time.Minute {
		t.Fatalf("expected 30m idle, got %s", got)
	}
}

func TestTTYSensorUnavailableWithoutDevices(t *testing.T) {
	t.Parallel()

	sensor := idle.NewTTYSensor(nil, filepath.Join(t.TempDir(), "missing*"))

	if _, err := sensor.IdleDuration(); !errors.Is(err, idle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNeverIsNeverIdle(t *testing.T) {
	t.Parallel()

	got, err := idle.Never{}.IdleDuration()
	if err != nil || got != 0 {
		t.Fatalf("Never.IdleDuration = %s, %v", got, err)
	}
}

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

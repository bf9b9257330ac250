package sleep

import (
	"log/slog"
	"testing"
)

func TestMonitorCreation(t *testing.T) {
	m := NewMonitor(nil, nil, nil)

	if m.logger == nil {
		t.Error("Expected default logger when nil is provided")
	}
	if m.IsSleeping() {
		t.Error("Expected IsSleeping()=false for new monitor")
	}
	if !m.LastWake().IsZero() {
		t.Error("Expected zero LastWake for new monitor")
	}
}

func TestMonitorWithLogger(t *testing.T) {
	logger := slog.Default()
	m := NewMonitor(logger, nil, nil)

	if m.logger != logger {
		t.Error("Expected provided logger to be used")
	}
}

func TestMonitorSleepWakeCycle(t *testing.T) {
	var sleeps, wakes int
	m := NewMonitor(nil, func() { sleeps++ }, func() { wakes++ })

	m.markSleep()
	if !m.IsSleeping() {
		t.Error("Expected IsSleeping()=true after markSleep()")
	}

	m.markWake()
	if m.IsSleeping() {
		t.Error("Expected IsSleeping()=false after markWake()")
	}
	if sleeps != 1 || wakes != 1 {
		t.Errorf("Expected one sleep and one wake callback, got %d and %d", sleeps, wakes)
	}
	if m.LastWake().IsZero() {
		t.Error("Expected LastWake to be recorded")
	}
}

func TestMonitorWakeWhenNotSleeping(t *testing.T) {
	wakeCalled := false
	m := NewMonitor(nil, nil, func() { wakeCalled = true })

	// A wake without a preceding sleep is ignored
	m.markWake()

	if wakeCalled {
		t.Error("Expected onWake callback NOT to be called when not sleeping")
	}
}

func TestMonitorNilCallbacks(t *testing.T) {
	m := NewMonitor(nil, nil, nil)

	// Should not panic with nil callbacks
	m.markSleep()
	m.markWake()
}

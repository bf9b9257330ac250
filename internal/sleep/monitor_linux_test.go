package sleep

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestHandleSignal(t *testing.T) {
	var sleeps, wakes int
	m := NewMonitor(nil, func() { sleeps++ }, func() { wakes++ })

	m.handleSignal(&dbus.Signal{Name: "org.freedesktop.login1.Manager.SessionNew", Body: []any{true}})
	m.handleSignal(&dbus.Signal{Name: prepareForSleep})
	m.handleSignal(&dbus.Signal{Name: prepareForSleep, Body: []any{"yes"}})
	if sleeps != 0 {
		t.Fatalf("Expected unrelated or malformed signals to be ignored, got %d sleeps", sleeps)
	}

	m.handleSignal(&dbus.Signal{Name: prepareForSleep, Body: []any{true}})
	m.handleSignal(&dbus.Signal{Name: prepareForSleep, Body: []any{false}})

	if sleeps != 1 || wakes != 1 {
		t.Errorf("Expected one sleep and one wake, got %d and %d", sleeps, wakes)
	}
}

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// settle gives the watcher time to register before the test touches files
const settle = 100 * time.Millisecond

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForChange did not return")
		return nil
	}
}

func TestWaitForChangeOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".relaunch.hcl")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- WaitForChange(context.Background(), path) }()
	time.Sleep(settle)

	if err := os.WriteFile(path, []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForChangeOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".relaunch.hcl")

	done := make(chan error, 1)
	go func() { done <- WaitForChange(context.Background(), path) }()
	time.Sleep(settle)

	if err := os.WriteFile(path, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForChangeAtomicSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".relaunch.hcl")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- WaitForChange(context.Background(), path) }()
	time.Sleep(settle)

	tmp := filepath.Join(dir, ".relaunch.hcl.swp")
	if err := os.WriteFile(tmp, []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForChangeIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".relaunch.hcl")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WaitForChange(ctx, path) }()
	time.Sleep(settle)

	if err := os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		t.Fatalf("returned for an unrelated file: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	if err := waitResult(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForChangeMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", ".relaunch.hcl")
	if err := WaitForChange(context.Background(), path); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestOnceFiresOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".relaunch.hcl")

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() { done <- Once(context.Background(), path, func() { calls.Add(1) }) }()
	time.Sleep(settle)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(settle)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly one call, got %d", got)
	}
}

func TestOnceCancelledSkipsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	if err := Once(ctx, filepath.Join(t.TempDir(), "f"), func() { called = true }); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
	if called {
		t.Error("callback ran after cancellation")
	}
}

package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchRerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.yaml")
	write := func(label string) {
		t.Helper()
		doc := "name: watched\nsteps:\n  - label: " + label + "\n    method: ping\n"
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, quietLogger(), func(_ context.Context, sc *Scenario) error {
			runs <- sc.Steps[0].Label
			return nil
		})
	}()

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-runs:
			if got != want {
				t.Fatalf("run with label %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for run %q", want)
		}
	}
	expect("first")

	// Give the watcher time to register before modifying the file.
	time.Sleep(100 * time.Millisecond)
	write("second")
	expect("second")

	// An invalid edit is skipped.
	if err := os.WriteFile(path, []byte("name: watched\nsteps: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	write("third")
	expect("third")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "x.yaml"), quietLogger(), func(context.Context, *Scenario) error { return nil })
	if err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}

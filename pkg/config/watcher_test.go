package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchConfigSignalsAfterWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "system.json")
	if err := os.WriteFile(file, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := WatchConfig(ctx, 10*time.Millisecond, file)

	if err := os.WriteFile(file, []byte(`{"log_level":"debug"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-changed:
		if !ok {
			t.Fatal("watch channel closed before signaling")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal after file write")
	}

	cancel()
	select {
	case _, ok := <-changed:
		if ok {
			// A second buffered signal may still be in flight; the close
			// must follow.
			if _, ok := <-changed; ok {
				t.Fatal("watch channel stayed open after cancel")
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestWatchConfigClosesWhenNothingWatchable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := WatchConfig(ctx, 10*time.Millisecond, filepath.Join(t.TempDir(), "missing.json"))

	select {
	case _, ok := <-changed:
		if ok {
			t.Fatal("unexpected signal from watcher with no watchable files")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed when no files could be watched")
	}
}

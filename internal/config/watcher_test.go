package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halvard/vesper/internal/config"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// Force a distinct mtime; coarse filesystem timestamps would otherwise
	// hide back-to-back writes from the poller.
	future := time.Now().Add(time.Duration(len(content)) * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, minimalYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().Providers.Recognizer.Name != "websocket" {
		t.Errorf("Current() = %+v", w.Current().Providers)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "not: [valid")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, minimalYAML)

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		changed <- new
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, minimalYAML+"server:\n  log_level: debug\n")

	select {
	case cfg := <-changed:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("new config log level = %q", cfg.Server.LogLevel)
		}
		if w.Current().Server.LogLevel != config.LogDebug {
			t.Error("Current() should return the reloaded config")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_KeepsPreviousOnInvalidEdit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, minimalYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		called <- struct{}{}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "providers: [broken")

	select {
	case <-called:
		t.Fatal("callback fired for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Providers.Recognizer.Name != "websocket" {
		t.Error("previous config should remain current after an invalid edit")
	}
}

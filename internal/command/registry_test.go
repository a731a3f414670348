package command_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/halvard/vesper/internal/command"
)

func def(t *testing.T, name, pattern string) *command.Definition {
	t.Helper()
	return &command.Definition{
		Name:     name,
		Action:   name,
		Patterns: []command.Pattern{mustPattern(t, pattern)},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	if err := r.Register("media", []*command.Definition{
		def(t, "media.play", "play music"),
		def(t, "media.stop", "stop music"),
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if d := r.Lookup("media.play"); d == nil || d.Module != "media" {
		t.Fatalf("Lookup(media.play) = %+v", d)
	}
	want := []string{"media.play", "media.stop"}
	if got := r.Snapshot().Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistry_ConflictRejectsWholeModule(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	if err := r.Register("media", []*command.Definition{def(t, "media.play", "play music")}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register("other", []*command.Definition{
		def(t, "other.volume", "volume up"),
		def(t, "media.play", "start playback"),
	})
	var conflict *command.RegistrationConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected RegistrationConflictError, got %v", err)
	}
	if conflict.Existing != "media" || conflict.Incoming != "other" {
		t.Errorf("conflict = %+v", conflict)
	}

	// The rejected module must leave no trace: not even its clean command.
	if r.Lookup("other.volume") != nil {
		t.Error("rejected module leaked a command into the registry")
	}
	if d := r.Lookup("media.play"); d == nil || d.Module != "media" {
		t.Error("existing registration should be untouched")
	}
}

func TestRegistry_ReRegisterReplacesModuleSet(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	if err := r.Register("media", []*command.Definition{
		def(t, "media.play", "play music"),
		def(t, "media.stop", "stop music"),
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Reload with a different command set: stop disappears, pause appears.
	if err := r.Register("media", []*command.Definition{
		def(t, "media.play", "play music"),
		def(t, "media.pause", "pause music"),
	}); err != nil {
		t.Fatalf("re-Register: %v", err)
	}

	if r.Lookup("media.stop") != nil {
		t.Error("media.stop should be gone after reload")
	}
	if r.Lookup("media.pause") == nil {
		t.Error("media.pause should exist after reload")
	}
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	if err := r.Register("media", []*command.Definition{def(t, "media.play", "play music")}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	snap := r.Snapshot()
	r.Unregister("media")

	// The old snapshot still sees the command; the registry does not.
	if snap.Lookup("media.play") == nil {
		t.Error("held snapshot should be immutable")
	}
	if r.Lookup("media.play") != nil {
		t.Error("registry should no longer have the command")
	}
	if r.Snapshot().Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Snapshot().Len())
	}
}

func TestRegistry_DuplicateInBatch(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	err := r.Register("media", []*command.Definition{
		def(t, "media.play", "play music"),
		def(t, "media.play", "start music"),
	})
	if err == nil {
		t.Fatal("expected error for duplicate names in one module")
	}
}

func TestRegistry_ModuleCommands(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	if err := r.Register("media", []*command.Definition{def(t, "media.play", "play music")}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("home", []*command.Definition{def(t, "home.lights", "lights on")}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got := r.Snapshot().ModuleCommands("home")
	if !slices.Equal(got, []string{"home.lights"}) {
		t.Errorf("ModuleCommands(home) = %v", got)
	}
}

func TestRegistry_OrderIsMonotonic(t *testing.T) {
	t.Parallel()
	r := command.NewRegistry()
	if err := r.Register("a", []*command.Definition{def(t, "a.one", "one two")}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("b", []*command.Definition{def(t, "b.two", "three four")}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first := r.Lookup("a.one").Order()
	second := r.Lookup("b.two").Order()
	if second <= first {
		t.Errorf("registration order not monotonic: %d then %d", first, second)
	}
}

package config_test

import (
	"slices"
	"testing"

	"github.com/halvard/vesper/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Dispatch: config.DispatchConfig{
			MinScore:      1.0,
			CancelPhrases: []string{"cancel"},
		},
		Wake:    config.WakeConfig{Enabled: true, Phrase: "hey vesper"},
		Modules: config.ModulesConfig{Locations: []string{"modules"}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Any() {
		t.Errorf("identical configs should produce an empty diff, got %+v", d)
	}
}

func TestDiff_DispatchKnobs(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Dispatch.MinScore = 2.0
	d := config.Diff(baseConfig(), next)
	if !d.DispatchChanged {
		t.Error("DispatchChanged should be set")
	}
	if d.WakeChanged || d.LogLevelChanged {
		t.Errorf("unrelated flags set: %+v", d)
	}
}

func TestDiff_CancelPhrases(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Dispatch.CancelPhrases = []string{"cancel", "forget it"}
	if d := config.Diff(baseConfig(), next); !d.DispatchChanged {
		t.Error("slice-valued knob change should set DispatchChanged")
	}
}

func TestDiff_Wake(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Wake.Phrase = "hello vesper"
	if d := config.Diff(baseConfig(), next); !d.WakeChanged {
		t.Error("WakeChanged should be set")
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.LogLevel = config.LogDebug
	d := config.Diff(baseConfig(), next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_ModuleLocations(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Modules.Locations = []string{"modules", "extra"}
	d := config.Diff(baseConfig(), next)
	if !slices.Equal(d.ModulesAdded, []string{"extra"}) || len(d.ModulesRemoved) != 0 {
		t.Errorf("diff = %+v", d)
	}

	d = config.Diff(next, baseConfig())
	if !slices.Equal(d.ModulesRemoved, []string{"extra"}) || len(d.ModulesAdded) != 0 {
		t.Errorf("reverse diff = %+v", d)
	}
}

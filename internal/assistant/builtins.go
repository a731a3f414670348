package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// registerBuiltins installs the assistant's built-in actions. Modules
// reference these by name in their declarations; the leaf behavior stays
// thin on purpose — real work belongs in module scripts or external
// services.
func (a *App) registerBuiltins() {
	start := time.Now()

	a.actions.Register("system.status", func(ctx context.Context, params map[string]any) (string, error) {
		snap := a.registry.Snapshot()
		uptime := time.Since(start).Round(time.Second)
		return fmt.Sprintf("running for %s with %d commands from %d modules",
			spokenDuration(uptime), snap.Len(), len(a.loader.Modules())), nil
	})

	a.actions.Register("assistant.list_commands", func(ctx context.Context, params map[string]any) (string, error) {
		names := a.registry.Snapshot().Names()
		if len(names) == 0 {
			return "no commands are registered", nil
		}
		sort.Strings(names)
		return "I know " + strings.Join(names, ", "), nil
	})

	a.actions.Register("assistant.reload_module", func(ctx context.Context, params map[string]any) (string, error) {
		name, err := stringParam(params, "module")
		if err != nil {
			return "", err
		}
		info, err := a.loader.Reload(name)
		if err != nil {
			return "", fmt.Errorf("reload %q: %w", name, err)
		}
		return fmt.Sprintf("reloaded %s with %d commands", info.Name, len(info.Commands)), nil
	})

	a.actions.Register("assistant.backup_module", func(ctx context.Context, params map[string]any) (string, error) {
		name, err := stringParam(params, "module")
		if err != nil {
			return "", err
		}
		stamp, err := a.loader.Backup(name, true)
		if err != nil {
			return "", fmt.Errorf("backup %q: %w", name, err)
		}
		return fmt.Sprintf("backed up %s as %s", name, stamp), nil
	})

	a.actions.Register("timer.set", func(ctx context.Context, params map[string]any) (string, error) {
		d, ok := params["duration"].(time.Duration)
		if !ok || d <= 0 {
			return "", errors.New("timer.set: duration parameter is required")
		}
		select {
		case <-time.After(d):
			return "time's up", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return v, nil
}

// spokenDuration renders a duration the way a person would say it.
func spokenDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours and %d minutes", int(d.Hours()), int(d.Minutes())%60)
	}
}

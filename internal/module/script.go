package module

import (
	"context"
	"fmt"
	"time"

	lua "github.com/Shopify/go-lua"

	"github.com/halvard/vesper/internal/action"
)

// compileScript syntax-checks the Lua script at path and returns an
// [action.Func] that executes it. The load-time check runs the file through
// a throwaway Lua state so broken scripts are rejected before any command
// is registered; each invocation then runs in a fresh state, so scripts
// cannot leak globals into each other or across runs.
//
// The bound parameters are exposed to the script as a global table named
// "params". A string returned by the script becomes the spoken response.
func compileScript(path string) (action.Func, error) {
	probe := lua.NewState()
	if err := lua.LoadFile(probe, path, ""); err != nil {
		return nil, fmt.Errorf("module: load script: %w", err)
	}

	fn := func(ctx context.Context, params map[string]any) (string, error) {
		type result struct {
			out string
			err error
		}
		done := make(chan result, 1)

		go func() {
			state := lua.NewState()
			lua.OpenLibraries(state)
			pushParams(state, params)
			state.SetGlobal("params")

			if err := lua.LoadFile(state, path, ""); err != nil {
				done <- result{err: fmt.Errorf("module: load script: %w", err)}
				return
			}
			if err := state.ProtectedCall(0, 1, 0); err != nil {
				done <- result{err: fmt.Errorf("module: run script: %w", err)}
				return
			}
			var out string
			if s, ok := state.ToString(-1); ok {
				out = s
			}
			done <- result{out: out}
		}()

		select {
		case r := <-done:
			return r.out, r.err
		case <-ctx.Done():
			// The Lua VM has no preemption hook; the goroutine is
			// abandoned and finishes on its own.
			return "", ctx.Err()
		}
	}
	return fn, nil
}

// pushParams leaves a Lua table mirroring params on top of the stack.
func pushParams(state *lua.State, params map[string]any) {
	state.NewTable()
	for key, val := range params {
		switch v := val.(type) {
		case string:
			state.PushString(v)
		case int64:
			state.PushInteger(int(v))
		case int:
			state.PushInteger(v)
		case float64:
			state.PushNumber(v)
		case bool:
			state.PushBoolean(v)
		case time.Duration:
			state.PushNumber(v.Seconds())
		default:
			state.PushString(fmt.Sprint(v))
		}
		state.SetField(-2, key)
	}
}

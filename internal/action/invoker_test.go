package action_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halvard/vesper/internal/action"
)

func TestRegistry_ResolveUnknown(t *testing.T) {
	t.Parallel()
	r := action.NewRegistry()
	_, err := r.Resolve("nope")
	if !errors.Is(err, action.ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
}

func TestRegistry_RegisterResolveUnregister(t *testing.T) {
	t.Parallel()
	r := action.NewRegistry()
	r.Register("greet", func(context.Context, map[string]any) (string, error) {
		return "hello", nil
	})

	fn, err := r.Resolve("greet")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, err := fn(context.Background(), nil)
	if err != nil || got != "hello" {
		t.Fatalf("fn() = %q, %v", got, err)
	}

	r.Unregister("greet")
	if r.Has("greet") {
		t.Error("greet should be unregistered")
	}
}

func TestInvoker_SingleFlight(t *testing.T) {
	t.Parallel()
	iv := action.NewInvoker()

	release := make(chan struct{})
	started := make(chan struct{})
	out, err := iv.Start(context.Background(), action.Invocation{
		Command: "slow",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			close(started)
			<-release
			return "done", nil
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	if !iv.Busy() {
		t.Error("Busy() = false while action runs")
	}
	_, err = iv.Start(context.Background(), action.Invocation{Command: "second"})
	if !errors.Is(err, action.ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}

	close(release)
	o := <-out
	if o.Err != nil || o.Result != "done" {
		t.Fatalf("outcome = %+v", o)
	}
	if iv.Busy() {
		t.Error("Busy() = true after completion")
	}
}

func TestInvoker_PanicRecovered(t *testing.T) {
	t.Parallel()
	iv := action.NewInvoker()
	out, err := iv.Start(context.Background(), action.Invocation{
		Command: "boom",
		Fn: func(context.Context, map[string]any) (string, error) {
			panic("kaboom")
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	o := <-out
	var exec *action.ExecutionError
	if !errors.As(o.Err, &exec) {
		t.Fatalf("err = %v, want ExecutionError", o.Err)
	}
	if !exec.Panicked {
		t.Error("Panicked should be set")
	}
	if iv.Busy() {
		t.Error("invoker should be free after a panic")
	}
}

func TestInvoker_Timeout(t *testing.T) {
	t.Parallel()
	iv := action.NewInvoker(action.WithTimeout(20 * time.Millisecond))
	out, err := iv.Start(context.Background(), action.Invocation{
		Command: "sleepy",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	o := <-out
	var exec *action.ExecutionError
	if !errors.As(o.Err, &exec) {
		t.Fatalf("err = %v, want ExecutionError", o.Err)
	}
	if !exec.TimedOut {
		t.Errorf("TimedOut should be set, got %+v", exec)
	}
}

func TestInvoker_CancelDiscardsResult(t *testing.T) {
	t.Parallel()
	iv := action.NewInvoker()

	started := make(chan struct{})
	out, err := iv.Start(context.Background(), action.Invocation{
		Command: "cancellable",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			close(started)
			<-ctx.Done()
			// Co-operative stop still produces a result; the Cancelled
			// flag tells the caller to drop it.
			return "partial", nil
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	if !iv.Cancel() {
		t.Fatal("Cancel() = false, want true while running")
	}
	o := <-out
	if !o.Cancelled {
		t.Errorf("outcome = %+v, want Cancelled", o)
	}
}

func TestInvoker_CancelIdleIsNoop(t *testing.T) {
	t.Parallel()
	iv := action.NewInvoker()
	if iv.Cancel() {
		t.Error("Cancel() on idle invoker should report false")
	}
}

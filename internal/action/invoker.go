package action

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultTimeout = 30 * time.Second

// Invocation is one resolved command ready to execute.
type Invocation struct {
	// Command is the command name, used for error reports and logging.
	Command string

	// Fn is the resolved action function.
	Fn Func

	// Params are the validated, bound parameter values.
	Params map[string]any
}

// Outcome is the settled result of an invocation.
type Outcome struct {
	// Command echoes the invocation's command name.
	Command string

	// Result is the action's spoken response. Empty on failure.
	Result string

	// Err is nil on success, otherwise an [*ExecutionError].
	Err error

	// Cancelled reports that cancellation was requested while the action
	// ran. The caller must discard Result when set, even on success —
	// actions that cannot stop cooperatively run to completion but their
	// output is never spoken.
	Cancelled bool

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// InvokerOption is a functional option for [NewInvoker].
type InvokerOption func(*Invoker)

// WithTimeout sets the per-action execution deadline. Default 30s.
func WithTimeout(d time.Duration) InvokerOption {
	return func(iv *Invoker) {
		if d > 0 {
			iv.timeout = d
		}
	}
}

// Invoker executes actions one at a time on a worker goroutine, guarding
// each call against panics and deadline overruns. Safe for concurrent use.
type Invoker struct {
	timeout time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	cancelled bool
}

// NewInvoker returns a ready-to-use [Invoker].
func NewInvoker(opts ...InvokerOption) *Invoker {
	iv := &Invoker{timeout: defaultTimeout}
	for _, o := range opts {
		o(iv)
	}
	return iv
}

// Busy reports whether an action is currently executing.
func (iv *Invoker) Busy() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.running
}

// Cancel requests cooperative cancellation of the running action and marks
// its eventual outcome as discarded. It reports whether an action was
// actually running.
func (iv *Invoker) Cancel() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if !iv.running {
		return false
	}
	iv.cancelled = true
	if iv.cancel != nil {
		iv.cancel()
	}
	return true
}

// Start launches inv on the worker. It returns [ErrBusy] while a previous
// action is still running; otherwise the returned channel delivers exactly
// one [Outcome] and is then closed.
//
// The action runs under a child context of ctx bounded by the configured
// timeout. A panic inside the action is recovered into an
// [*ExecutionError] with Panicked set; a deadline overrun yields one with
// TimedOut set.
func (iv *Invoker) Start(ctx context.Context, inv Invocation) (<-chan Outcome, error) {
	iv.mu.Lock()
	if iv.running {
		iv.mu.Unlock()
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	iv.running = true
	iv.cancel = cancel
	iv.cancelled = false
	iv.mu.Unlock()

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		start := time.Now()
		result, err := iv.guardedCall(runCtx, inv)
		cancel()

		iv.mu.Lock()
		cancelled := iv.cancelled
		iv.running = false
		iv.cancel = nil
		iv.mu.Unlock()

		out <- Outcome{
			Command:   inv.Command,
			Result:    result,
			Err:       err,
			Cancelled: cancelled,
			Duration:  time.Since(start),
		}
	}()
	return out, nil
}

// guardedCall runs the action with panic recovery and classifies failures.
func (iv *Invoker) guardedCall(ctx context.Context, inv Invocation) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{
				Command:  inv.Command,
				Cause:    fmt.Errorf("panic: %v", r),
				Panicked: true,
			}
		}
	}()

	result, callErr := inv.Fn(ctx, inv.Params)
	if callErr == nil {
		return result, nil
	}
	return "", &ExecutionError{
		Command:  inv.Command,
		Cause:    callErr,
		TimedOut: ctx.Err() == context.DeadlineExceeded,
	}
}

// Package poll runs a status check at a fixed interval until it reports a
// terminal state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultInterval is the wait between two consecutive checks.
const DefaultInterval = 5 * time.Second

var (
	ErrMaxAttempts = errors.New("poll: max attempts reached")
	ErrTimeout     = errors.New("poll: timed out")
	ErrStopped     = errors.New("poll: stopped")
)

// State of a polling task.
type State int

const (
	Queued State = iota
	Polling
	Completed
	Failed
	Errored
	Stopped
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Errored:
		return "errored"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s >= Completed
}

// Config bounds a polling task. Zero MaxAttempts or Timeout means no bound.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// Check performs one status request. Returning Polling schedules another
// check. Any error ends the task: as Failed when the returned state is
// Failed, as Errored otherwise.
type Check func(ctx context.Context, attempt int) (State, error)

// Task is a running poll loop.
type Task struct {
	cancel context.CancelCauseFunc
	done   chan struct{}

	lck      sync.Mutex
	state    State
	attempts int
	err      error
}

// Start launches the poll loop in a goroutine.
func Start(ctx context.Context, cfg Config, check Check) *Task {
	ctx, cancel := context.WithCancelCause(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel(nil)
		err := t.run(ctx, cfg, check)
		t.lck.Lock()
		t.err = err
		t.lck.Unlock()
	}()
	return t
}

// Run polls until a terminal state and returns the final error.
func Run(ctx context.Context, cfg Config, check Check) error {
	return Start(ctx, cfg, check).Wait()
}

// Stop cancels the task. It is safe to call it more than once or after
// the task ended.
func (t *Task) Stop() {
	t.cancel(ErrStopped)
}

// Wait blocks until the task ends.
func (t *Task) Wait() error {
	<-t.done
	t.lck.Lock()
	defer t.lck.Unlock()
	return t.err
}

// Done is closed when the task ends.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the current state.
func (t *Task) State() State {
	t.lck.Lock()
	defer t.lck.Unlock()
	return t.state
}

// Attempts returns the number of checks issued so far.
func (t *Task) Attempts() int {
	t.lck.Lock()
	defer t.lck.Unlock()
	return t.attempts
}

func (t *Task) set(s State) {
	t.lck.Lock()
	defer t.lck.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
}

func (t *Task) run(ctx context.Context, cfg Config, check Check) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout, ErrTimeout)
		defer cancel()
	}

	t.set(Polling)
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			t.set(Errored)
			return fmt.Errorf("%w (%d)", ErrMaxAttempts, cfg.MaxAttempts)
		}
		if err := t.canceled(ctx); err != nil {
			return err
		}

		t.lck.Lock()
		t.attempts = attempt
		t.lck.Unlock()

		// A timeout or stop during the check wins over its result.
		state, err := check(ctx, attempt)
		if cerr := t.canceled(ctx); cerr != nil {
			return cerr
		}
		switch {
		case err != nil && state == Failed:
			t.set(Failed)
			return err
		case err != nil:
			t.set(Errored)
			return err
		case state == Completed:
			t.set(Completed)
			return nil
		case state == Failed:
			t.set(Failed)
			return errors.New("poll: failed")
		}

		// Non terminal, wait for the next check.
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return t.canceled(ctx)
		case <-timer.C:
		}
	}
}

// canceled returns a non nil error if the task must end before the next
// check.
func (t *Task) canceled(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrStopped):
		t.set(Stopped)
		return ErrStopped
	case errors.Is(cause, ErrTimeout):
		t.set(Errored)
		return ErrTimeout
	}
	t.set(Errored)
	return fmt.Errorf("poll: %w", cause)
}

package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	lck   sync.Mutex
	times []time.Time
}

func (r *recorder) add() int {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.times = append(r.times, time.Now())
	return len(r.times)
}

func (r *recorder) gaps() []time.Duration {
	r.lck.Lock()
	defer r.lck.Unlock()
	var gaps []time.Duration
	for i := 1; i < len(r.times); i++ {
		gaps = append(gaps, r.times[i].Sub(r.times[i-1]))
	}
	return gaps
}

func TestRunCompleted(t *testing.T) {
	interval := 20 * time.Millisecond
	seq := []State{Polling, Polling, Polling, Completed}
	var rec recorder
	err := Run(context.Background(), Config{Interval: interval}, func(ctx context.Context, attempt int) (State, error) {
		n := rec.add()
		if n != attempt {
			t.Errorf("attempt = %d; want %d", attempt, n)
		}
		return seq[n-1], nil
	})
	if err != nil {
		t.Fatalf("Run() err = %v; want nil", err)
	}
	gaps := rec.gaps()
	if len(gaps) != 3 {
		t.Fatalf("requests = %d; want 4", len(gaps)+1)
	}
	for i, g := range gaps {
		if g < interval {
			t.Fatalf("gap %d = %s; want >= %s", i, g, interval)
		}
	}
}

func TestRunFailed(t *testing.T) {
	errFailed := errors.New("generation failed")
	var calls int
	task := Start(context.Background(), Config{Interval: time.Millisecond}, func(ctx context.Context, attempt int) (State, error) {
		calls++
		if calls == 2 {
			return Failed, errFailed
		}
		return Polling, nil
	})
	if err := task.Wait(); !errors.Is(err, errFailed) {
		t.Fatalf("Wait() err = %v; want %v", err, errFailed)
	}
	if got := task.State(); got != Failed {
		t.Fatalf("State() = %s; want %s", got, Failed)
	}
	// No further checks once terminal.
	time.Sleep(10 * time.Millisecond)
	if calls != 2 {
		t.Fatalf("calls = %d; want 2", calls)
	}
}

func TestRunErrored(t *testing.T) {
	errNet := errors.New("connection reset")
	var calls int
	task := Start(context.Background(), Config{Interval: time.Millisecond}, func(ctx context.Context, attempt int) (State, error) {
		calls++
		return Polling, errNet
	})
	if err := task.Wait(); !errors.Is(err, errNet) {
		t.Fatalf("Wait() err = %v; want %v", err, errNet)
	}
	if got := task.State(); got != Errored {
		t.Fatalf("State() = %s; want %s", got, Errored)
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestRunMaxAttempts(t *testing.T) {
	var calls int
	err := Run(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 3}, func(ctx context.Context, attempt int) (State, error) {
		calls++
		return Polling, nil
	})
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("Run() err = %v; want %v", err, ErrMaxAttempts)
	}
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestRunTimeout(t *testing.T) {
	err := Run(context.Background(), Config{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, func(ctx context.Context, attempt int) (State, error) {
		return Polling, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() err = %v; want %v", err, ErrTimeout)
	}
}

func TestRunTimeoutDuringCheck(t *testing.T) {
	var calls int
	task := Start(context.Background(), Config{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond, MaxAttempts: 6}, func(ctx context.Context, attempt int) (State, error) {
		calls++
		if attempt == 1 {
			time.Sleep(80 * time.Millisecond)
		}
		return Polling, nil
	})
	if err := task.Wait(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrTimeout)
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
	if got := task.State(); got != Errored {
		t.Fatalf("State() = %s; want %s", got, Errored)
	}
}

func TestRunTimeoutBeforeCompleted(t *testing.T) {
	task := Start(context.Background(), Config{Interval: 10 * time.Millisecond, Timeout: 20 * time.Millisecond}, func(ctx context.Context, attempt int) (State, error) {
		time.Sleep(40 * time.Millisecond)
		return Completed, nil
	})
	err := task.Wait()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrTimeout)
	}
	if got := task.State(); got != Errored {
		t.Fatalf("State() = %s; want %s", got, Errored)
	}
}

func TestStop(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	task := Start(context.Background(), Config{Interval: time.Hour}, func(ctx context.Context, attempt int) (State, error) {
		once.Do(func() { close(started) })
		return Polling, nil
	})
	<-started
	task.Stop()
	if err := task.Wait(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrStopped)
	}
	if got := task.State(); got != Stopped {
		t.Fatalf("State() = %s; want %s", got, Stopped)
	}
	if got := task.Attempts(); got != 1 {
		t.Fatalf("Attempts() = %d; want 1", got)
	}
	// Stopping twice is a no-op.
	task.Stop()
}

func TestParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Start(ctx, Config{Interval: time.Hour}, func(ctx context.Context, attempt int) (State, error) {
		return Polling, nil
	})
	cancel()
	err := task.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() err = %v; want %v", err, context.Canceled)
	}
	if got := task.State(); got != Errored {
		t.Fatalf("State() = %s; want %s", got, Errored)
	}
}

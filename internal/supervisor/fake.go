package supervisor

import (
	"context"
	"sync"
)

// Fake is an in-memory Supervisor for tests. Hooks run with the lock
// released and may return an error to simulate supervisor failures.
type Fake struct {
	mu      sync.Mutex
	running bool
	pid     int
	nextPID int

	Starts, Stops, Restarts, Reloads int

	// OnStart runs before a start takes effect.
	OnStart func() error
	// StopErr, RestartErr and StatusErr are returned by the matching call.
	StopErr    error
	RestartErr error
	StatusErr  error
}

// NewFake returns a stopped Fake.
func NewFake() *Fake {
	return &Fake{nextPID: 1000}
}

// SetRunning forces the running state, e.g. to simulate a process that
// survived a restart of this service.
func (f *Fake) SetRunning(running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRunningLocked(running)
}

func (f *Fake) setRunningLocked(running bool) {
	f.running = running
	if running {
		f.nextPID++
		f.pid = f.nextPID
	} else {
		f.pid = 0
	}
}

func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	hook := f.OnStart
	f.Starts++
	f.mu.Unlock()

	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		f.setRunningLocked(true)
	}
	return nil
}

func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops++
	if f.StopErr != nil {
		return f.StopErr
	}
	f.setRunningLocked(false)
	return nil
}

func (f *Fake) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Restarts++
	if f.RestartErr != nil {
		return f.RestartErr
	}
	f.setRunningLocked(true)
	return nil
}

func (f *Fake) Status(ctx context.Context) (ProcessStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return ProcessStatus{State: StateUnknown}, f.StatusErr
	}
	if f.running {
		return ProcessStatus{State: StateRunning, PID: f.pid}, nil
	}
	return ProcessStatus{State: StateStopped}, nil
}

func (f *Fake) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reloads++
	return nil
}

// Counts returns the call counters under the lock.
func (f *Fake) Counts() (starts, stops, restarts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Starts, f.Stops, f.Restarts
}

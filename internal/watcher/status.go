package watcher

import "time"

// State is a step of the watcher lifecycle:
// created -> starting -> (healthy <-> running) <-> retrying -> stopping -> terminated.
type State string

const (
	StateCreated    State = "created"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateRunning    State = "running"
	StateRetrying   State = "retrying"
	StateStopping   State = "stopping"
	StateTerminated State = "terminated"
)

// Status is a read-only snapshot of a watcher
type Status struct {
	Name        string
	State       State
	Enabled     bool
	Alive       bool
	Terminated  bool
	Retries     int
	Profiles    int
	LastError   string
	LastHealthy time.Time
	StartedAt   time.Time
}

// Status returns the current snapshot
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:        w.name,
		State:       w.state,
		Enabled:     w.enabled.Load(),
		Alive:       w.alive.Load(),
		Terminated:  w.terminated.Load(),
		Retries:     w.retries,
		Profiles:    len(w.announced),
		LastHealthy: w.lastHealthy,
		StartedAt:   w.startedAt,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

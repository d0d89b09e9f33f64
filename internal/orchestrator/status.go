package orchestrator

import "github.com/podshell/podshell/internal/watcher"

// SinkStatus is a snapshot of a registered sink
type SinkStatus struct {
	Name      string
	Enabled   bool
	Available bool
	BackedUp  bool
}

// Watchers returns a snapshot of every registered watcher in registration
// order.
func (o *Orchestrator) Watchers() []watcher.Status {
	entries := o.watcherEntries()
	out := make([]watcher.Status, 0, len(entries))
	for _, entry := range entries {
		st := o.currentWatcher(entry).Status()
		st.Name = entry.name
		out = append(out, st)
	}
	return out
}

// Sinks returns a snapshot of every registered sink in registration order.
func (o *Orchestrator) Sinks() []SinkStatus {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()

	out := make([]SinkStatus, 0, len(o.sinkOrder))
	for _, name := range o.sinkOrder {
		entry := o.sinks[name]
		out = append(out, SinkStatus{
			Name:      name,
			Enabled:   entry.enabled,
			Available: entry.sink.Available(),
			BackedUp:  entry.backedUp,
		})
	}
	return out
}

// WatcherNames lists registered watcher names
func (o *Orchestrator) WatcherNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.watcherOrder...)
}

// SinkNames lists registered sink names
func (o *Orchestrator) SinkNames() []string {
	return append([]string(nil), o.sinkOrder...)
}

// Package orchestrator owns the registries of watchers and profile sinks and
// routes watcher events into the enabled sinks.
//
// Locking: adminMu serializes the administrative operations, routeMu
// serializes event routing with every sink call and every subscriber call,
// and mu guards the registries. A watcher delivers events while holding its
// own emit lock, so the orchestrator never calls into a watcher while
// holding routeMu or mu.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/podshell/podshell/internal/events"
	"github.com/podshell/podshell/internal/metrics"
	"github.com/podshell/podshell/internal/sink"
	"github.com/podshell/podshell/internal/watcher"
	"github.com/podshell/podshell/pkg/logging"
	"github.com/podshell/podshell/pkg/tracing"
)

var (
	// ErrDuplicateName is returned by New when two factories produce the same name
	ErrDuplicateName = errors.New("duplicate name")
	// ErrUnknownWatcher is returned for a watcher name that is not registered
	ErrUnknownWatcher = errors.New("unknown watcher")
	// ErrUnknownSink is returned for a sink name that is not registered
	ErrUnknownSink = errors.New("unknown sink")
)

// WatcherFactory builds a fresh backend. It is called again every time a
// watcher is restarted.
type WatcherFactory func() watcher.Backend

// SinkFactory builds a sink. It is called once.
type SinkFactory func() sink.Sink

// Config configures an Orchestrator
type Config struct {
	Watchers []WatcherFactory
	Sinks    []SinkFactory

	// Subscriber receives every event observed or synthesized, in routing order
	Subscriber events.Handler

	// StopTimeout bounds each watcher stop (default watcher.DefaultStopTimeout)
	StopTimeout time.Duration

	// HealthTimeout bounds the health check made by Start
	HealthTimeout time.Duration

	Backoff watcher.Backoff
	Logger  *logging.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
}

type watcherEntry struct {
	name    string
	factory WatcherFactory
	current *watcher.Watcher
}

type sinkEntry struct {
	sink     sink.Sink
	enabled  bool
	backedUp bool
}

// Orchestrator coordinates watchers and sinks
type Orchestrator struct {
	config  Config
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	publish events.Handler

	adminMu sync.Mutex
	routeMu sync.Mutex

	mu           sync.RWMutex
	watcherOrder []string
	watchers     map[string]*watcherEntry
	sinkOrder    []string
	sinks        map[string]*sinkEntry
}

// New constructs one sink per sink factory and one watcher per watcher
// factory. Colliding names are fatal.
func New(config Config) (*Orchestrator, error) {
	if config.StopTimeout <= 0 {
		config.StopTimeout = watcher.DefaultStopTimeout
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("podshell")
	}

	o := &Orchestrator{
		config:   config,
		logger:   logger,
		metrics:  config.Metrics,
		tracer:   tracer,
		publish:  events.Fanout(config.Subscriber, config.Metrics.HandleEvent),
		watchers: make(map[string]*watcherEntry),
		sinks:    make(map[string]*sinkEntry),
	}

	for _, factory := range config.Sinks {
		s := factory()
		name := s.Name()
		if _, exists := o.sinks[name]; exists {
			return nil, fmt.Errorf("%w: sink %q", ErrDuplicateName, name)
		}
		o.sinks[name] = &sinkEntry{sink: s}
		o.sinkOrder = append(o.sinkOrder, name)
	}

	for _, factory := range config.Watchers {
		w := o.newWatcher(factory)
		name := w.Name()
		if _, exists := o.watchers[name]; exists {
			return nil, fmt.Errorf("%w: watcher %q", ErrDuplicateName, name)
		}
		o.watchers[name] = &watcherEntry{name: name, factory: factory, current: w}
		o.watcherOrder = append(o.watcherOrder, name)
	}

	logger.Debug("Orchestrator initialized", map[string]interface{}{
		"watchers": len(o.watcherOrder),
		"sinks":    len(o.sinkOrder),
	})
	return o, nil
}

func (o *Orchestrator) newWatcher(factory WatcherFactory) *watcher.Watcher {
	return watcher.New(factory(), o.route,
		watcher.WithBackoff(o.config.Backoff),
		watcher.WithLogger(o.logger),
	)
}

// Start backs up and enables every available sink, then starts every watcher
// whose health check passes. Unhealthy watchers stay registered, un-started.
// When a repeated Start enables a sink, alive watchers are restarted so the
// sink receives their current profiles.
func (o *Orchestrator) Start() {
	o.adminMu.Lock()
	defer o.adminMu.Unlock()

	newlyEnabled := false
	for _, name := range o.sinkOrder {
		entry := o.sinks[name]
		if !entry.sink.Available() {
			o.logger.Info("Sink not available", map[string]interface{}{"sink": name})
			continue
		}
		if o.markEnabled(entry) {
			newlyEnabled = true
			o.logger.Info("Sink enabled", map[string]interface{}{"sink": name})
		}
	}
	if newlyEnabled {
		o.restartAlive()
	}

	for _, entry := range o.watcherEntries() {
		w := o.currentWatcher(entry)
		if w.Alive() {
			continue
		}
		if w.Terminated() {
			w = o.replace(entry)
		}

		ctx, cancel := context.WithTimeout(context.Background(), o.config.HealthTimeout)
		err := w.HealthCheck(ctx)
		cancel()
		if err != nil {
			o.logger.Warn("Watcher not started, health check failed", map[string]interface{}{
				"watcher": entry.name,
				"error":   err.Error(),
			})
			o.notify(events.New(entry.name, events.KindWarning, fmt.Sprintf("%s watcher not started: %v", entry.name, err)))
			continue
		}
		w.SetEnabled(true)
		w.Start()
	}
	o.updateGauges()
}

// Stop stops every alive watcher and disables every sink. Nothing is
// unregistered.
func (o *Orchestrator) Stop() {
	o.adminMu.Lock()
	defer o.adminMu.Unlock()

	for _, entry := range o.watcherEntries() {
		w := o.currentWatcher(entry)
		w.SetEnabled(false)
		if w.Alive() {
			o.stopWatcher(w)
		}
	}

	o.routeMu.Lock()
	for _, name := range o.sinkOrder {
		o.sinks[name].enabled = false
	}
	o.refreshGauges()
	o.routeMu.Unlock()

	o.logger.Info("Orchestrator stopped")
}

// ToggleSink enables or disables a sink at runtime. Enabling restarts every
// alive watcher so the sink receives their current profiles; disabling
// clears their groups from that sink.
func (o *Orchestrator) ToggleSink(name string, enable bool) error {
	o.adminMu.Lock()
	defer o.adminMu.Unlock()

	entry, ok := o.sinks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSink, name)
	}

	_, span := o.tracer.Start(context.Background(), "orchestrator.toggle_sink",
		trace.WithAttributes(attribute.String("sink", name), attribute.Bool("enable", enable)))
	defer span.End()

	if enable {
		o.notify(events.New(name, events.KindStarting, name+" sink enabling"))
		o.enableSink(entry)
	} else {
		o.notify(events.New(name, events.KindStopping, name+" sink disabling"))
		o.disableSink(entry)
	}
	o.notify(events.Healthy(name))
	o.updateGauges()
	return nil
}

func (o *Orchestrator) enableSink(entry *sinkEntry) {
	name := entry.sink.Name()
	if o.sinkEnabled(entry) {
		return
	}
	if !entry.sink.Available() {
		o.notify(events.New(name, events.KindWarning, name+" sink not available"))
		return
	}
	if o.markEnabled(entry) {
		o.restartAlive()
	}
}

func (o *Orchestrator) sinkEnabled(entry *sinkEntry) bool {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()
	return entry.enabled
}

// markEnabled backs up and enables entry. It reports false when the sink
// was already enabled.
func (o *Orchestrator) markEnabled(entry *sinkEntry) bool {
	if o.sinkEnabled(entry) {
		return false
	}
	o.backupOnce(entry)
	o.routeMu.Lock()
	entry.enabled = true
	o.routeMu.Unlock()
	return true
}

// restartAlive has every alive watcher announce its profiles again, so a
// freshly enabled sink learns the live state.
func (o *Orchestrator) restartAlive() {
	for _, we := range o.watcherEntries() {
		if w := o.currentWatcher(we); w.Alive() {
			o.restart(we, w)
		}
	}
}

func (o *Orchestrator) disableSink(entry *sinkEntry) {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()

	entry.enabled = false
	for _, we := range o.watcherEntries() {
		if !o.currentWatcher(we).Alive() {
			continue
		}
		group := we.name
		o.apply(context.Background(), entry, sink.OpRemoveGroup, group, func() error {
			return entry.sink.RemoveGroup(group)
		})
	}
}

// ToggleWatcher starts or stops a watcher. A terminated watcher is replaced
// by a fresh instance before starting.
func (o *Orchestrator) ToggleWatcher(name string, enable bool) error {
	o.adminMu.Lock()
	defer o.adminMu.Unlock()

	o.mu.RLock()
	entry, ok := o.watchers[name]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWatcher, name)
	}

	_, span := o.tracer.Start(context.Background(), "orchestrator.toggle_watcher",
		trace.WithAttributes(attribute.String("watcher", name), attribute.Bool("enable", enable)))
	defer span.End()

	w := o.currentWatcher(entry)
	if enable {
		if w.Terminated() {
			w = o.replace(entry)
		}
		w.SetEnabled(true)
		w.Start()
	} else {
		w.SetEnabled(false)
		if w.Alive() {
			o.stopWatcher(w)
		}
	}

	o.notify(events.Healthy(name))
	o.updateGauges()
	return nil
}

// restart retires w and runs a fresh instance under the same name
func (o *Orchestrator) restart(entry *watcherEntry, w *watcher.Watcher) {
	o.logger.Info("Restarting watcher", map[string]interface{}{"watcher": entry.name})
	o.stopWatcher(w)
	next := o.replace(entry)
	next.SetEnabled(true)
	next.Start()
	o.metrics.WatcherRestarted(entry.name)
}

func (o *Orchestrator) stopWatcher(w *watcher.Watcher) {
	if !w.Stop(o.config.StopTimeout) {
		o.logger.Warn("Watcher still running after stop timeout", map[string]interface{}{
			"watcher": w.Name(),
			"timeout": o.config.StopTimeout.String(),
		})
	}
}

// replace registers a new, un-started instance for entry
func (o *Orchestrator) replace(entry *watcherEntry) *watcher.Watcher {
	w := o.newWatcher(entry.factory)
	if w.Name() != entry.name {
		o.logger.Warn("Watcher factory produced a different name", map[string]interface{}{
			"registered": entry.name,
			"produced":   w.Name(),
		})
	}
	o.mu.Lock()
	entry.current = w
	o.mu.Unlock()
	return w
}

func (o *Orchestrator) backupOnce(entry *sinkEntry) {
	if entry.backedUp {
		return
	}
	o.routeMu.Lock()
	defer o.routeMu.Unlock()
	o.apply(context.Background(), entry, sink.OpBackup, "", entry.sink.Backup)
	// a failed backup is reported and not retried
	entry.backedUp = true
}

// route receives every watcher event. It runs on the watcher's goroutine.
func (o *Orchestrator) route(e events.Event) {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()

	ctx, span := o.tracer.Start(context.Background(), "orchestrator.route",
		trace.WithAttributes(
			attribute.String("source", e.Source),
			attribute.String("kind", string(e.Kind)),
		))
	defer span.End()

	o.publish(e)

	switch e.Kind {
	case events.KindStarting, events.KindStopping, events.KindWarning:
		o.eachEnabledSink(func(entry *sinkEntry) {
			o.apply(ctx, entry, sink.OpRemoveGroup, e.Source, func() error {
				return entry.sink.RemoveGroup(e.Source)
			})
		})
		o.refreshGauges()

	case events.KindAddProfile:
		if e.Profile == nil {
			o.logger.Warn("ADD_PROFILE without profile", map[string]interface{}{"source": e.Source})
			return
		}
		p := *e.Profile
		o.eachEnabledSink(func(entry *sinkEntry) {
			o.apply(ctx, entry, sink.OpAdd, p.Name, func() error {
				return entry.sink.AddProfile(p, e.Source)
			})
		})
		o.publish(events.Healthy(e.Source))

	case events.KindRemoveProfile:
		name := e.ProfileName
		if name == "" && e.Profile != nil {
			name = e.Profile.Name
		}
		o.eachEnabledSink(func(entry *sinkEntry) {
			o.apply(ctx, entry, sink.OpRemove, name, func() error {
				return entry.sink.RemoveProfile(name)
			})
		})
		o.publish(events.Healthy(e.Source))

	case events.KindHealthy:
		o.refreshGauges()
	}
}

// apply runs one sink operation. Failures and panics are confined to that
// sink and surface as a WARNING from the sink. Callers hold routeMu.
func (o *Orchestrator) apply(ctx context.Context, entry *sinkEntry, op, target string, fn func() error) {
	name := entry.sink.Name()
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = sink.NewError(name, op, target, fmt.Errorf("panic: %v", r))
			}
		}()
		return fn()
	}()

	o.metrics.ObserveSinkOp(name, op, time.Since(start), err)
	if err == nil {
		return
	}

	var serr *sink.Error
	if !errors.As(err, &serr) {
		err = sink.NewError(name, op, target, err)
	}
	tracing.SetError(ctx, err)
	o.logger.Warn("Sink operation failed", map[string]interface{}{
		"sink":   name,
		"op":     op,
		"target": target,
		"error":  err.Error(),
	})
	o.publish(events.New(name, events.KindWarning, err.Error()))
}

func (o *Orchestrator) eachEnabledSink(fn func(entry *sinkEntry)) {
	for _, name := range o.sinkOrder {
		if entry := o.sinks[name]; entry.enabled {
			fn(entry)
		}
	}
}

// notify publishes an orchestrator event without routing it to sinks
func (o *Orchestrator) notify(e events.Event) {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()
	o.publish(e)
}

func (o *Orchestrator) watcherEntries() []*watcherEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*watcherEntry, 0, len(o.watcherOrder))
	for _, name := range o.watcherOrder {
		out = append(out, o.watchers[name])
	}
	return out
}

func (o *Orchestrator) currentWatcher(entry *watcherEntry) *watcher.Watcher {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return entry.current
}

func (o *Orchestrator) updateGauges() {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()
	o.refreshGauges()
}

// refreshGauges requires routeMu
func (o *Orchestrator) refreshGauges() {
	if o.metrics == nil {
		return
	}
	alive := 0
	for _, entry := range o.watcherEntries() {
		if o.currentWatcher(entry).Alive() {
			alive++
		}
	}
	enabled := 0
	for _, name := range o.sinkOrder {
		if o.sinks[name].enabled {
			enabled++
		}
	}
	o.metrics.SetRegistryState(alive, enabled)
}

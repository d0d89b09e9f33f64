// Package watcher runs backend observers in the background and turns what
// they see into events.
//
// A Backend knows how to probe and observe one backend (a container runtime,
// an ssh client configuration). Watcher wraps a Backend with the lifecycle
// every backend shares: health checking, unbounded retries with backoff,
// cooperative cancellation and exactly one terminal stop. A stopped Watcher
// never runs again; callers construct a new one instead.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/podshell/podshell/internal/events"
	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/pkg/logging"
)

const (
	defaultHealthTimeout = 10 * time.Second
	// DefaultStopTimeout bounds how long Stop waits for the run loop.
	DefaultStopTimeout = time.Second
)

// Backend is implemented by concrete backend observers.
type Backend interface {
	// Name identifies the backend; it becomes the event source and the
	// profile group name.
	Name() string
	// HealthCheck is a cheap liveness probe without side effects.
	HealthCheck(ctx context.Context) error
	// Watch blocks while observing the backend and reports every profile
	// change through r. It must return promptly once ctx is done.
	Watch(ctx context.Context, r Reporter) error
}

// Reporter receives profile changes from a running Backend.
type Reporter interface {
	AddProfile(p profile.TerminalProfile)
	RemoveProfile(name string)
}

// Option configures a Watcher
type Option func(*Watcher)

// WithBackoff sets the retry policy
func WithBackoff(b Backoff) Option {
	return func(w *Watcher) { w.backoff = b.withDefaults() }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithHealthTimeout bounds each health check
func WithHealthTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.healthTimeout = d
		}
	}
}

// Watcher drives a Backend through its lifecycle
type Watcher struct {
	name          string
	backend       Backend
	handler       events.Handler
	backoff       Backoff
	healthTimeout time.Duration
	logger        *logging.Logger

	// emitMu orders every emitted event with the terminated transition so
	// nothing is delivered after STOPPING.
	emitMu     sync.Mutex
	terminated atomic.Bool
	started    atomic.Bool
	alive      atomic.Bool
	enabled    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.RWMutex
	state       State
	retries     int
	lastErr     error
	lastHealthy time.Time
	startedAt   time.Time
	announced   map[string]bool
}

// New creates a watcher for b delivering events to handler
func New(b Backend, handler events.Handler, opts ...Option) *Watcher {
	if handler == nil {
		handler = events.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		name:          b.Name(),
		backend:       b,
		handler:       handler,
		backoff:       DefaultBackoff(),
		healthTimeout: defaultHealthTimeout,
		logger:        logging.Nop(),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		state:         StateCreated,
		announced:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithField("watcher", w.name)
	return w
}

func (w *Watcher) Name() string { return w.name }

// Alive reports whether the run loop is executing
func (w *Watcher) Alive() bool { return w.alive.Load() }

// Terminated reports whether Stop has been called. Terminal.
func (w *Watcher) Terminated() bool { return w.terminated.Load() }

func (w *Watcher) Enabled() bool { return w.enabled.Load() }

func (w *Watcher) SetEnabled(enabled bool) { w.enabled.Store(enabled) }

// Done is closed once the run loop has exited
func (w *Watcher) Done() <-chan struct{} { return w.done }

// HealthCheck probes the backend once, outside of the run loop
func (w *Watcher) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.healthTimeout)
	defer cancel()
	return w.healthCheck(ctx)
}

// Start launches the run loop. It returns false without doing anything when
// the watcher was already started or has been terminated.
func (w *Watcher) Start() bool {
	if w.terminated.Load() {
		w.logger.Debug("Start ignored, watcher terminated")
		return false
	}
	if !w.started.CompareAndSwap(false, true) {
		return false
	}

	w.mu.Lock()
	w.state = StateStarting
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.alive.Store(true)
	go w.run()
	return true
}

// Stop terminates the watcher and waits up to timeout for the run loop to
// exit. Cancellation is cooperative: a backend that ignores its context
// outlives the call, in which case Stop returns false.
func (w *Watcher) Stop(timeout time.Duration) bool {
	w.emitMu.Lock()
	if w.terminated.Load() {
		w.emitMu.Unlock()
		return w.wait(timeout)
	}
	w.terminated.Store(true)
	w.setState(StateStopping)
	w.cancel()
	w.handler(events.New(w.name, events.KindStopping, w.name+" watcher stopping"))
	w.emitMu.Unlock()

	if !w.started.Load() {
		w.setState(StateTerminated)
		return true
	}
	return w.wait(timeout)
}

func (w *Watcher) wait(timeout time.Duration) bool {
	if !w.started.Load() {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		w.logger.Warn("Watcher did not exit within stop timeout", map[string]interface{}{"timeout": timeout.String()})
		return false
	}
}

func (w *Watcher) run() {
	defer func() {
		w.setState(StateTerminated)
		w.alive.Store(false)
		close(w.done)
	}()

	w.emit(events.New(w.name, events.KindStarting, w.name+" watcher starting"))

	for !w.terminated.Load() {
		err := w.cycle()
		if w.terminated.Load() {
			return
		}
		w.retry(err)
	}
}

// cycle runs one health check and, when healthy, one Watch call. It always
// returns a non-nil *Error describing why the cycle ended.
func (w *Watcher) cycle() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(w.name, ErrorException, fmt.Errorf("panic: %v", r))
		}
	}()

	hctx, cancel := context.WithTimeout(w.ctx, w.healthTimeout)
	herr := w.healthCheck(hctx)
	cancel()
	if herr != nil {
		return newError(w.name, ErrorUnhealthy, herr)
	}

	w.mu.Lock()
	w.retries = 0
	w.lastErr = nil
	w.lastHealthy = time.Now()
	w.state = StateHealthy
	w.announced = make(map[string]bool)
	w.mu.Unlock()

	w.emit(events.New(w.name, events.KindHealthy, w.name+" watcher healthy"))
	w.setState(StateRunning)

	if werr := w.backend.Watch(w.ctx, reporter{w: w}); werr != nil {
		return newError(w.name, ErrorException, werr)
	}
	return newError(w.name, ErrorClosed, nil)
}

func (w *Watcher) healthCheck(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health check panic: %v", r)
		}
	}()
	return w.backend.HealthCheck(ctx)
}

func (w *Watcher) retry(err error) {
	w.mu.Lock()
	w.retries++
	attempt := w.retries
	w.lastErr = err
	w.state = StateRetrying
	w.mu.Unlock()

	delay := w.backoff.Delay(attempt)
	message := fmt.Sprintf("%s, waiting %s...", err, delay)
	if w.backoff.Exceeded(attempt) {
		message = fmt.Sprintf("%s, too many retries, waiting %s...", err, delay)
	}

	w.logger.Warn("Watch cycle failed", map[string]interface{}{
		"kind":    KindOf(err).String(),
		"attempt": attempt,
		"delay":   delay.String(),
		"error":   err.Error(),
	})
	w.emit(events.New(w.name, events.KindWarning, message))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
	case <-timer.C:
	}
}

// emit delivers e unless the watcher has been terminated.
func (w *Watcher) emit(e events.Event) bool {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	if w.terminated.Load() {
		return false
	}
	w.handler(e)
	return true
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	if w.state != StateTerminated {
		w.state = s
	}
	w.mu.Unlock()
}

type reporter struct {
	w *Watcher
}

func (r reporter) AddProfile(p profile.TerminalProfile) {
	if r.w.emit(events.AddProfile(r.w.name, p)) {
		r.w.mu.Lock()
		r.w.announced[p.Name] = true
		r.w.mu.Unlock()
	}
}

func (r reporter) RemoveProfile(name string) {
	if r.w.emit(events.RemoveProfile(r.w.name, name)) {
		r.w.mu.Lock()
		delete(r.w.announced, name)
		r.w.mu.Unlock()
	}
}

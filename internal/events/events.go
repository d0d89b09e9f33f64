// Package events defines the notifications exchanged between watchers, the
// orchestrator and observers.
package events

import (
	"fmt"
	"time"

	"github.com/podshell/podshell/internal/profile"
)

// Kind is the type of an Event.
type Kind string

const (
	KindAddProfile    Kind = "ADD_PROFILE"
	KindRemoveProfile Kind = "REMOVE_PROFILE"
	KindWarning       Kind = "WARNING"
	KindStarting      Kind = "STARTING"
	KindStopping      Kind = "STOPPING"
	KindHealthy       Kind = "HEALTHY"
)

// Event describes something that happened to a watcher, a sink or a profile.
// Events are values; nothing retains or mutates them after delivery.
type Event struct {
	Source  string
	Kind    Kind
	Message string
	// Profile is set for ADD_PROFILE.
	Profile *profile.TerminalProfile
	// ProfileName identifies the profile for REMOVE_PROFILE.
	ProfileName string
	Time        time.Time
}

// New creates an event without payload.
func New(source string, kind Kind, message string) Event {
	return Event{Source: source, Kind: kind, Message: message, Time: time.Now()}
}

// AddProfile creates an ADD_PROFILE event carrying p.
func AddProfile(source string, p profile.TerminalProfile) Event {
	e := New(source, KindAddProfile, p.String())
	e.Profile = &p
	return e
}

// RemoveProfile creates a REMOVE_PROFILE event for the named profile.
func RemoveProfile(source, name string) Event {
	e := New(source, KindRemoveProfile, name)
	e.ProfileName = name
	return e
}

// Healthy creates the HEALTHY event sent when an operation completed.
func Healthy(source string) Event {
	return New(source, KindHealthy, "Last operation completed successfully")
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s - %s", e.Kind, e.Source, e.Message)
}

// Handler receives events synchronously. Handlers must not block materially.
type Handler func(Event)

// Fanout returns a Handler delivering each event to every non-nil handler in order.
func Fanout(handlers ...Handler) Handler {
	hs := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return func(e Event) {
		for _, h := range hs {
			h(e)
		}
	}
}

// Discard drops events.
func Discard(Event) {}

// Package sink defines the contract for terminal-emulator profile stores and
// the file helpers shared by the concrete implementations.
//
// Every Sink applies the same upsert semantics. The profile name is the
// dedup key: adding a name that is already stored leaves the stored entry
// untouched but still associates it with the group. Removing a group deletes
// every profile tagged with it that no other group references, and drops the
// group itself. A Sink serializes its own mutations; two Sinks never block
// each other.
package sink

import (
	"fmt"
	"time"

	"github.com/podshell/podshell/internal/profile"
)

// DefaultRetention is how long backups are kept
const DefaultRetention = 7 * 24 * time.Hour

// Sink mutates one terminal emulator's profile store
type Sink interface {
	Name() string
	// Available probes the environment without side effects
	Available() bool
	AddProfile(p profile.TerminalProfile, group string) error
	RemoveProfile(name string) error
	RemoveGroup(group string) error
	// Backup snapshots the persisted store. Best effort.
	Backup() error
}

// Entry is a stored profile with the groups referencing it
type Entry struct {
	Name        string
	CommandLine string
	ID          string
	Groups      []string
}

// Inspector is implemented by sinks that can list their managed profiles
type Inspector interface {
	Profiles() ([]Entry, error)
}

// Operation names used in errors and metrics
const (
	OpAdd         = "add_profile"
	OpRemove      = "remove_profile"
	OpRemoveGroup = "remove_group"
	OpBackup      = "backup"
)

// Error wraps a failed store operation
type Error struct {
	Sink      string
	Op        string
	Target    string // profile or group name
	Err       error
	Timestamp time.Time
}

// NewError creates a sink error
func NewError(sink, op, target string, err error) *Error {
	return &Error{Sink: sink, Op: op, Target: target, Err: err, Timestamp: time.Now()}
}

// Error implements error interface
func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s %q failed: %v", e.Sink, e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Sink, e.Op, e.Err)
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

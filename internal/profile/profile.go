package profile

import (
	"fmt"

	"github.com/google/uuid"
)

// TerminalProfile is a launch shortcut for a terminal emulator.
// Name is unique within the namespace of the watcher that produced it.
type TerminalProfile struct {
	Name        string
	CommandLine string
	// ID is generated once per value and never reused. Sinks that need a
	// stable identity (Windows Terminal guids) store it.
	ID string
}

// New creates a profile with a fresh braced GUID id.
func New(name, commandLine string) TerminalProfile {
	return TerminalProfile{
		Name:        name,
		CommandLine: commandLine,
		ID:          "{" + uuid.NewString() + "}",
	}
}

func (p TerminalProfile) String() string {
	return fmt.Sprintf("TerminalProfile(name=%s, commandline=%s, id=%s)", p.Name, p.CommandLine, p.ID)
}

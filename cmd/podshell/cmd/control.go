package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/podshell/podshell/internal/events"
	"github.com/podshell/podshell/internal/orchestrator"
	"github.com/podshell/podshell/internal/watcher"
)

type controlAction int

const (
	actionStatus controlAction = iota
	actionSink
	actionWatcher
	actionQuit
	actionHelp
)

// control is one parsed line of the interactive control loop
type control struct {
	action controlAction
	name   string
	on     bool
}

const controlHelp = `commands:
  status                      show watchers and sinks
  sink <name> on|off          enable or disable a profile sink
  watcher <name> on|off       enable or disable a watcher
  quit                        stop and exit`

var errEmptyLine = errors.New("empty line")

// parseControl parses a control line. Names may contain spaces, so the
// switch is always the last word.
func parseControl(line string) (control, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return control{}, errEmptyLine
	}

	switch strings.ToLower(fields[0]) {
	case "status":
		return control{action: actionStatus}, nil
	case "quit", "exit":
		return control{action: actionQuit}, nil
	case "help", "?":
		return control{action: actionHelp}, nil
	case "sink", "watcher":
		if len(fields) < 3 {
			return control{}, fmt.Errorf("usage: %s <name> on|off", fields[0])
		}
		var on bool
		switch strings.ToLower(fields[len(fields)-1]) {
		case "on", "enable":
			on = true
		case "off", "disable":
		default:
			return control{}, fmt.Errorf("expected on or off, got %q", fields[len(fields)-1])
		}
		action := actionSink
		if strings.EqualFold(fields[0], "watcher") {
			action = actionWatcher
		}
		return control{action: action, name: strings.Join(fields[1:len(fields)-1], " "), on: on}, nil
	default:
		return control{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// controller is the part of the orchestrator the control loop drives
type controller interface {
	ToggleSink(name string, enable bool) error
	ToggleWatcher(name string, enable bool) error
	Watchers() []watcher.Status
	Sinks() []orchestrator.SinkStatus
}

// apply executes c and reports whether the loop should end
func (c control) apply(o controller, out io.Writer) (bool, error) {
	switch c.action {
	case actionStatus:
		renderWatchers(out, o.Watchers())
		renderSinks(out, o.Sinks())
	case actionSink:
		return false, o.ToggleSink(c.name, c.on)
	case actionWatcher:
		return false, o.ToggleWatcher(c.name, c.on)
	case actionHelp:
		fmt.Fprintln(out, controlHelp)
	case actionQuit:
		return true, nil
	}
	return false, nil
}

// consoleWriter serializes writes from the event printer and the control
// loop. Each Write lands on the terminal whole.
type consoleWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleWriter(w io.Writer) *consoleWriter {
	return &consoleWriter{w: w}
}

func (c *consoleWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

// runControlLoop reads control lines until quit or EOF, then calls done.
// The reply to each line is written to out in a single Write.
func runControlLoop(in io.Reader, o controller, out io.Writer, done func()) {
	defer done()

	var reply bytes.Buffer
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c, err := parseControl(scanner.Text())
		if errors.Is(err, errEmptyLine) {
			continue
		}
		reply.Reset()
		if err != nil {
			fmt.Fprintf(&reply, "%v\n%s\n", err, controlHelp)
			out.Write(reply.Bytes())
			continue
		}
		quit, err := c.apply(o, &reply)
		if err != nil {
			fmt.Fprintf(&reply, "error: %v\n", err)
		}
		if reply.Len() > 0 {
			out.Write(reply.Bytes())
		}
		if quit {
			return
		}
	}
}

// newEventPrinter prints every event as "KIND: source - message", one Write
// per event.
func newEventPrinter(out io.Writer) events.Handler {
	healthy := color.New(color.FgGreen).SprintFunc()
	warning := color.New(color.FgYellow).SprintFunc()
	return func(e events.Event) {
		line := e.String()
		switch e.Kind {
		case events.KindHealthy:
			line = healthy(line)
		case events.KindWarning:
			line = warning(line)
		}
		io.WriteString(out, line+"\n")
	}
}

func renderWatchers(out io.Writer, statuses []watcher.Status) {
	table := tablewriter.NewWriter(out)
	table.Header("Watcher", "State", "Enabled", "Alive", "Profiles", "Retries", "Up", "Last Error")
	for _, st := range statuses {
		table.Append(
			st.Name,
			string(st.State),
			yesNo(st.Enabled),
			yesNo(st.Alive),
			fmt.Sprintf("%d", st.Profiles),
			fmt.Sprintf("%d", st.Retries),
			since(st.StartedAt),
			st.LastError,
		)
	}
	table.Render()
}

func renderSinks(out io.Writer, statuses []orchestrator.SinkStatus) {
	table := tablewriter.NewWriter(out)
	table.Header("Sink", "Enabled", "Available", "Backed Up")
	for _, st := range statuses {
		table.Append(st.Name, yesNo(st.Enabled), yesNo(st.Available), yesNo(st.BackedUp))
	}
	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String()
}

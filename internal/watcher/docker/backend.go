// Package docker announces running containers as terminal profiles by
// following the docker command line client.
package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/watcher"
	"github.com/podshell/podshell/pkg/logging"
)

// Name is the watcher name and profile group of this backend
const Name = "Docker"

const (
	defaultShell  = "/bin/sh"
	systemSocket  = "/var/run/docker.sock"
	maxEventBytes = 1 << 20
)

// Config configures the docker backend
type Config struct {
	// Command is the docker executable (resolved from PATH by default)
	Command string

	// Shell is executed inside the container (default /bin/sh)
	Shell string

	// Host overrides DOCKER_HOST for every docker invocation
	Host string

	Runner Runner
	Logger *logging.Logger
}

// Backend implements watcher.Backend on top of `docker ps` and `docker events`
type Backend struct {
	config *Config
	runner Runner
	logger *logging.Logger

	systemSocket string
	homeDir      func() (string, error)
}

// New creates a docker backend
func New(config *Config) *Backend {
	if config == nil {
		config = &Config{}
	}
	if config.Command == "" {
		config.Command = "docker"
		if path, err := exec.LookPath("docker"); err == nil {
			config.Command = path
		}
	}
	if config.Shell == "" {
		config.Shell = defaultShell
	}

	runner := config.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Backend{
		config:       config,
		runner:       runner,
		logger:       logger.WithField("backend", Name),
		systemSocket: systemSocket,
		homeDir:      os.UserHomeDir,
	}
}

func (b *Backend) Name() string { return Name }

// CommandLine returns the launch command for a container
func (b *Backend) CommandLine(container string) string {
	return fmt.Sprintf("%s exec -it %s %s", b.config.Command, container, b.config.Shell)
}

// HealthCheck succeeds when the daemon answers `docker info`
func (b *Backend) HealthCheck(ctx context.Context) error {
	_, err := b.runner.Output(ctx, b.env(), b.config.Command, "info", "--format", "{{json .ServerVersion}}")
	return err
}

// Containers lists the names of running containers
func (b *Backend) Containers(ctx context.Context) ([]string, error) {
	return b.containers(ctx, b.env())
}

type psLine struct {
	Names string `json:"Names"`
}

func (b *Backend) containers(ctx context.Context, env []string) ([]string, error) {
	out, err := b.runner.Output(ctx, env, b.config.Command, "ps", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ps psLine
		if err := json.Unmarshal([]byte(line), &ps); err != nil {
			return nil, fmt.Errorf("decode docker ps output: %w", err)
		}
		// linked containers list several comma separated names
		if name, _, _ := strings.Cut(ps.Names, ","); name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}

type containerEvent struct {
	Type   string `json:"Type"`
	Action string `json:"Action"`
	Actor  struct {
		ID         string            `json:"ID"`
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
}

// Watch announces running containers and then follows container start, stop
// and die events until ctx is done or the event stream ends.
func (b *Backend) Watch(ctx context.Context, r watcher.Reporter) error {
	env := b.env()

	// subscribe before listing so no container start falls between the two
	stream, err := b.runner.Stream(ctx, env, b.config.Command, "events",
		"--filter", "type=container",
		"--filter", "event=start",
		"--filter", "event=stop",
		"--filter", "event=die",
		"--format", "{{json .}}")
	if err != nil {
		return err
	}
	defer stream.Close()
	stopClose := context.AfterFunc(ctx, func() { stream.Close() })
	defer stopClose()

	names, err := b.containers(ctx, env)
	if err != nil {
		return err
	}
	for _, name := range names {
		r.AddProfile(profile.New(name, b.CommandLine(name)))
	}
	b.logger.Info("Watching docker events", map[string]interface{}{"containers": len(names)})

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev containerEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			b.logger.Warn("Skipping undecodable docker event", map[string]interface{}{"error": err.Error()})
			continue
		}
		b.handleEvent(ev, r)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read docker events: %w", err)
	}
	return nil
}

func (b *Backend) handleEvent(ev containerEvent, r watcher.Reporter) {
	if ev.Type != "" && ev.Type != "container" {
		return
	}
	name := ev.Actor.Attributes["name"]
	if name == "" {
		return
	}

	b.logger.Debug("Docker event", map[string]interface{}{"action": ev.Action, "container": name})
	switch ev.Action {
	case "start":
		r.AddProfile(profile.New(name, b.CommandLine(name)))
	case "stop", "die":
		r.RemoveProfile(name)
	}
}

// env returns extra environment for docker invocations. Without an explicit
// host, and when neither DOCKER_HOST nor the system socket exist, the
// per-user socket under ~/.docker/run is used if present.
func (b *Backend) env() []string {
	if b.config.Host != "" {
		return []string{"DOCKER_HOST=" + b.config.Host}
	}
	if os.Getenv("DOCKER_HOST") != "" || fileExists(b.systemSocket) {
		return nil
	}
	home, err := b.homeDir()
	if err != nil {
		return nil
	}
	userSocket := filepath.Join(home, ".docker", "run", "docker.sock")
	if !fileExists(userSocket) {
		return nil
	}
	b.logger.Debug("Using docker socket from home directory", map[string]interface{}{"socket": userSocket})
	return []string{"DOCKER_HOST=unix://" + userSocket}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

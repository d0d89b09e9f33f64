// Package sshconfig announces the hosts of an ssh client configuration file
// as terminal profiles and follows edits to that file.
package sshconfig

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/watcher"
	"github.com/podshell/podshell/pkg/logging"
)

// Name is the watcher name and profile group of this backend
const Name = "SSH"

// Config configures the ssh backend
type Config struct {
	// ConfigFile is the ssh client configuration (default ~/.ssh/config)
	ConfigFile string

	// Command is the ssh executable used in launch commands
	Command string

	// PollInterval is how often the file mtime is compared when no
	// filesystem notification arrives
	PollInterval time.Duration

	// MinReloadInterval throttles bursts of reloads
	MinReloadInterval time.Duration

	Logger *logging.Logger
}

// DefaultConfigFile returns ~/.ssh/config
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ssh", "config")
	}
	return filepath.Join(home, ".ssh", "config")
}

// DefaultCommand resolves the ssh executable from PATH
func DefaultCommand() string {
	name := "ssh"
	if runtime.GOOS == "windows" {
		name = "ssh.exe"
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

// Backend implements watcher.Backend for an ssh client configuration
type Backend struct {
	config  *Config
	limiter *rate.Limiter
	logger  *logging.Logger
}

// New creates an ssh backend
func New(config *Config) *Backend {
	if config == nil {
		config = &Config{}
	}
	if config.ConfigFile == "" {
		config.ConfigFile = DefaultConfigFile()
	}
	if config.Command == "" {
		config.Command = DefaultCommand()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MinReloadInterval <= 0 {
		config.MinReloadInterval = time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Backend{
		config:  config,
		limiter: rate.NewLimiter(rate.Every(config.MinReloadInterval), 1),
		logger:  logger.WithField("backend", Name),
	}
}

func (b *Backend) Name() string { return Name }

// ConfigFile returns the watched path
func (b *Backend) ConfigFile() string { return b.config.ConfigFile }

// HealthCheck succeeds when the configuration file exists
func (b *Backend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(b.config.ConfigFile)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", b.config.ConfigFile)
	}
	return nil
}

// Hosts parses the configuration file once
func (b *Backend) Hosts() ([]Host, error) {
	return ParseFile(b.config.ConfigFile)
}

// Watch announces every connectable host, then reloads the file whenever it
// changes and reports the difference.
func (b *Backend) Watch(ctx context.Context, r watcher.Reporter) error {
	path := filepath.Clean(b.config.ConfigFile)
	b.logger.Info("Watching ssh config file", map[string]interface{}{"path": path})

	// alias -> command line of every profile announced during this call
	announced := make(map[string]string)

	modTime, err := b.reload(path, announced, r)
	if err != nil {
		return err
	}

	var notify <-chan fsnotify.Event
	var notifyErrs <-chan error
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		b.logger.Warn("File notifications unavailable, polling only", map[string]interface{}{"error": err.Error()})
	} else {
		defer fsw.Close()
		// the directory is watched so editors that replace the file are seen
		if err := fsw.Add(filepath.Dir(path)); err != nil {
			b.logger.Warn("Could not watch ssh config directory", map[string]interface{}{"error": err.Error()})
		} else {
			notify = fsw.Events
			notifyErrs = fsw.Errors
		}
	}

	ticker := time.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		changed := false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			changed = filepath.Clean(ev.Name) == path &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
		case nerr, ok := <-notifyErrs:
			if !ok {
				notifyErrs = nil
				continue
			}
			b.logger.Warn("File notification error", map[string]interface{}{"error": nerr.Error()})
		case <-ticker.C:
			info, serr := os.Stat(path)
			if serr != nil {
				return serr
			}
			changed = !info.ModTime().Equal(modTime)
		}

		if !changed {
			continue
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		b.logger.Debug("SSH config file modified", map[string]interface{}{"path": path})
		if modTime, err = b.reload(path, announced, r); err != nil {
			return err
		}
	}
}

// reload parses path and reports the changes relative to announced, which it
// updates in place. Changed hosts are removed before being re-added.
func (b *Backend) reload(path string, announced map[string]string, r watcher.Reporter) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	hosts, err := ParseFile(path)
	if err != nil {
		return time.Time{}, err
	}

	desired := make(map[string]string, len(hosts))
	order := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if !h.Connectable() {
			continue
		}
		if _, dup := desired[h.Alias]; dup {
			continue
		}
		desired[h.Alias] = h.CommandLine(b.config.Command)
		order = append(order, h.Alias)
	}

	for alias, cmd := range announced {
		if next, ok := desired[alias]; !ok || next != cmd {
			r.RemoveProfile(alias)
			delete(announced, alias)
		}
	}
	for _, alias := range order {
		if _, ok := announced[alias]; ok {
			continue
		}
		r.AddProfile(profile.New(alias, desired[alias]))
		announced[alias] = desired[alias]
	}

	b.logger.Debug("SSH config loaded", map[string]interface{}{
		"hosts":    len(hosts),
		"profiles": len(announced),
	})
	return info.ModTime(), nil
}

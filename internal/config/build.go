package config

import (
	"time"

	"github.com/podshell/podshell/internal/orchestrator"
	"github.com/podshell/podshell/internal/sink"
	"github.com/podshell/podshell/internal/sink/iterm2"
	"github.com/podshell/podshell/internal/sink/windowsterminal"
	"github.com/podshell/podshell/internal/watcher"
	"github.com/podshell/podshell/internal/watcher/docker"
	"github.com/podshell/podshell/internal/watcher/sshconfig"
	"github.com/podshell/podshell/pkg/logging"
	"github.com/podshell/podshell/pkg/tracing"
)

// NewLogger builds the process logger from the log section
func (c *LogConfig) NewLogger() (*logging.Logger, error) {
	level := logging.ParseLevel(c.Level)
	if c.File != "" {
		return logging.NewFileLogger(c.File, level, c.JSON)
	}
	return logging.NewLogger(level, c.JSON), nil
}

// ToBackoff converts the watch section to a retry policy
func (c *WatchConfig) ToBackoff() (watcher.Backoff, error) {
	short, err := parseDuration("watch.retry_short", c.RetryShort)
	if err != nil {
		return watcher.Backoff{}, err
	}
	long, err := parseDuration("watch.retry_long", c.RetryLong)
	if err != nil {
		return watcher.Backoff{}, err
	}
	return watcher.Backoff{Short: short, Long: long, Threshold: c.RetryThreshold}, nil
}

// ToDockerConfig converts the docker section
func (c *DockerConfig) ToDockerConfig(logger *logging.Logger) *docker.Config {
	return &docker.Config{
		Command: c.Command,
		Shell:   c.Shell,
		Host:    c.Host,
		Logger:  logger,
	}
}

// ToSSHConfig converts the ssh section
func (c *SSHConfig) ToSSHConfig(logger *logging.Logger) (*sshconfig.Config, error) {
	poll, err := parseDuration("ssh.poll_interval", c.PollInterval)
	if err != nil {
		return nil, err
	}
	return &sshconfig.Config{
		ConfigFile:   c.ConfigFile,
		Command:      c.Command,
		PollInterval: poll,
		Logger:       logger,
	}, nil
}

// TracingConfig converts the tracing section
func (c *Config) TracingConfig(version string) tracing.Config {
	return tracing.Config{
		ServiceName:    "podshell",
		ServiceVersion: version,
		OTLPEndpoint:   c.Tracing.Endpoint,
		Enabled:        c.Tracing.Enabled,
	}
}

// Watchers returns a factory for every enabled watcher backend. Each call
// of a factory builds an independent backend.
func (c *Config) Watchers(logger *logging.Logger) ([]orchestrator.WatcherFactory, error) {
	var factories []orchestrator.WatcherFactory

	if c.Docker.Enabled {
		factories = append(factories, func() watcher.Backend {
			return docker.New(c.Docker.ToDockerConfig(logger))
		})
	}

	if c.SSH.Enabled {
		sshCfg, err := c.SSH.ToSSHConfig(logger)
		if err != nil {
			return nil, err
		}
		factories = append(factories, func() watcher.Backend {
			// sshconfig.New fills defaults into the config it is given
			cfg := *sshCfg
			return sshconfig.New(&cfg)
		})
	}

	return factories, nil
}

// Sinks returns a factory for every enabled profile sink
func (c *Config) Sinks(logger *logging.Logger) ([]orchestrator.SinkFactory, error) {
	retention, err := parseDuration("backup.retention", c.Backup.Retention)
	if err != nil {
		return nil, err
	}

	var factories []orchestrator.SinkFactory
	if c.WindowsTerminal.Enabled {
		factories = append(factories, func() sink.Sink {
			return windowsterminal.New(&windowsterminal.Config{
				SettingsFile: c.WindowsTerminal.SettingsFile,
				Retention:    retention,
				Logger:       logger,
			})
		})
	}
	if c.ITerm2.Enabled {
		factories = append(factories, func() sink.Sink {
			return iterm2.New(&iterm2.Config{
				ProfilesDir: c.ITerm2.ProfilesDir,
				Retention:   retention,
				Logger:      logger,
			})
		})
	}
	return factories, nil
}

// Orchestrator assembles an orchestrator configuration. Subscriber, metrics
// and tracer are left for the caller.
func (c *Config) Orchestrator(logger *logging.Logger) (orchestrator.Config, error) {
	if err := c.Validate(); err != nil {
		return orchestrator.Config{}, err
	}

	watchers, err := c.Watchers(logger)
	if err != nil {
		return orchestrator.Config{}, err
	}
	sinks, err := c.Sinks(logger)
	if err != nil {
		return orchestrator.Config{}, err
	}
	backoff, err := c.Watch.ToBackoff()
	if err != nil {
		return orchestrator.Config{}, err
	}
	stop, err := parseDuration("watch.stop_timeout", c.Watch.StopTimeout)
	if err != nil {
		return orchestrator.Config{}, err
	}

	return orchestrator.Config{
		Watchers:      watchers,
		Sinks:         sinks,
		StopTimeout:   stop,
		HealthTimeout: 10 * time.Second,
		Backoff:       backoff,
		Logger:        logger,
	}, nil
}

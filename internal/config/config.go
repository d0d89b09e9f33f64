// Package config holds the podshell configuration model, its defaults and
// the file loader.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete podshell configuration
type Config struct {
	Log             LogConfig             `yaml:"log" toml:"log" json:"log" mapstructure:"log"`
	Watch           WatchConfig           `yaml:"watch" toml:"watch" json:"watch" mapstructure:"watch"`
	Docker          DockerConfig          `yaml:"docker" toml:"docker" json:"docker" mapstructure:"docker"`
	SSH             SSHConfig             `yaml:"ssh" toml:"ssh" json:"ssh" mapstructure:"ssh"`
	WindowsTerminal WindowsTerminalConfig `yaml:"windows_terminal" toml:"windows_terminal" json:"windows_terminal" mapstructure:"windows_terminal"`
	ITerm2          ITerm2Config          `yaml:"iterm2" toml:"iterm2" json:"iterm2" mapstructure:"iterm2"`
	Backup          BackupConfig          `yaml:"backup" toml:"backup" json:"backup" mapstructure:"backup"`
	Metrics         MetricsConfig         `yaml:"metrics" toml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing         TracingConfig         `yaml:"tracing" toml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level string `yaml:"level" toml:"level" json:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" toml:"json" json:"json" mapstructure:"json"`
	File  string `yaml:"file" toml:"file" json:"file" mapstructure:"file"` // empty = stdout
}

// WatchConfig controls the watcher lifecycle
type WatchConfig struct {
	StopTimeout    string `yaml:"stop_timeout" toml:"stop_timeout" json:"stop_timeout" mapstructure:"stop_timeout"`
	RetryShort     string `yaml:"retry_short" toml:"retry_short" json:"retry_short" mapstructure:"retry_short"`
	RetryLong      string `yaml:"retry_long" toml:"retry_long" json:"retry_long" mapstructure:"retry_long"`
	RetryThreshold int    `yaml:"retry_threshold" toml:"retry_threshold" json:"retry_threshold" mapstructure:"retry_threshold"`
}

// DockerConfig configures the container watcher
type DockerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled" mapstructure:"enabled"`
	Command string `yaml:"command" toml:"command" json:"command" mapstructure:"command"` // empty = resolved from PATH
	Shell   string `yaml:"shell" toml:"shell" json:"shell" mapstructure:"shell"`
	Host    string `yaml:"host" toml:"host" json:"host" mapstructure:"host"` // DOCKER_HOST override
}

// SSHConfig configures the ssh client configuration watcher
type SSHConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled" json:"enabled" mapstructure:"enabled"`
	ConfigFile   string `yaml:"config_file" toml:"config_file" json:"config_file" mapstructure:"config_file"`
	Command      string `yaml:"command" toml:"command" json:"command" mapstructure:"command"`
	PollInterval string `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval" mapstructure:"poll_interval"`
}

// WindowsTerminalConfig configures the Windows Terminal sink
type WindowsTerminalConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled" json:"enabled" mapstructure:"enabled"`
	SettingsFile string `yaml:"settings_file" toml:"settings_file" json:"settings_file" mapstructure:"settings_file"`
}

// ITerm2Config configures the iTerm2 sink
type ITerm2Config struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled" json:"enabled" mapstructure:"enabled"`
	ProfilesDir string `yaml:"profiles_dir" toml:"profiles_dir" json:"profiles_dir" mapstructure:"profiles_dir"`
}

// BackupConfig controls sink backups
type BackupConfig struct {
	Retention string `yaml:"retention" toml:"retention" json:"retention" mapstructure:"retention"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr" mapstructure:"addr"` // empty = disabled
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Watch: WatchConfig{
			StopTimeout:    "1s",
			RetryShort:     "5s",
			RetryLong:      "30s",
			RetryThreshold: 12,
		},
		Docker:          DockerConfig{Enabled: true, Shell: "/bin/sh"},
		SSH:             SSHConfig{Enabled: true, PollInterval: "5s"},
		WindowsTerminal: WindowsTerminalConfig{Enabled: true},
		ITerm2:          ITerm2Config{Enabled: true},
		Backup:          BackupConfig{Retention: "168h"},
		Tracing:         TracingConfig{Endpoint: "localhost:4318"},
	}
}

// Load reads a configuration file over the defaults. The format is chosen
// by extension: .yaml/.yml, .toml or .json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".toml":
		err = toml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level %q", c.Log.Level))
	}

	for _, d := range []struct{ key, value string }{
		{"watch.stop_timeout", c.Watch.StopTimeout},
		{"watch.retry_short", c.Watch.RetryShort},
		{"watch.retry_long", c.Watch.RetryLong},
		{"ssh.poll_interval", c.SSH.PollInterval},
		{"backup.retention", c.Backup.Retention},
	} {
		if _, err := parseDuration(d.key, d.value); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Watch.RetryThreshold < 1 {
		errs = append(errs, fmt.Errorf("watch.retry_threshold must be at least 1, got %d", c.Watch.RetryThreshold))
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("invalid metrics.addr: %w", err))
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}

// Settings flattens the configuration into dotted keys
func (c *Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                      c.Log.Level,
		"log.json":                       c.Log.JSON,
		"log.file":                       c.Log.File,
		"watch.stop_timeout":             c.Watch.StopTimeout,
		"watch.retry_short":              c.Watch.RetryShort,
		"watch.retry_long":               c.Watch.RetryLong,
		"watch.retry_threshold":          c.Watch.RetryThreshold,
		"docker.enabled":                 c.Docker.Enabled,
		"docker.command":                 c.Docker.Command,
		"docker.shell":                   c.Docker.Shell,
		"docker.host":                    c.Docker.Host,
		"ssh.enabled":                    c.SSH.Enabled,
		"ssh.config_file":                c.SSH.ConfigFile,
		"ssh.command":                    c.SSH.Command,
		"ssh.poll_interval":              c.SSH.PollInterval,
		"windows_terminal.enabled":       c.WindowsTerminal.Enabled,
		"windows_terminal.settings_file": c.WindowsTerminal.SettingsFile,
		"iterm2.enabled":                 c.ITerm2.Enabled,
		"iterm2.profiles_dir":            c.ITerm2.ProfilesDir,
		"backup.retention":               c.Backup.Retention,
		"metrics.addr":                   c.Metrics.Addr,
		"tracing.enabled":                c.Tracing.Enabled,
		"tracing.endpoint":               c.Tracing.Endpoint,
	}
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// ExampleConfig is a commented configuration with every key at its default
const ExampleConfig = `# podshell configuration

log:
  level: info        # debug, info, warn, error
  json: false        # structured JSON instead of console output
  file: ""           # empty = stdout

# Watcher lifecycle
watch:
  stop_timeout: "1s"     # how long a stop waits for a watcher to exit
  retry_short: "5s"      # delay between retries while failures <= retry_threshold
  retry_long: "30s"      # delay once retry_threshold is exceeded
  retry_threshold: 12

# Running containers become "docker exec" profiles
docker:
  enabled: true
  command: ""        # empty = docker from PATH
  shell: /bin/sh
  host: ""           # DOCKER_HOST override

# Hosts from the ssh client configuration become ssh profiles
ssh:
  enabled: true
  config_file: ""    # empty = ~/.ssh/config
  command: ""        # empty = ssh from PATH
  poll_interval: "5s"

windows_terminal:
  enabled: true
  settings_file: ""  # empty = located under LOCALAPPDATA

iterm2:
  enabled: true
  profiles_dir: ""   # empty = ~/Library/Application Support/iTerm2/DynamicProfiles

backup:
  retention: "168h"  # backups older than this are pruned

metrics:
  addr: ""           # e.g. "127.0.0.1:9464" serves /metrics and /health

tracing:
  enabled: false
  endpoint: localhost:4318   # OTLP HTTP collector
`

// Package iterm2 manages podshell profiles as an iTerm2 dynamic profiles
// file. Groups are stored as profile tags.
package iterm2

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/sink"
	"github.com/podshell/podshell/pkg/logging"
)

// Name is the sink name
const Name = "iTerm2"

const (
	appTag   = "podshell"
	fileName = "podshell.json"
	// profile name followed by the running job and its arguments
	titleComponents = 544
)

// Config configures the sink
type Config struct {
	// ProfilesDir overrides the DynamicProfiles directory
	ProfilesDir string

	// BackupDir defaults to DynamicProfilesBackup next to ProfilesDir.
	// iTerm2 loads every file in ProfilesDir, so backups must live elsewhere.
	BackupDir string

	Retention time.Duration
	Logger    *logging.Logger
}

// DefaultProfilesDir returns ~/Library/Application Support/iTerm2/DynamicProfiles
func DefaultProfilesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support", "iTerm2", "DynamicProfiles")
}

type dynamicProfile struct {
	Name            string   `json:"Name"`
	GUID            string   `json:"Guid"`
	CustomCommand   string   `json:"Custom Command"`
	Command         string   `json:"Command"`
	Tags            []string `json:"Tags"`
	TitleComponents int      `json:"Title Components"`
}

type profilesFile struct {
	Profiles []dynamicProfile `json:"Profiles"`
}

// Sink writes podshell.json into the dynamic profiles directory
type Sink struct {
	config   *Config
	explicit bool
	path     string
	logger   *logging.Logger

	mu sync.Mutex
}

// New creates the sink
func New(config *Config) *Sink {
	if config == nil {
		config = &Config{}
	}
	explicit := config.ProfilesDir != ""
	if !explicit {
		config.ProfilesDir = DefaultProfilesDir()
	}
	if config.BackupDir == "" {
		config.BackupDir = filepath.Join(filepath.Dir(config.ProfilesDir), "DynamicProfilesBackup")
	}
	if config.Retention <= 0 {
		config.Retention = sink.DefaultRetention
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sink{
		config:   config,
		explicit: explicit,
		path:     filepath.Join(config.ProfilesDir, fileName),
		logger:   logger.WithField("sink", Name),
	}
}

func (s *Sink) Name() string { return Name }

// File returns the managed profiles file
func (s *Sink) File() string { return s.path }

// Available reports whether the profiles directory exists. Without an
// explicit directory this requires macOS.
func (s *Sink) Available() bool {
	if !s.explicit && runtime.GOOS != "darwin" {
		return false
	}
	info, err := os.Stat(s.config.ProfilesDir)
	return err == nil && info.IsDir()
}

func (s *Sink) AddProfile(p profile.TerminalProfile, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(func(f *profilesFile) bool {
		for i := range f.Profiles {
			if f.Profiles[i].Name != p.Name {
				continue
			}
			s.logger.Debug("Profile already exists", map[string]interface{}{"profile": p.Name})
			if group == "" || hasTag(f.Profiles[i].Tags, group) {
				return false
			}
			f.Profiles[i].Tags = append(f.Profiles[i].Tags, group)
			return true
		}

		tags := []string{appTag}
		if group != "" {
			tags = append(tags, group)
		}
		f.Profiles = append(f.Profiles, dynamicProfile{
			Name:            p.Name,
			GUID:            p.ID,
			CustomCommand:   "Yes",
			Command:         p.CommandLine,
			Tags:            tags,
			TitleComponents: titleComponents,
		})
		return true
	})
	if err != nil {
		return sink.NewError(Name, sink.OpAdd, p.Name, err)
	}
	return nil
}

func (s *Sink) RemoveProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(func(f *profilesFile) bool {
		kept := f.Profiles[:0]
		for _, dp := range f.Profiles {
			if dp.Name != name {
				kept = append(kept, dp)
			}
		}
		changed := len(kept) != len(f.Profiles)
		f.Profiles = kept
		return changed
	})
	if err != nil {
		return sink.NewError(Name, sink.OpRemove, name, err)
	}
	return nil
}

func (s *Sink) RemoveGroup(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(func(f *profilesFile) bool {
		changed := false
		kept := f.Profiles[:0]
		for _, dp := range f.Profiles {
			if !hasTag(dp.Tags, group) {
				kept = append(kept, dp)
				continue
			}
			changed = true
			dp.Tags = removeTag(dp.Tags, group)
			if len(groups(dp.Tags)) > 0 {
				kept = append(kept, dp)
			}
		}
		f.Profiles = kept
		return changed
	})
	if err != nil {
		return sink.NewError(Name, sink.OpRemoveGroup, group, err)
	}
	return nil
}

// Backup copies podshell.json into the backup directory and prunes old
// copies.
func (s *Sink) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst, err := sink.BackupFile(s.path, s.config.BackupDir, s.config.Retention, time.Now())
	if err != nil {
		return sink.NewError(Name, sink.OpBackup, "", err)
	}
	if dst == "" {
		s.logger.Debug("Profiles file not found, backup skipped", map[string]interface{}{"path": s.path})
		return nil
	}
	s.logger.Info("Profiles backed up", map[string]interface{}{"backup": dst})
	return nil
}

func (s *Sink) Profiles() ([]sink.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]sink.Entry, 0, len(f.Profiles))
	for _, dp := range f.Profiles {
		out = append(out, sink.Entry{
			Name:        dp.Name,
			CommandLine: dp.Command,
			ID:          dp.GUID,
			Groups:      groups(dp.Tags),
		})
	}
	return out, nil
}

func (s *Sink) update(fn func(f *profilesFile) bool) error {
	f, err := s.load()
	if err != nil {
		return err
	}
	if !fn(f) {
		return nil
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return sink.WriteFileAtomic(s.path, data, 0o644)
}

func (s *Sink) load() (*profilesFile, error) {
	f := &profilesFile{}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("malformed profiles file %s: %w", s.path, err)
	}
	return f, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func removeTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

// groups returns the tags other than the application tag
func groups(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != appTag {
			out = append(out, t)
		}
	}
	return out
}

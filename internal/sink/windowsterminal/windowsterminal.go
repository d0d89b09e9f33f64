// Package windowsterminal manages podshell profiles inside a Windows Terminal
// settings.json file.
//
// Profiles are appended to profiles.list. Each group is a folder entry of
// newTabMenu that references its profiles by guid. Edits are made in place
// so everything else in the file is preserved.
package windowsterminal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/sink"
	"github.com/podshell/podshell/pkg/logging"
)

// Name is the sink name
const Name = "Windows Terminal"

const (
	menuPath      = "newTabMenu"
	backupDirName = "podshell-backups"
)

var prettyOptions = &pretty.Options{Width: 80, Indent: "    "}

// Config configures the sink
type Config struct {
	// SettingsFile overrides settings.json discovery
	SettingsFile string

	// BackupDir defaults to a directory next to the settings file
	BackupDir string

	// Retention defaults to sink.DefaultRetention
	Retention time.Duration

	Logger *logging.Logger
}

// Sink edits a Windows Terminal settings.json
type Sink struct {
	config   *Config
	explicit bool
	logger   *logging.Logger

	mu   sync.Mutex
	path string
}

// New creates the sink. The settings file is located lazily when no
// explicit path is configured.
func New(config *Config) *Sink {
	if config == nil {
		config = &Config{}
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
		explicit: config.SettingsFile != "",
		path:     config.SettingsFile,
		logger:   logger.WithField("sink", Name),
	}
}

func (s *Sink) Name() string { return Name }

// SettingsFile returns the resolved settings.json path, or "" when not found
func (s *Sink) SettingsFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve()
}

// Available reports whether a settings file can be edited. Without an
// explicit path this requires Windows.
func (s *Sink) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.explicit && runtime.GOOS != "windows" {
		return false
	}
	path := s.resolve()
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *Sink) resolve() string {
	if s.path == "" {
		s.path = LocateSettings(os.Getenv("LOCALAPPDATA"))
	}
	return s.path
}

// LocateSettings returns the first existing settings.json among the stable
// packaged, preview packaged and unpackaged install locations.
func LocateSettings(localAppData string) string {
	if localAppData == "" {
		return ""
	}
	candidates := []string{
		filepath.Join(localAppData, "Packages", "Microsoft.WindowsTerminal_8wekyb3d8bbwe", "LocalState", "settings.json"),
		filepath.Join(localAppData, "Packages", "Microsoft.WindowsTerminalPreview_8wekyb3d8bbwe", "LocalState", "settings.json"),
		filepath.Join(localAppData, "Microsoft", "Windows Terminal", "settings.json"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

type profileEntry struct {
	Name                     string `json:"name"`
	CommandLine              string `json:"commandline"`
	GUID                     string `json:"guid"`
	SuppressApplicationTitle bool   `json:"suppressApplicationTitle"`
}

type folderEntry struct {
	Name       string      `json:"name"`
	AllowEmpty bool        `json:"allowEmpty"`
	Type       string      `json:"type"`
	Entries    []menuEntry `json:"entries"`
}

type menuEntry struct {
	Profile string `json:"profile"`
	Type    string `json:"type"`
}

func (s *Sink) AddProfile(p profile.TerminalProfile, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(func(doc *document) error {
		guid, found := doc.findProfile(p.Name)
		if !found {
			guid = p.ID
			if err := doc.appendJSON(doc.listPath, profileEntry{
				Name:                     p.Name,
				CommandLine:              p.CommandLine,
				GUID:                     guid,
				SuppressApplicationTitle: true,
			}); err != nil {
				return err
			}
		} else {
			s.logger.Debug("Profile already exists", map[string]interface{}{"profile": p.Name})
		}
		if group == "" {
			return nil
		}
		return doc.ensureInFolder(group, guid)
	})
	if err != nil {
		return sink.NewError(Name, sink.OpAdd, p.Name, err)
	}
	return nil
}

func (s *Sink) RemoveProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(func(doc *document) error {
		guids := map[string]bool{}
		list := doc.profiles()
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].Get("name").String() != name {
				continue
			}
			guids[list[i].Get("guid").String()] = true
			if err := doc.delete(doc.listPath + "." + strconv.Itoa(i)); err != nil {
				return err
			}
		}
		return doc.removeFolderEntries(guids)
	})
	if err != nil {
		return sink.NewError(Name, sink.OpRemove, name, err)
	}
	return nil
}

func (s *Sink) RemoveGroup(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(func(doc *document) error {
		guids := map[string]bool{}
		menu := gjson.GetBytes(doc.data, menuPath).Array()
		for i := len(menu) - 1; i >= 0; i-- {
			if !isFolder(menu[i], group) {
				continue
			}
			for _, e := range menu[i].Get("entries").Array() {
				if e.Get("type").String() == "profile" {
					guids[e.Get("profile").String()] = true
				}
			}
			if err := doc.delete(menuPath + "." + strconv.Itoa(i)); err != nil {
				return err
			}
		}
		if len(guids) == 0 {
			return nil
		}

		// profiles still listed by another folder stay
		for guid := range doc.referencedGUIDs() {
			delete(guids, guid)
		}
		list := doc.profiles()
		for i := len(list) - 1; i >= 0; i-- {
			if guids[list[i].Get("guid").String()] {
				if err := doc.delete(doc.listPath + "." + strconv.Itoa(i)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return sink.NewError(Name, sink.OpRemoveGroup, group, err)
	}
	return nil
}

// Backup copies settings.json into the backup directory and prunes old
// copies.
func (s *Sink) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.resolve()
	if path == "" {
		return sink.NewError(Name, sink.OpBackup, "", fmt.Errorf("settings file not found"))
	}
	dir := s.config.BackupDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), backupDirName)
	}
	dst, err := sink.BackupFile(path, dir, s.config.Retention, time.Now())
	if err != nil {
		return sink.NewError(Name, sink.OpBackup, "", err)
	}
	if dst != "" {
		s.logger.Info("Settings backed up", map[string]interface{}{"backup": dst})
	}
	return nil
}

// Profiles lists every profile in profiles.list with the folders that
// reference it.
func (s *Sink) Profiles() ([]sink.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	groupsByGUID := map[string][]string{}
	for _, folder := range gjson.GetBytes(doc.data, menuPath).Array() {
		if folder.Get("type").String() != "folder" {
			continue
		}
		name := folder.Get("name").String()
		for _, e := range folder.Get("entries").Array() {
			if e.Get("type").String() == "profile" {
				guid := e.Get("profile").String()
				groupsByGUID[guid] = append(groupsByGUID[guid], name)
			}
		}
	}

	var out []sink.Entry
	for _, p := range doc.profiles() {
		guid := p.Get("guid").String()
		out = append(out, sink.Entry{
			Name:        p.Get("name").String(),
			CommandLine: p.Get("commandline").String(),
			ID:          guid,
			Groups:      groupsByGUID[guid],
		})
	}
	return out, nil
}

func (s *Sink) update(fn func(doc *document) error) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	before := string(doc.data)
	if err := fn(doc); err != nil {
		return err
	}
	if string(doc.data) == before {
		return nil
	}
	return s.save(doc)
}

func (s *Sink) load() (*document, error) {
	path := s.resolve()
	if path == "" {
		return nil, fmt.Errorf("settings file not found")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data = []byte("{}")
	} else if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		// Windows Terminal accepts comments and trailing commas
		data = jsonc.ToJSON(data)
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("malformed settings file %s", path)
		}
		s.logger.Debug("Settings file converted from JSONC", map[string]interface{}{"path": path})
	}

	doc := &document{data: data, listPath: "profiles.list"}
	// older settings files keep profiles as a bare array
	if gjson.GetBytes(data, "profiles").IsArray() {
		doc.listPath = "profiles"
	}
	return doc, nil
}

func (s *Sink) save(doc *document) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		perm = info.Mode().Perm()
	}
	return sink.WriteFileAtomic(s.path, pretty.PrettyOptions(doc.data, prettyOptions), perm)
}

// document is a settings.json being edited
type document struct {
	data     []byte
	listPath string
}

func (d *document) profiles() []gjson.Result {
	return gjson.GetBytes(d.data, d.listPath).Array()
}

func (d *document) findProfile(name string) (string, bool) {
	for _, p := range d.profiles() {
		if p.Get("name").String() == name {
			return p.Get("guid").String(), true
		}
	}
	return "", false
}

func (d *document) appendJSON(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(d.data, path).IsArray() {
		if d.data, err = sjson.SetRawBytes(d.data, path, []byte("[]")); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}
	data, err := sjson.SetRawBytes(d.data, path+".-1", raw)
	if err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	d.data = data
	return nil
}

func (d *document) delete(path string) error {
	data, err := sjson.DeleteBytes(d.data, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	d.data = data
	return nil
}

func (d *document) ensureInFolder(group, guid string) error {
	menu := gjson.GetBytes(d.data, menuPath)
	if !menu.Exists() {
		// keep the default entries visible once a menu is defined
		raw := `[{"type":"remainingProfiles"}]`
		data, err := sjson.SetRawBytes(d.data, menuPath, []byte(raw))
		if err != nil {
			return err
		}
		d.data = data
		menu = gjson.GetBytes(d.data, menuPath)
	}

	items := menu.Array()
	index := -1
	for i, item := range items {
		if isFolder(item, group) {
			index = i
			break
		}
	}
	if index < 0 {
		return d.appendJSON(menuPath, folderEntry{
			Name:    group,
			Type:    "folder",
			Entries: []menuEntry{{Profile: guid, Type: "profile"}},
		})
	}

	for _, e := range items[index].Get("entries").Array() {
		if e.Get("type").String() == "profile" && e.Get("profile").String() == guid {
			return nil
		}
	}
	return d.appendJSON(menuPath+"."+strconv.Itoa(index)+".entries", menuEntry{Profile: guid, Type: "profile"})
}

func (d *document) removeFolderEntries(guids map[string]bool) error {
	if len(guids) == 0 {
		return nil
	}
	menu := gjson.GetBytes(d.data, menuPath).Array()
	for i := len(menu) - 1; i >= 0; i-- {
		if menu[i].Get("type").String() != "folder" {
			continue
		}
		entries := menu[i].Get("entries").Array()
		for j := len(entries) - 1; j >= 0; j-- {
			e := entries[j]
			if e.Get("type").String() == "profile" && guids[e.Get("profile").String()] {
				path := menuPath + "." + strconv.Itoa(i) + ".entries." + strconv.Itoa(j)
				if err := d.delete(path); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *document) referencedGUIDs() map[string]bool {
	refs := map[string]bool{}
	for _, folder := range gjson.GetBytes(d.data, menuPath).Array() {
		if folder.Get("type").String() != "folder" {
			continue
		}
		for _, e := range folder.Get("entries").Array() {
			if e.Get("type").String() == "profile" {
				refs[e.Get("profile").String()] = true
			}
		}
	}
	return refs
}

func isFolder(item gjson.Result, name string) bool {
	return item.Get("type").String() == "folder" && item.Get("name").String() == name
}

// Package memory provides an in-process sink.Sink used as the reference
// store in tests.
package memory

import (
	"sort"
	"sync"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/sink"
)

type entry struct {
	profile profile.TerminalProfile
	groups  map[string]bool
}

// Sink keeps profiles in memory
type Sink struct {
	name string

	mu        sync.Mutex
	available bool
	entries   map[string]*entry
	order     []string
	backups   int
	failures  map[string]error
}

// New creates an empty, available in-memory sink
func New(name string) *Sink {
	return &Sink{
		name:      name,
		available: true,
		entries:   make(map[string]*entry),
		failures:  make(map[string]error),
	}
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// SetAvailable changes the result of Available
func (s *Sink) SetAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
}

// FailWith makes every subsequent op (one of the sink.Op constants) fail
// with err. A nil err clears the failure.
func (s *Sink) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Sink) AddProfile(p profile.TerminalProfile, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[sink.OpAdd]; err != nil {
		return sink.NewError(s.name, sink.OpAdd, p.Name, err)
	}

	e, ok := s.entries[p.Name]
	if !ok {
		e = &entry{profile: p, groups: make(map[string]bool)}
		s.entries[p.Name] = e
		s.order = append(s.order, p.Name)
	}
	if group != "" {
		e.groups[group] = true
	}
	return nil
}

func (s *Sink) RemoveProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[sink.OpRemove]; err != nil {
		return sink.NewError(s.name, sink.OpRemove, name, err)
	}
	s.delete(name)
	return nil
}

func (s *Sink) RemoveGroup(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[sink.OpRemoveGroup]; err != nil {
		return sink.NewError(s.name, sink.OpRemoveGroup, group, err)
	}

	for _, name := range append([]string(nil), s.order...) {
		e := s.entries[name]
		if !e.groups[group] {
			continue
		}
		delete(e.groups, group)
		if len(e.groups) == 0 {
			s.delete(name)
		}
	}
	return nil
}

func (s *Sink) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[sink.OpBackup]; err != nil {
		return sink.NewError(s.name, sink.OpBackup, "", err)
	}
	s.backups++
	return nil
}

// Backups returns how many times Backup succeeded
func (s *Sink) Backups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backups
}

// Profiles lists stored profiles in insertion order
func (s *Sink) Profiles() ([]sink.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]sink.Entry, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		groups := make([]string, 0, len(e.groups))
		for g := range e.groups {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		out = append(out, sink.Entry{
			Name:        e.profile.Name,
			CommandLine: e.profile.CommandLine,
			ID:          e.profile.ID,
			Groups:      groups,
		})
	}
	return out, nil
}

// Names returns the stored profile names tagged with group, in insertion
// order. An empty group matches every profile.
func (s *Sink) Names(group string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, name := range s.order {
		if group == "" || s.entries[name].groups[group] {
			names = append(names, name)
		}
	}
	return names
}

func (s *Sink) delete(name string) {
	if _, ok := s.entries[name]; !ok {
		return
	}
	delete(s.entries, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Package sinktest checks a sink.Sink against the shared upsert semantics.
package sinktest

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/sink"
)

// Subject is a sink under test that can list what it stores
type Subject interface {
	sink.Sink
	sink.Inspector
}

// Run executes the contract suite. newSink must return an empty store.
func Run(t *testing.T, newSink func(t *testing.T) Subject) {
	t.Run("IdempotentAdd", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.AddProfile(profile.New("c1", "run c1"), "Backend"))
		require.NoError(t, s.AddProfile(profile.New("c1", "run c1 again"), "Backend"))

		entries := profiles(t, s)
		require.Len(t, entries, 1)
		assert.Equal(t, "c1", entries[0].Name)
		assert.Equal(t, "run c1", entries[0].CommandLine, "existing entry is not overwritten")
		assert.Equal(t, []string{"Backend"}, entries[0].Groups)
	})

	t.Run("AddEnsuresGroup", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.AddProfile(profile.New("c1", "run c1"), "A"))
		require.NoError(t, s.AddProfile(profile.New("c1", "run c1"), "B"))

		entries := profiles(t, s)
		require.Len(t, entries, 1)
		assert.Equal(t, []string{"A", "B"}, sorted(entries[0].Groups))
	})

	t.Run("RemoveProfile", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.AddProfile(profile.New("c1", "run c1"), "Backend"))
		require.NoError(t, s.AddProfile(profile.New("c2", "run c2"), "Backend"))
		require.NoError(t, s.RemoveProfile("c1"))
		require.NoError(t, s.RemoveProfile("never-added"))

		entries := profiles(t, s)
		require.Len(t, entries, 1)
		assert.Equal(t, "c2", entries[0].Name)
	})

	t.Run("RemoveGroupClearsItsProfiles", func(t *testing.T) {
		s := newSink(t)
		for _, name := range []string{"p1", "p2", "p3"} {
			require.NoError(t, s.AddProfile(profile.New(name, "run "+name), "W"))
		}
		require.NoError(t, s.AddProfile(profile.New("other", "run other"), "X"))

		require.NoError(t, s.RemoveGroup("W"))

		entries := profiles(t, s)
		require.Len(t, entries, 1)
		assert.Equal(t, "other", entries[0].Name)
		for _, e := range entries {
			assert.NotContains(t, e.Groups, "W")
		}
	})

	t.Run("RemoveGroupKeepsSharedProfiles", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.AddProfile(profile.New("shared", "run shared"), "W"))
		require.NoError(t, s.AddProfile(profile.New("shared", "run shared"), "X"))

		require.NoError(t, s.RemoveGroup("W"))

		entries := profiles(t, s)
		require.Len(t, entries, 1)
		assert.Equal(t, []string{"X"}, entries[0].Groups)
	})

	t.Run("RemoveUnknownGroup", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.RemoveGroup("nothing"))
		assert.Empty(t, profiles(t, s))
	})

	t.Run("ConcurrentMutations", func(t *testing.T) {
		s := newSink(t)
		var wg sync.WaitGroup
		for _, group := range []string{"A", "B", "C", "D"} {
			wg.Add(1)
			go func(group string) {
				defer wg.Done()
				for i := 0; i < 5; i++ {
					name := group + string(rune('0'+i))
					assert.NoError(t, s.AddProfile(profile.New(name, "run "+name), group))
				}
			}(group)
		}
		wg.Wait()
		assert.Len(t, profiles(t, s), 20)
	})

	t.Run("BackupIsBestEffort", func(t *testing.T) {
		s := newSink(t)
		assert.NoError(t, s.Backup())
		require.NoError(t, s.AddProfile(profile.New("c1", "run c1"), "Backend"))
		assert.NoError(t, s.Backup())
	})
}

func profiles(t *testing.T, s Subject) []sink.Entry {
	t.Helper()
	entries, err := s.Profiles()
	require.NoError(t, err)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

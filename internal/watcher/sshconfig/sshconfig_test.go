package sshconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshell/podshell/internal/profile"
)

const sampleConfig = `
# personal boxes
Host web
    HostName web.example.com
    User deploy
    Port 2222

Host db db-alias
  hostname=10.0.0.5

host *.internal
    User ops

Host jump
    User nobody

Match host something
    HostName ignored.example.com

HOST "quoted"
    HostName "q.example.com"
`

func TestParse(t *testing.T) {
	hosts, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	want := []Host{
		{Alias: "web", HostName: "web.example.com", User: "deploy", Port: "2222"},
		{Alias: "db", HostName: "10.0.0.5"},
		{Alias: "jump", User: "nobody"},
		{Alias: "quoted", HostName: "q.example.com"},
	}
	require.Len(t, hosts, len(want))
	assert.Equal(t, want, hosts)
}

func TestParseNegatedAndWildcardPatterns(t *testing.T) {
	hosts, err := Parse(strings.NewReader(`
Host !bastion gateway
    HostName gw.example.com

Host * !skip
    User everyone

Host ?ingle
    HostName single.example.com
`))
	require.NoError(t, err)
	assert.Equal(t, []Host{{Alias: "gateway", HostName: "gw.example.com"}}, hosts)
}

func TestParseMatchBlockBetweenHosts(t *testing.T) {
	hosts, err := Parse(strings.NewReader(`Host a
    HostName a.example.com
Match user root exec "true"
    HostName ignored.example.com
    Port 1
Host b
    HostName b.example.com
`))
	require.NoError(t, err)
	assert.Equal(t, []Host{
		{Alias: "a", HostName: "a.example.com"},
		{Alias: "b", HostName: "b.example.com"},
	}, hosts)
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name string
		host Host
		want string
	}{
		{"full", Host{HostName: "h", User: "u", Port: "22"}, "ssh u@h -p 22"},
		{"hostname only", Host{HostName: "h"}, "ssh h"},
		{"user", Host{HostName: "h", User: "u"}, "ssh u@h"},
		{"port", Host{HostName: "h", Port: "2200"}, "ssh h -p 2200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.host.CommandLine("ssh"))
		})
	}
}

func TestConnectable(t *testing.T) {
	assert.True(t, Host{HostName: "x"}.Connectable())
	assert.False(t, Host{Alias: "x", User: "u"}.Connectable())
}

type op struct {
	add  bool
	name string
	cmd  string
}

type recordingReporter struct {
	mu  sync.Mutex
	ops []op
}

func (r *recordingReporter) AddProfile(p profile.TerminalProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op{add: true, name: p.Name, cmd: p.CommandLine})
}

func (r *recordingReporter) RemoveProfile(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op{name: name})
}

func (r *recordingReporter) snapshot() []op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]op(nil), r.ops...)
}

func writeConfig(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestHealthCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	b := New(&Config{ConfigFile: path, Command: "ssh"})
	assert.Error(t, b.HealthCheck(context.Background()))

	writeConfig(t, path, "Host a\n  HostName a.example.com\n", time.Now())
	assert.NoError(t, b.HealthCheck(context.Background()))

	b = New(&Config{ConfigFile: dir})
	assert.Error(t, b.HealthCheck(context.Background()))
}

func TestWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "Host a\n  HostName a.example.com\nHost b\n  HostName b.example.com\n", base)

	b := New(&Config{
		ConfigFile:        path,
		Command:           "ssh",
		PollInterval:      10 * time.Millisecond,
		MinReloadInterval: time.Millisecond,
	})

	rep := &recordingReporter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Watch(ctx, rep) }()

	require.Eventually(t, func() bool { return len(rep.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []op{
		{add: true, name: "a", cmd: "ssh a.example.com"},
		{add: true, name: "b", cmd: "ssh b.example.com"},
	}, rep.snapshot())

	// a changes user, b disappears, c appears
	writeConfig(t, path, "Host a\n  HostName a.example.com\n  User root\nHost c\n  HostName c.example.com\n", base.Add(time.Minute))

	require.Eventually(t, func() bool { return len(rep.snapshot()) >= 6 }, 2*time.Second, 5*time.Millisecond)

	ops := rep.snapshot()[2:]
	removed := map[string]bool{}
	added := map[string]string{}
	for _, o := range ops {
		if o.add {
			added[o.name] = o.cmd
		} else {
			removed[o.name] = true
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, removed)
	assert.Equal(t, map[string]string{"a": "ssh root@a.example.com", "c": "ssh c.example.com"}, added)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchFailsWhenFileVanishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	writeConfig(t, path, "Host a\n  HostName a.example.com\n", time.Now())

	b := New(&Config{
		ConfigFile:        path,
		Command:           "ssh",
		PollInterval:      10 * time.Millisecond,
		MinReloadInterval: time.Millisecond,
	})

	rep := &recordingReporter{}
	done := make(chan error, 1)
	go func() { done <- b.Watch(context.Background(), rep) }()

	require.Eventually(t, func() bool { return len(rep.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, os.Remove(path))

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.True(t, os.IsNotExist(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not fail after config removal")
	}
}

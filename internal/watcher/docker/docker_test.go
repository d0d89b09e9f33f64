package docker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshell/podshell/internal/profile"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	envs     [][]string
	outputs  map[string]string
	failures map[string]error

	streamR *io.PipeReader
	streamW *io.PipeWriter
}

func newFakeRunner() *fakeRunner {
	r, w := io.Pipe()
	return &fakeRunner{
		outputs:  map[string]string{},
		failures: map[string]error{},
		streamR:  r,
		streamW:  w,
	}
}

func (f *fakeRunner) Output(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.envs = append(f.envs, env)
	if err := f.failures[args[0]]; err != nil {
		return nil, err
	}
	return []byte(f.outputs[args[0]]), nil
}

func (f *fakeRunner) Stream(ctx context.Context, env []string, name string, args ...string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	if err := f.failures[args[0]]; err != nil {
		return nil, err
	}
	return f.streamR, nil
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

func newTestBackend(runner Runner) *Backend {
	b := New(&Config{Command: "docker", Runner: runner, Host: "unix:///tmp/test.sock"})
	return b
}

func TestCommandLine(t *testing.T) {
	b := New(&Config{Command: "/usr/bin/docker", Runner: newFakeRunner()})
	assert.Equal(t, "/usr/bin/docker exec -it web /bin/sh", b.CommandLine("web"))

	b = New(&Config{Command: "docker", Shell: "/bin/bash", Runner: newFakeRunner()})
	assert.Equal(t, "docker exec -it web /bin/bash", b.CommandLine("web"))
}

func TestHealthCheck(t *testing.T) {
	runner := newFakeRunner()
	b := newTestBackend(runner)
	assert.NoError(t, b.HealthCheck(context.Background()))
	assert.Equal(t, []string{"DOCKER_HOST=unix:///tmp/test.sock"}, runner.envs[0])

	runner.failures["info"] = errors.New("Cannot connect to the Docker daemon")
	assert.Error(t, b.HealthCheck(context.Background()))
}

func TestContainers(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["ps"] = `{"ID":"1","Names":"web","Image":"nginx"}
{"ID":"2","Names":"db,web/db","Image":"postgres"}

`
	names, err := newTestBackend(runner).Containers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "db"}, names)

	runner.outputs["ps"] = "not json\n"
	_, err = newTestBackend(runner).Containers(context.Background())
	assert.Error(t, err)
}

func TestWatchFollowsEvents(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["ps"] = `{"Names":"web"}` + "\n"
	b := newTestBackend(runner)

	rep := &recordingReporter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Watch(ctx, rep) }()

	require.Eventually(t, func() bool { return len(rep.snapshot()) == 1 }, time.Second, time.Millisecond)

	events := []string{
		`{"Type":"container","Action":"start","Actor":{"ID":"a","Attributes":{"name":"api"}}}`,
		`garbage`,
		`{"Type":"container","Action":"die","Actor":{"ID":"b","Attributes":{"name":"web"}}}`,
		`{"Type":"container","Action":"pause","Actor":{"ID":"a","Attributes":{"name":"api"}}}`,
		`{"Type":"network","Action":"start","Actor":{"ID":"n","Attributes":{"name":"bridge"}}}`,
	}
	for _, e := range events {
		_, err := io.WriteString(runner.streamW, e+"\n")
		require.NoError(t, err)
	}
	require.NoError(t, runner.streamW.Close())

	select {
	case err := <-done:
		assert.NoError(t, err, "a clean end of stream is reported as nil")
	case <-time.After(time.Second):
		t.Fatal("Watch did not return at end of stream")
	}

	assert.Equal(t, []op{
		{add: true, name: "web", cmd: "docker exec -it web /bin/sh"},
		{add: true, name: "api", cmd: "docker exec -it api /bin/sh"},
		{name: "web"},
	}, rep.snapshot())
}

func TestWatchReturnsOnCancel(t *testing.T) {
	runner := newFakeRunner()
	b := newTestBackend(runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Watch(ctx, &recordingReporter{}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchStreamFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.failures["events"] = errors.New("exec: docker not found")
	err := newTestBackend(runner).Watch(context.Background(), &recordingReporter{})
	assert.EqualError(t, err, "exec: docker not found")
}

func TestSocketFallback(t *testing.T) {
	t.Setenv("DOCKER_HOST", "")
	home := t.TempDir()

	b := New(&Config{Command: "docker", Runner: newFakeRunner()})
	b.systemSocket = filepath.Join(home, "missing.sock")
	b.homeDir = func() (string, error) { return home, nil }

	assert.Nil(t, b.env(), "no user socket either")

	userSocket := filepath.Join(home, ".docker", "run", "docker.sock")
	require.NoError(t, os.MkdirAll(filepath.Dir(userSocket), 0o755))
	require.NoError(t, os.WriteFile(userSocket, nil, 0o600))
	assert.Equal(t, []string{"DOCKER_HOST=unix://" + userSocket}, b.env())

	t.Setenv("DOCKER_HOST", "tcp://remote:2375")
	assert.Nil(t, b.env())

	b.config.Host = "ssh://me@box"
	assert.Equal(t, []string{"DOCKER_HOST=ssh://me@box"}, b.env())
}

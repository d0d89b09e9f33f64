package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes the docker command line client
type Runner interface {
	// Output runs the command to completion and returns its stdout
	Output(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
	// Stream starts a long-running command and returns its stdout. Closing
	// the stream terminates the process.
	Stream(ctx context.Context, env []string, name string, args ...string) (io.ReadCloser, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

func (ExecRunner) Stream(ctx context.Context, env []string, name string, args ...string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &processStream{ReadCloser: stdout, cmd: cmd, cancel: cancel}, nil
}

type processStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	once   sync.Once
}

func (s *processStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		// Wait closes the pipe
		_ = s.cmd.Wait()
	})
	return nil
}

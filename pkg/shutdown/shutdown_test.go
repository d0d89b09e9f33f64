package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	for _, name := range []string{"log", "tracing", "orchestrator", "metrics"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	assert.Empty(t, m.Shutdown())
	assert.Equal(t, []string{"metrics", "orchestrator", "tracing", "log"}, order)

	assert.Nil(t, m.Shutdown(), "second call is a no-op")
	assert.Len(t, order, 4)
}

func TestShutdownCollectsErrors(t *testing.T) {
	m := New(time.Second, nil)
	boom := errors.New("boom")
	m.Register("ok", func(ctx context.Context) error { return nil })
	m.Register("bad", func(ctx context.Context) error { return boom })

	errs := m.Shutdown()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Contains(t, errs[0].Error(), "bad")
}

func TestHooksReceiveDeadline(t *testing.T) {
	m := New(50*time.Millisecond, nil)
	var hadDeadline bool
	m.Register("check", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	m.Shutdown()
	assert.True(t, hadDeadline)
}

func TestTriggerUnblocksWait(t *testing.T) {
	m := New(time.Second, nil)
	done := make(chan struct{})
	go func() {
		m.Wait(context.Background())
		close(done)
	}()

	m.Trigger()
	m.Trigger()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Trigger")
	}
	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestWaitReturnsOnContext(t *testing.T) {
	m := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Wait(ctx)
	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed")
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

type server struct{ deadline bool }

func (s *server) Shutdown(ctx context.Context) error {
	_, s.deadline = ctx.Deadline()
	return nil
}

func TestResourceHelpers(t *testing.T) {
	m := New(time.Second, nil)
	c := &closer{}
	s := &server{}
	m.Register("file", CloseResource(c))
	m.Register("http", StopHTTPServer(s))

	require.Empty(t, m.Shutdown())
	assert.True(t, c.closed)
	assert.True(t, s.deadline)
}

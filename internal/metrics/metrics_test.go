package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshell/podshell/internal/events"
)

func TestHandleEvent(t *testing.T) {
	c := NewCollector()
	c.HandleEvent(events.New("Docker", events.KindHealthy, "ok"))
	c.HandleEvent(events.New("Docker", events.KindHealthy, "ok"))
	c.HandleEvent(events.New("SSH", events.KindWarning, "down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("Docker", "HEALTHY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("SSH", "WARNING")))
}

func TestObserveSinkOp(t *testing.T) {
	c := NewCollector()
	c.ObserveSinkOp("iTerm2", "add_profile", time.Millisecond, nil)
	c.ObserveSinkOp("iTerm2", "add_profile", time.Millisecond, errors.New("denied"))
	c.ObserveSinkOp("iTerm2", "add_profile", time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sinkOperations.WithLabelValues("iTerm2", "add_profile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sinkOperations.WithLabelValues("iTerm2", "add_profile", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sinkDuration))
}

func TestRegistryGauges(t *testing.T) {
	c := NewCollector()
	c.SetRegistryState(2, 1)
	c.WatcherRestarted("Docker")

	expected := `
# HELP podshell_watchers_alive Watchers whose run loop is executing
# TYPE podshell_watchers_alive gauge
podshell_watchers_alive 2
# HELP podshell_sinks_enabled Profile sinks currently enabled
# TYPE podshell_sinks_enabled gauge
podshell_sinks_enabled 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"podshell_watchers_alive", "podshell_sinks_enabled"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.watcherRestarts.WithLabelValues("Docker")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.HandleEvent(events.New("x", events.KindHealthy, ""))
		c.ObserveSinkOp("s", "op", 0, nil)
		c.WatcherRestarted("x")
		c.SetRegistryState(0, 0)
	})
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.HandleEvent(events.New("Docker", events.KindStarting, "starting"))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `podshell_events_total{kind="STARTING",source="Docker"} 1`)
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshell/podshell/internal/profile"
)

func TestConstructors(t *testing.T) {
	p := profile.New("c1", "run c1")

	add := AddProfile("Docker", p)
	require.NotNil(t, add.Profile)
	assert.Equal(t, KindAddProfile, add.Kind)
	assert.Equal(t, "c1", add.Profile.Name)
	assert.Equal(t, "Docker", add.Source)

	rm := RemoveProfile("Docker", "c1")
	assert.Equal(t, KindRemoveProfile, rm.Kind)
	assert.Equal(t, "c1", rm.ProfileName)
	assert.Nil(t, rm.Profile)

	h := Healthy("SSH")
	assert.Equal(t, KindHealthy, h.Kind)
	assert.Equal(t, "HEALTHY: SSH - Last operation completed successfully", h.String())
}

func TestAddProfileCopiesPayload(t *testing.T) {
	p := profile.New("c1", "run c1")
	e := AddProfile("Docker", p)
	p.Name = "changed"
	assert.Equal(t, "c1", e.Profile.Name)
}

func TestFanoutPreservesOrder(t *testing.T) {
	var order []string
	h := Fanout(
		func(Event) { order = append(order, "a") },
		nil,
		func(Event) { order = append(order, "b") },
	)
	h(New("x", KindWarning, "w"))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRecorderFilter(t *testing.T) {
	r := NewRecorder()
	r.Handle(New("a", KindStarting, ""))
	r.Handle(New("b", KindStarting, ""))
	r.Handle(Healthy("a"))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.Filter("a", KindStarting), 1)
	assert.Len(t, r.Filter("a", KindHealthy), 1)

	r.Reset()
	assert.Empty(t, r.Events())
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/okpi/internal/bus"
)

func event(t bus.EventType, mutate func(*bus.Event)) bus.Event {
	e := bus.NewEvent(t)
	if mutate != nil {
		mutate(&e)
	}
	return e
}

func TestObserve_Routing(t *testing.T) {
	c := New(nil)

	c.Observe(event(bus.EventTriggerHeard, nil))
	c.Observe(event(bus.EventUtteranceMatched, func(e *bus.Event) { e.Skill = "clock" }))
	c.Observe(event(bus.EventUtteranceMatched, func(e *bus.Event) { e.Skill = "clock" }))
	c.Observe(event(bus.EventUtteranceMatched, func(e *bus.Event) { e.Skill = "timer" }))
	c.Observe(event(bus.EventUtteranceFallback, nil))
	c.Observe(event(bus.EventInputMuted, nil))
	c.Observe(event(bus.EventOutputEmitted, nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Triggers))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Utterances.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Utterances.WithLabelValues("fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Dispatches.WithLabelValues("clock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Dispatches.WithLabelValues("timer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Suppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Outputs))
}

func TestObserve_ModeAndActiveWindow(t *testing.T) {
	c := New(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Observe(event(bus.EventModeChanged, func(e *bus.Event) { e.Mode = "active" }))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Listening))

	now = now.Add(8 * time.Second)
	c.Observe(event(bus.EventModeChanged, func(e *bus.Event) { e.Mode = "passive" }))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Listening))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ModeTransitions.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ModeTransitions.WithLabelValues("passive")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ActiveWindow))

	// a stop while active closes the window too
	c.Observe(event(bus.EventModeChanged, func(e *bus.Event) { e.Mode = "active" }))
	c.Observe(event(bus.EventSessionFailed, nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Listening))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Failures))
}

func TestAttach(t *testing.T) {
	c := New(nil)
	b := bus.New()
	require.NoError(t, c.Attach(b))

	b.Publish(event(bus.EventTriggerHeard, nil))
	b.Publish(event(bus.EventTriggerHeard, nil))
	require.NoError(t, b.Close())

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Triggers))
	c.Detach()
}

func TestHandler(t *testing.T) {
	c := New(nil)
	c.Observe(event(bus.EventTriggerHeard, nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "okpi_triggers_total 1")
	assert.Contains(t, string(body), "okpi_listening_active 0")
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

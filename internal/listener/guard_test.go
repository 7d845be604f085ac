package listener

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/okpi/pkg/skill"
)

func TestEchoGuard_MutedWhileEmitting(t *testing.T) {
	clock := newFakeClock()
	var g *EchoGuard
	var mutedInside bool
	g = NewEchoGuard(skill.SinkFunc(func(string) { mutedInside = g.Muted() }), 0, clock)

	assert.False(t, g.Muted())
	g.Emit("hello")
	assert.True(t, mutedInside)
	assert.False(t, g.Muted(), "zero tail unmutes immediately")
}

func TestEchoGuard_Tail(t *testing.T) {
	clock := newFakeClock()
	out := &recorder{}
	g := NewEchoGuard(out, 750*time.Millisecond, clock)

	g.Emit("the time is 9 15")
	assert.Equal(t, []string{"the time is 9 15"}, out.Items())
	assert.True(t, g.Muted())

	clock.Advance(749 * time.Millisecond)
	assert.True(t, g.Muted())

	clock.Advance(time.Millisecond)
	assert.False(t, g.Muted())
}

func TestEchoGuard_TailRestartsOnEachEmission(t *testing.T) {
	clock := newFakeClock()
	g := NewEchoGuard(&recorder{}, time.Second, clock)

	g.Emit("one")
	clock.Advance(900 * time.Millisecond)
	g.Emit("two")
	clock.Advance(900 * time.Millisecond)
	assert.True(t, g.Muted())

	clock.Advance(100 * time.Millisecond)
	assert.False(t, g.Muted())
}

func TestEchoGuard_PerWordCoversPlayback(t *testing.T) {
	clock := newFakeClock()
	g := NewEchoGuard(&recorder{}, 500*time.Millisecond, clock)
	g.SetPerWord(DefaultSpeechPerWord)

	// five words: 500ms + 5*400ms
	g.Emit("your ten minutes timer is")
	clock.Advance(2499 * time.Millisecond)
	assert.True(t, g.Muted())
	clock.Advance(time.Millisecond)
	assert.False(t, g.Muted())

	// a short reply does not cut a longer one short
	g.Emit("one two three four five six seven eight nine ten")
	g.Emit("ok")
	clock.Advance(4 * time.Second)
	assert.True(t, g.Muted())
	clock.Advance(500 * time.Millisecond)
	assert.False(t, g.Muted())

	g.SetPerWord(-time.Second)
	g.Emit("one two three")
	clock.Advance(500 * time.Millisecond)
	assert.False(t, g.Muted(), "negative allowance is treated as zero")
}

func TestEchoGuard_OverlappingEmissions(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	entered := make(chan struct{}, 2)

	g := NewEchoGuard(skill.SinkFunc(func(text string) {
		entered <- struct{}{}
		if text == "slow" {
			<-release
		}
	}), 0, clock)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Emit("slow")
	}()
	<-entered

	// A quick emission finishing must not unmute while the slow one runs.
	g.Emit("fast")
	<-entered
	assert.True(t, g.Muted())

	close(release)
	wg.Wait()
	assert.False(t, g.Muted())
}

func TestEchoGuard_Defaults(t *testing.T) {
	g := NewEchoGuard(nil, -time.Second, nil)
	require.NotNil(t, g)
	g.Emit("nobody listening")
	assert.False(t, g.Muted())

	g.SetTail(time.Hour)
	g.Emit("now muted")
	assert.True(t, g.Muted())

	g.SetTail(-1)
	g.Emit("again")
	assert.False(t, g.Muted())
}

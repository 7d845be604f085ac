package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/okpi/internal/bus"
	"github.com/normanking/okpi/pkg/skill"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
	deadline bool
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, p.deadline = ctx.Deadline()
	p.channels = append(p.channels, channel)
	if b, ok := message.([]byte); ok {
		p.messages = append(p.messages, b)
	}
	if p.err != nil {
		return redis.NewIntResult(0, p.err)
	}
	return redis.NewIntResult(1, nil)
}

func TestConsole_Emit(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, ConsoleOptions{})

	c.Emit("I have heard ok pi")
	c.Emit("the time is 9 30")

	// a bytes.Buffer is not a terminal, so no escape sequences are written
	assert.Equal(t, "okpi> I have heard ok pi\nokpi> the time is 9 30\n", buf.String())
}

func TestConsole_CustomName(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf, ConsoleOptions{Name: "pi"}).Emit("hello")
	assert.Equal(t, "pi> hello\n", buf.String())
}

func TestRedis_Emit(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRedis(pub, "", 0)

	r.Emit("Sorry, I did not understand foo")

	require.Len(t, pub.messages, 1)
	assert.Equal(t, DefaultChannel, pub.channels[0])
	assert.True(t, pub.deadline, "publish is bounded by a timeout")

	var u Utterance
	require.NoError(t, json.Unmarshal(pub.messages[0], &u))
	assert.Equal(t, "Sorry, I did not understand foo", u.Text)
	assert.NotEmpty(t, u.ID)
	assert.WithinDuration(t, time.Now(), u.Timestamp, time.Minute)

	published, failed := r.Counts()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(0), failed)
	assert.NoError(t, r.Close())
}

func TestRedis_EmitFailureIsCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	r := NewRedis(pub, "speech", time.Second)

	assert.NotPanics(t, func() { r.Emit("hello") })

	published, failed := r.Counts()
	assert.Equal(t, int64(0), published)
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, []string{"speech"}, pub.channels)
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialRedis(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestMulti_Emit(t *testing.T) {
	var got []string
	a := skill.SinkFunc(func(text string) { got = append(got, "a:"+text) })
	b := skill.SinkFunc(func(text string) { got = append(got, "b:"+text) })

	Multi{a, nil, b}.Emit("hi")
	assert.Equal(t, []string{"a:hi", "b:hi"}, got)
}

func TestObserved_PublishesBeforeForwarding(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var historyAtEmit int
	next := skill.SinkFunc(func(string) { historyAtEmit = len(b.History()) })

	Observe(next, b).Emit("the time is 9 30")

	assert.Equal(t, 1, historyAtEmit)
	history := b.History()
	require.Len(t, history, 1)
	assert.Equal(t, bus.EventOutputEmitted, history[0].Type)
	assert.Equal(t, "the time is 9 30", history[0].Text)
}

func TestObserved_NilBusAndSink(t *testing.T) {
	assert.NotPanics(t, func() { Observe(nil, nil).Emit("x") })
}

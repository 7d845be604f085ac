package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer echoes every binary frame back as a final hypothesis, preceded
// by a partial one, and records control messages.
type fakeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	controls []ControlMessage
	frames   []string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.t.Errorf("bad control message %q: %v", data, err)
				return
			}
			s.mu.Lock()
			s.controls = append(s.controls, msg)
			s.mu.Unlock()

		case websocket.BinaryMessage:
			text := string(data)
			s.mu.Lock()
			s.frames = append(s.frames, text)
			s.mu.Unlock()

			switch text {
			case "hang up":
				return
			case "fail":
				_ = conn.WriteJSON(ServerMessage{Type: TypeError, Error: "model unavailable"})
				continue
			case "silence":
				continue
			}
			_ = conn.WriteJSON(ServerMessage{Type: TypeHypothesis, Text: text[:1]})
			_ = conn.WriteJSON(ServerMessage{Type: TypeHypothesis, Text: text, Final: true})
		}
	}
}

func (s *fakeServer) Controls() []ControlMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ControlMessage(nil), s.controls...)
}

func (s *fakeServer) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func startServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	fs := &fakeServer{t: t}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, endpoint string) *Decoder {
	t.Helper()
	d := New(Config{Endpoint: endpoint, WriteTimeout: time.Second})
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { d.Close() })
	return d
}

func waitHypothesis(t *testing.T, d *Decoder) string {
	t.Helper()
	var got string
	require.Eventually(t, func() bool {
		hyp, ok := d.Hypothesis()
		got = hyp
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})
	assert.Equal(t, DefaultConfig().Endpoint, d.config.Endpoint)
	assert.Equal(t, "command", d.Search())
	assert.Equal(t, 5*time.Second, d.config.HandshakeTimeout)
}

func TestNotConnected(t *testing.T) {
	d := New(Config{})
	assert.ErrorIs(t, d.StartSegment(), ErrNotConnected)
	assert.ErrorIs(t, d.ProcessFrame([]byte{0, 1}), ErrNotConnected)
	_, ok := d.Hypothesis()
	assert.False(t, ok)
	assert.NoError(t, d.Close())
	assert.ErrorIs(t, d.Connect(context.Background()), ErrClosed)
}

func TestConnect_Fails(t *testing.T) {
	d := New(Config{Endpoint: "ws://127.0.0.1:1/nowhere", HandshakeTimeout: 500 * time.Millisecond})
	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestControlMessages(t *testing.T) {
	fs, endpoint := startServer(t)
	d := connect(t, endpoint)

	require.NoError(t, d.SetKeyphrase("trigger", "ok pi"))
	require.NoError(t, d.SetSearch("trigger"))
	require.NoError(t, d.StartSegment())
	require.NoError(t, d.EndSegment())
	assert.Equal(t, "trigger", d.Search())

	want := []ControlMessage{
		{Type: TypeKeyphrase, Key: "trigger", Phrase: "ok pi"},
		{Type: TypeSetSearch, Key: "trigger"},
		{Type: TypeStartSegment},
		{Type: TypeEndSegment},
	}
	require.Eventually(t, func() bool { return len(fs.Controls()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, fs.Controls())
}

func TestHypotheses(t *testing.T) {
	fs, endpoint := startServer(t)
	d := connect(t, endpoint)

	require.NoError(t, d.StartSegment())
	require.NoError(t, d.ProcessFrame([]byte("what time is it")))

	assert.Equal(t, "what time is it", waitHypothesis(t, d), "partial results are skipped")
	_, ok := d.Hypothesis()
	assert.False(t, ok)

	require.NoError(t, d.ProcessFrame([]byte("silence")))
	require.Eventually(t, func() bool { return len(fs.Frames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"what time is it", "silence"}, fs.Frames())
}

func TestServerErrorSurfacesOnNextCall(t *testing.T) {
	_, endpoint := startServer(t)
	d := connect(t, endpoint)

	require.NoError(t, d.ProcessFrame([]byte("fail")))
	require.Eventually(t, func() bool {
		err := d.ProcessFrame([]byte("silence"))
		return err != nil && strings.Contains(err.Error(), "server error")
	}, 2*time.Second, 5*time.Millisecond)

	err := d.StartSegment()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestConnectionLost(t *testing.T) {
	_, endpoint := startServer(t)
	d := connect(t, endpoint)

	require.NoError(t, d.ProcessFrame([]byte("hang up")))
	require.Eventually(t, func() bool {
		err := d.EndSegment()
		return err != nil && strings.Contains(err.Error(), "connection lost")
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := d.Hypothesis()
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	_, endpoint := startServer(t)
	d := connect(t, endpoint)

	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	assert.ErrorIs(t, d.StartSegment(), ErrClosed)
}

func TestHandleMessage_IgnoresNoise(t *testing.T) {
	d := New(Config{})
	d.handleMessage(ServerMessage{Type: "status"})
	d.handleMessage(ServerMessage{Type: TypeHypothesis, Final: true})
	d.handleMessage(ServerMessage{Type: TypeHypothesis, Text: "partial"})
	_, ok := d.Hypothesis()
	assert.False(t, ok)

	d.handleMessage(ServerMessage{Type: TypeHypothesis, Text: "ok pi", Final: true})
	hyp, ok := d.Hypothesis()
	assert.True(t, ok)
	assert.Equal(t, "ok pi", hyp)
}

// Package remote implements a decoder backed by a speech recognition server
// reached over a WebSocket. Audio frames are streamed as binary messages and
// segment and search control is sent as small JSON messages. The server
// answers with hypothesis messages, which are queued until the listener asks
// for them.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Message types of the decoder protocol.
const (
	TypeStartSegment = "start_segment"
	TypeEndSegment   = "end_segment"
	TypeSetSearch    = "set_search"
	TypeKeyphrase    = "keyphrase"
	TypeHypothesis   = "hypothesis"
	TypeError        = "error"
)

var (
	ErrNotConnected = errors.New("remote decoder: not connected")
	ErrClosed       = errors.New("remote decoder: closed")
)

// ControlMessage is sent from the client to the server.
type ControlMessage struct {
	Type   string `json:"type"`
	Key    string `json:"key,omitempty"`
	Phrase string `json:"phrase,omitempty"`
}

// ServerMessage is received from the server.
type ServerMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
	Error string `json:"error,omitempty"`
}

// Config holds configuration for the remote decoder.
type Config struct {
	// Endpoint is the WebSocket URL of the recognition server
	Endpoint string

	// HandshakeTimeout bounds the WebSocket handshake
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each message write (0 = no deadline)
	WriteTimeout time.Duration

	// PingInterval keeps the connection alive (0 disables pings)
	PingInterval time.Duration

	// CommandSearch is reported by Search until another search is set
	CommandSearch string
}

// DefaultConfig returns production defaults for the remote decoder.
func DefaultConfig() Config {
	return Config{
		Endpoint:         "ws://127.0.0.1:8765/ws/decoder",
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     2 * time.Second,
		PingInterval:     30 * time.Second,
		CommandSearch:    "command",
	}
}

// Decoder is a listener.Decoder talking to a recognition server.
type Decoder struct {
	config Config
	log    zerolog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	conn    *websocket.Conn
	search  string
	pending []string
	readErr error
	closed  bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates a decoder. Connect must be called before use.
func New(config Config) *Decoder {
	defaults := DefaultConfig()
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.CommandSearch == "" {
		config.CommandSearch = defaults.CommandSearch
	}

	return &Decoder{
		config: config,
		search: config.CommandSearch,
		log:    log.With().Str("component", "remote-decoder").Logger(),
	}
}

// Connect dials the server and starts reading hypotheses.
func (d *Decoder) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return fmt.Errorf("remote decoder: already connected")
	}
	if d.closed {
		return ErrClosed
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	d.log.Debug().Str("endpoint", d.config.Endpoint).Msg("connecting to decoder server")

	conn, _, err := dialer.DialContext(ctx, d.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("remote decoder: failed to connect: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.readLoop(conn, d.done)
	if d.config.PingInterval > 0 {
		go d.pingLoop(loopCtx, conn)
	}

	d.log.Info().Str("endpoint", d.config.Endpoint).Msg("decoder server connected")
	return nil
}

// Close ends the connection. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	conn, done, cancel := d.conn, d.done, d.cancel
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()

	d.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	d.writeMu.Unlock()

	err := conn.Close()
	<-done
	return err
}

func (d *Decoder) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			d.mu.Lock()
			if !d.closed {
				d.readErr = fmt.Errorf("remote decoder: connection lost: %w", err)
				d.log.Error().Err(err).Msg("decoder server connection lost")
			}
			d.mu.Unlock()
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.log.Warn().Err(err).Str("message", string(data)).Msg("ignoring malformed server message")
			continue
		}
		d.handleMessage(msg)
	}
}

func (d *Decoder) handleMessage(msg ServerMessage) {
	switch msg.Type {
	case TypeHypothesis:
		if !msg.Final || msg.Text == "" {
			return
		}
		d.mu.Lock()
		d.pending = append(d.pending, msg.Text)
		d.mu.Unlock()
		d.log.Debug().Str("text", msg.Text).Msg("hypothesis received")

	case TypeError:
		d.mu.Lock()
		if d.readErr == nil {
			d.readErr = fmt.Errorf("remote decoder: server error: %s", msg.Error)
		}
		d.mu.Unlock()

	default:
		d.log.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

func (d *Decoder) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				d.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// usable returns the connection or the error that makes it unusable.
func (d *Decoder) usable() (*websocket.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.readErr != nil:
		return nil, d.readErr
	case d.closed:
		return nil, ErrClosed
	case d.conn == nil:
		return nil, ErrNotConnected
	}
	return d.conn, nil
}

func (d *Decoder) write(messageType int, data []byte) error {
	conn, err := d.usable()
	if err != nil {
		return err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(d.config.WriteTimeout))
	}
	if err := conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("remote decoder: write: %w", err)
	}
	return nil
}

func (d *Decoder) send(msg ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("remote decoder: marshal %s: %w", msg.Type, err)
	}
	return d.write(websocket.TextMessage, data)
}

// ProcessFrame streams one audio frame to the server.
func (d *Decoder) ProcessFrame(frame []byte) error {
	return d.write(websocket.BinaryMessage, frame)
}

// Hypothesis returns the oldest final hypothesis received from the server.
func (d *Decoder) Hypothesis() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return "", false
	}
	hyp := d.pending[0]
	d.pending = d.pending[1:]
	return hyp, true
}

// StartSegment asks the server to begin a new utterance. Hypotheses still
// queued from the previous segment are discarded.
func (d *Decoder) StartSegment() error {
	if err := d.send(ControlMessage{Type: TypeStartSegment}); err != nil {
		return err
	}
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
	return nil
}

// EndSegment asks the server to finish the current utterance.
func (d *Decoder) EndSegment() error {
	return d.send(ControlMessage{Type: TypeEndSegment})
}

// SetSearch switches the server to the named search.
func (d *Decoder) SetSearch(key string) error {
	if err := d.send(ControlMessage{Type: TypeSetSearch, Key: key}); err != nil {
		return err
	}
	d.mu.Lock()
	d.search = key
	d.mu.Unlock()
	return nil
}

// SetKeyphrase defines the phrase spotted by a keyphrase search.
func (d *Decoder) SetKeyphrase(key, phrase string) error {
	return d.send(ControlMessage{Type: TypeKeyphrase, Key: key, Phrase: phrase})
}

// Search returns the last search set, or the configured command search.
func (d *Decoder) Search() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.search
}

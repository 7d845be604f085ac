// Package listener implements the listening state machine: it feeds audio
// frames to a decoder, waits in PASSIVE mode for the trigger phrase, switches
// to ACTIVE mode to capture commands for a limited window, and hands every
// command hypothesis to a Processor.
//
// All inputs (frames, timer firings, control calls) are consumed by a single
// goroutine, so each transition is applied as one uninterrupted step. Skills
// run while the loop keeps serving control calls, so a skill may call Stop or
// SetTriggerPhrase on the listener that invoked it.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/okpi/internal/bus"
	"github.com/normanking/okpi/pkg/skill"
)

const (
	// TriggerSearch is the decoder search key holding the trigger phrase.
	TriggerSearch = "trigger"

	// DefaultTimeout is how long ACTIVE mode lasts after the trigger phrase.
	DefaultTimeout = 8 * time.Second

	// DefaultAcknowledgement prefixes the reply given when the trigger is heard.
	DefaultAcknowledgement = "I have heard"

	eventBuffer = 64
)

var (
	ErrNoTriggerPhrase = errors.New("listener: no trigger phrase set")
	ErrNotRunning      = errors.New("listener: not running")
	ErrAlreadyRunning  = errors.New("listener: already running")
)

// Decoder is the control surface of a speech decoder.
type Decoder interface {
	// ProcessFrame feeds raw audio to the current segment.
	ProcessFrame(frame []byte) error
	// Hypothesis returns a completed hypothesis, at most once per result.
	Hypothesis() (string, bool)
	StartSegment() error
	EndSegment() error
	SetSearch(key string) error
	// SetKeyphrase defines the phrase spotted by the search key.
	SetKeyphrase(key, phrase string) error
	// Search returns the key of the active search.
	Search() string
}

// Input delivers audio frames to a callback once started.
type Input interface {
	Start() error
	Stop() error
	OnFrame(fn func(frame []byte))
}

// Processor consumes command hypotheses. *router.Router implements it.
type Processor interface {
	Process(text string)
}

// Mode is the listening mode.
type Mode int

const (
	// Passive waits for the trigger phrase.
	Passive Mode = iota
	// Active captures commands.
	Active
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config configures a Listener.
type Config struct {
	Decoder   Decoder   // required
	Input     Input     // required
	Processor Processor // required

	// Sink receives trigger acknowledgements. Required.
	Sink skill.Sink

	// Guard mutes input while output is being emitted. Optional; pass the
	// same guard that wraps the router's sink.
	Guard *EchoGuard

	// TriggerPhrase is spotted in PASSIVE mode. It may also be set later
	// with SetTriggerPhrase, but must be set before Start.
	TriggerPhrase string

	// CommandSearch is the search used in ACTIVE mode. Defaults to the
	// decoder's search at construction time.
	CommandSearch string

	// Timeout is the ACTIVE window. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Acknowledgement prefixes the reply to the trigger phrase.
	Acknowledgement string

	Clock  Clock
	Bus    *bus.Bus
	Logger *zerolog.Logger
}

// Snapshot is a consistent view of the session state.
type Snapshot struct {
	Mode        Mode
	SegmentOpen bool
	Search      string
	Running     bool
	SessionID   string
}

// Listener runs the listening state machine.
type Listener struct {
	dec           Decoder
	in            Input
	proc          Processor
	sink          skill.Sink
	guard         *EchoGuard
	clock         Clock
	bus           *bus.Bus
	log           zerolog.Logger
	timeout       time.Duration
	ack           string
	commandSearch string

	lifecycle sync.Mutex // serializes Start

	mu     sync.Mutex
	run    *run
	phrase string
	snap   Snapshot

	suppressed atomic.Int64

	// s is owned by the event loop once it is running.
	s session
}

// run is one Start..Stop lifetime.
type run struct {
	id      string
	events  chan event
	control chan event // evCall, evStop
	done    chan struct{}
	err     error

	// detached is set when Stop arrived while a callback was running; the
	// loop cannot finish before that callback returns.
	detached atomic.Bool
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// New creates a listener in PASSIVE mode. It does not touch the input until
// Start is called.
func New(cfg Config) (*Listener, error) {
	switch {
	case cfg.Decoder == nil:
		return nil, errors.New("listener: decoder is nil")
	case cfg.Input == nil:
		return nil, errors.New("listener: input is nil")
	case cfg.Processor == nil:
		return nil, errors.New("listener: processor is nil")
	case cfg.Sink == nil:
		return nil, errors.New("listener: sink is nil")
	}

	commandSearch := cfg.CommandSearch
	if commandSearch == "" {
		commandSearch = cfg.Decoder.Search()
	}
	if commandSearch == "" {
		return nil, errors.New("listener: decoder has no command search")
	}
	if commandSearch == TriggerSearch {
		return nil, fmt.Errorf("listener: command search must differ from %q", TriggerSearch)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ack := cfg.Acknowledgement
	if ack == "" {
		ack = DefaultAcknowledgement
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}

	logger := log.With().Str("component", "listener").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Listener{
		dec:           cfg.Decoder,
		in:            cfg.Input,
		proc:          cfg.Processor,
		sink:          cfg.Sink,
		guard:         cfg.Guard,
		clock:         clock,
		bus:           cfg.Bus,
		log:           logger,
		timeout:       timeout,
		ack:           ack,
		commandSearch: commandSearch,
		phrase:        strings.TrimSpace(cfg.TriggerPhrase),
		snap:          Snapshot{Mode: Passive},
	}, nil
}

// Start opens the input, enters PASSIVE mode with a fresh decode segment on
// the trigger search and starts the event loop. Cancelling ctx stops the
// listener like Stop does.
func (l *Listener) Start(ctx context.Context) error {
	r, err := l.open()
	if err != nil {
		return err
	}
	go l.loop(ctx, r)
	return nil
}

// open performs the synchronous part of Start. The caller must consume
// r.events and r.control afterwards.
func (l *Listener) open() (*run, error) {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	l.mu.Lock()
	prev, phrase := l.run, l.phrase
	l.mu.Unlock()

	if prev != nil && !prev.finished() {
		return nil, ErrAlreadyRunning
	}
	if phrase == "" {
		return nil, ErrNoTriggerPhrase
	}

	if err := l.dec.SetKeyphrase(TriggerSearch, phrase); err != nil {
		return nil, fmt.Errorf("define trigger phrase: %w", err)
	}

	r := &run{
		id:     uuid.NewString(),
		events:  make(chan event, eventBuffer),
		control: make(chan event),
		done:    make(chan struct{}),
	}
	l.s = session{active: true, mode: Passive}

	l.in.OnFrame(func(frame []byte) { l.onFrame(r, frame) })
	if err := l.in.Start(); err != nil {
		l.s.active = false
		return nil, fmt.Errorf("start input: %w", err)
	}

	if err := l.listenFor(r, Passive, TriggerSearch); err != nil {
		l.s.active = false
		_ = l.in.Stop()
		return nil, err
	}

	l.mu.Lock()
	l.run = r
	l.snap = l.s.snapshot(r.id)
	l.mu.Unlock()

	l.log.Info().
		Str("session", r.id).
		Str("trigger_phrase", phrase).
		Str("command_search", l.commandSearch).
		Dur("timeout", l.timeout).
		Msg("listening for trigger phrase")

	event := bus.NewEvent(bus.EventSessionStarted)
	event.SessionID = r.id
	event.Mode = Passive.String()
	l.bus.Publish(event)

	return r, nil
}

// Stop cancels the reversion timer, closes any open segment and stops the
// input. Calling it again, or on a listener that never started, is a no-op.
//
// Stop normally returns after the event loop has ended. While a command or
// acknowledgement is being delivered it returns once the session is shut
// down; the loop ends when that delivery returns. This lets skills call Stop.
func (l *Listener) Stop() error {
	r := l.current()
	if r == nil {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case r.control <- event{kind: evStop, reply: reply}:
	case <-r.done:
		return nil
	}

	select {
	case err := <-reply:
		if !r.detached.Load() {
			<-r.done
		}
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return nil
		}
	}
}

// Wait blocks until the event loop ends and returns the error that ended
// it, if any. It returns nil immediately if the listener never started.
func (l *Listener) Wait() error {
	r := l.current()
	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Done is closed when the event loop ends.
func (l *Listener) Done() <-chan struct{} {
	if r := l.current(); r != nil {
		return r.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Snapshot returns the state after the last completed transition.
func (l *Listener) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// Suppressed returns how many frames the echo guard has dropped.
func (l *Listener) Suppressed() int64 {
	return l.suppressed.Load()
}

// TriggerPhrase returns the phrase spotted in PASSIVE mode.
func (l *Listener) TriggerPhrase() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phrase
}

// SetTriggerPhrase changes the trigger phrase. While running the decoder is
// updated from the event loop; otherwise the phrase is applied on Start.
func (l *Listener) SetTriggerPhrase(phrase string) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return ErrNoTriggerPhrase
	}

	err := l.call(func() error {
		if err := l.dec.SetKeyphrase(TriggerSearch, phrase); err != nil {
			return fmt.Errorf("define trigger phrase: %w", err)
		}
		l.mu.Lock()
		l.phrase = phrase
		l.mu.Unlock()
		return nil
	})
	if errors.Is(err, ErrNotRunning) {
		l.mu.Lock()
		l.phrase = phrase
		l.mu.Unlock()
		return nil
	}
	if err == nil {
		l.log.Info().Str("trigger_phrase", phrase).Msg("trigger phrase changed")
	}
	return err
}

func (l *Listener) current() *run {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run
}

// call runs fn on the event loop and returns its result.
func (l *Listener) call(fn func() error) error {
	r := l.current()
	if r == nil {
		return ErrNotRunning
	}

	reply := make(chan error, 1)
	select {
	case r.control <- event{kind: evCall, call: fn, reply: reply}:
	case <-r.done:
		return ErrNotRunning
	}

	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrNotRunning
		}
	}
}

// onFrame is the input callback.
func (l *Listener) onFrame(r *run, frame []byte) {
	if l.guard != nil && l.guard.Muted() {
		l.suppressed.Add(1)
		event := bus.NewEvent(bus.EventInputMuted)
		event.SessionID = r.id
		l.bus.Publish(event)
		return
	}

	// Inputs may reuse their buffer after the callback returns.
	buf := make([]byte, len(frame))
	copy(buf, frame)
	post(r, event{kind: evFrame, frame: buf})
}

// post delivers ev to the loop, or drops it once the loop has ended.
func post(r *run, ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (l *Listener) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer l.storeSnapshot(r)

	for {
		select {
		case <-ctx.Done():
			if err := l.shutdown(r); err != nil {
				l.log.Warn().Err(err).Msg("shutdown after context cancel")
			}
			return

		case ev := <-r.events:
			if l.step(r, ev) {
				return
			}

		case ev := <-r.control:
			if l.step(r, ev) {
				return
			}
		}
	}
}

// step applies ev and reports whether the loop should end.
func (l *Listener) step(r *run, ev event) bool {
	err := l.handle(r, ev)
	l.storeSnapshot(r)
	if err != nil {
		r.err = err
		l.fail(r, err)
		return true
	}
	return !l.s.active
}

// deliver runs fn on its own goroutine and serves control events until it
// returns, so fn may call back into the listener.
func (l *Listener) deliver(r *run, fn func()) {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		fn()
	}()

	for {
		select {
		case <-finished:
			return
		case ev := <-r.control:
			if ev.kind == evStop {
				r.detached.Store(true)
			}
			// control events never fail the session
			_ = l.handle(r, ev)
			l.storeSnapshot(r)
		}
	}
}

// fail ends a session after a decoder error.
func (l *Listener) fail(r *run, err error) {
	l.log.Error().Err(err).Str("session", r.id).Msg("listening session failed")

	event := bus.NewEvent(bus.EventSessionFailed)
	event.SessionID = r.id
	event.Error = err.Error()
	l.bus.Publish(event)

	if serr := l.shutdown(r); serr != nil {
		l.log.Warn().Err(serr).Msg("shutdown after failure")
	}
}

func (l *Listener) storeSnapshot(r *run) {
	snap := l.s.snapshot(r.id)
	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
}

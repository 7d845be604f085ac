// Package assistant assembles the okpi voice front end: a router holding the
// registered skills, a listener driving the decoder, and the sinks replies
// are spoken through, all sharing one echo guard and one event bus.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/okpi/internal/bus"
	"github.com/normanking/okpi/internal/config"
	"github.com/normanking/okpi/internal/journal"
	"github.com/normanking/okpi/internal/listener"
	"github.com/normanking/okpi/internal/metrics"
	"github.com/normanking/okpi/internal/output"
	"github.com/normanking/okpi/internal/router"
	"github.com/normanking/okpi/pkg/skill"
)

// Options configures an Assistant.
type Options struct {
	Decoder listener.Decoder // required
	Input   listener.Input   // required

	// Sinks receive every reply. At least one is required.
	Sinks []skill.Sink

	TriggerPhrase   string
	CommandSearch   string
	Acknowledgement string
	Timeout         time.Duration

	// EchoGuard is how long input stays muted after a reply.
	EchoGuard time.Duration

	// EchoPerWord extends the mute per word of the reply, for sinks that
	// return before the reply has been spoken.
	EchoPerWord time.Duration

	// DisableEchoGuard lets input through while replies are emitted, for
	// text inputs that cannot hear the assistant.
	DisableEchoGuard bool

	// Bus is shared with the caller when set; otherwise the assistant
	// creates one and closes it on Shutdown.
	Bus *bus.Bus

	// Journal and Metrics are attached to the bus when set.
	Journal *journal.Journal
	Metrics *metrics.Collector

	Clock listener.Clock
}

// FromConfig fills the listener settings of opts from cfg.
func (o *Options) FromConfig(cfg config.ListenerConfig) {
	o.TriggerPhrase = cfg.TriggerPhrase
	o.CommandSearch = cfg.CommandSearch
	o.Acknowledgement = cfg.Acknowledgement
	o.Timeout = cfg.Timeout
	o.EchoGuard = cfg.EchoGuard
	o.EchoPerWord = cfg.EchoPerWord
}

// Assistant is a configured voice front end.
type Assistant struct {
	router   *router.Router
	listener *listener.Listener
	guard    *listener.EchoGuard
	bus      *bus.Bus
	ownBus   bool
	metrics  *metrics.Collector
	log      zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New wires an assistant. Nothing is started until Launch.
func New(opts Options) (*Assistant, error) {
	if len(opts.Sinks) == 0 {
		return nil, errors.New("assistant: no output sinks")
	}

	b, ownBus := opts.Bus, false
	if b == nil {
		b, ownBus = bus.New(), true
	}

	// replies flow guard -> observer -> sinks
	var sink skill.Sink = output.Observe(output.Multi(opts.Sinks), b)
	var guard *listener.EchoGuard
	if !opts.DisableEchoGuard {
		guard = listener.NewEchoGuard(sink, opts.EchoGuard, opts.Clock)
		guard.SetPerWord(opts.EchoPerWord)
		sink = guard
	}

	a := &Assistant{
		guard:  guard,
		bus:    b,
		ownBus: ownBus,
		log:    log.With().Str("component", "assistant").Logger(),
	}

	cleanup := func() {
		if ownBus {
			_ = b.Close()
		}
	}

	r, err := router.New(router.Config{Sink: sink, Bus: b})
	if err != nil {
		cleanup()
		return nil, err
	}
	a.router = r

	l, err := listener.New(listener.Config{
		Decoder:         opts.Decoder,
		Input:           opts.Input,
		Processor:       r,
		Sink:            sink,
		Guard:           guard,
		TriggerPhrase:   opts.TriggerPhrase,
		CommandSearch:   opts.CommandSearch,
		Timeout:         opts.Timeout,
		Acknowledgement: opts.Acknowledgement,
		Clock:           opts.Clock,
		Bus:             b,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	a.listener = l

	if opts.Journal != nil {
		if err := opts.Journal.Attach(b); err != nil {
			cleanup()
			return nil, fmt.Errorf("attach journal: %w", err)
		}
	}
	if opts.Metrics != nil {
		if err := opts.Metrics.Attach(b); err != nil {
			cleanup()
			return nil, fmt.Errorf("attach metrics: %w", err)
		}
		a.metrics = opts.Metrics
	}

	return a, nil
}

// RegisterSkills adds skills to the registry. Each skill is registered
// atomically; skills with malformed templates are skipped and reported in
// the joined error while the others are still registered.
func (a *Assistant) RegisterSkills(skills ...skill.Skill) error {
	var errs []error
	for _, s := range skills {
		if err := a.router.Register(s); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", skill.NameOf(s), err))
			continue
		}
		a.log.Debug().Str("skill", skill.NameOf(s)).Strs("utterances", s.Utterances()).Msg("skill registered")
	}
	return errors.Join(errs...)
}

// UnregisterSkills removes skills and returns how many entries were removed.
func (a *Assistant) UnregisterSkills(skills ...skill.Skill) int {
	removed := 0
	for _, s := range skills {
		if a.router.Unregister(s) {
			removed++
		}
	}
	return removed
}

// Launch starts listening for the trigger phrase.
func (a *Assistant) Launch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("assistant: shut down")
	}
	if err := a.listener.Start(ctx); err != nil {
		return err
	}
	a.log.Info().Int("skills", a.router.Len()).Str("trigger_phrase", a.listener.TriggerPhrase()).Msg("assistant launched")
	return nil
}

// Shutdown stops listening and releases the bus if the assistant owns it.
// It is safe to call more than once.
func (a *Assistant) Shutdown() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	err := a.listener.Stop()

	// closing the bus drains pending events into the journal and metrics
	if a.ownBus {
		_ = a.bus.Close()
	}
	if a.metrics != nil {
		a.metrics.Detach()
	}

	stats := a.router.Stats()
	a.log.Info().
		Int64("processed", stats.Processed).
		Int64("matched", stats.Matched).
		Int64("fallbacks", stats.Fallbacks).
		Int64("suppressed", a.listener.Suppressed()).
		Msg("assistant shut down")
	return err
}

// Apply updates the settings that can change while running: the trigger
// phrase and the echo guard timings.
func (a *Assistant) Apply(cfg config.ListenerConfig) error {
	if a.guard != nil && cfg.EchoGuard >= 0 {
		a.guard.SetTail(cfg.EchoGuard)
	}
	if a.guard != nil && cfg.EchoPerWord >= 0 {
		a.guard.SetPerWord(cfg.EchoPerWord)
	}
	if cfg.TriggerPhrase != "" && cfg.TriggerPhrase != a.listener.TriggerPhrase() {
		return a.listener.SetTriggerPhrase(cfg.TriggerPhrase)
	}
	return nil
}

// Process routes text as if it had been heard in ACTIVE mode.
func (a *Assistant) Process(text string) {
	a.router.Process(text)
}

// Wait blocks until listening ends and returns the error that ended it.
func (a *Assistant) Wait() error { return a.listener.Wait() }

// Done is closed when listening ends.
func (a *Assistant) Done() <-chan struct{} { return a.listener.Done() }

// State returns the listener state.
func (a *Assistant) State() listener.Snapshot { return a.listener.Snapshot() }

// SetTriggerPhrase changes the trigger phrase, live if running.
func (a *Assistant) SetTriggerPhrase(phrase string) error {
	return a.listener.SetTriggerPhrase(phrase)
}

// TriggerPhrase returns the current trigger phrase.
func (a *Assistant) TriggerPhrase() string { return a.listener.TriggerPhrase() }

// Skills returns the registered skills in registration order.
func (a *Assistant) Skills() []skill.Skill { return a.router.Skills() }

// Stats returns routing counters.
func (a *Assistant) Stats() router.Stats { return a.router.Stats() }

// Bus returns the event bus.
func (a *Assistant) Bus() *bus.Bus { return a.bus }

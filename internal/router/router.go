package router

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/okpi/internal/bus"
	"github.com/normanking/okpi/pkg/skill"
)

// entry is one registration: a skill with its compiled templates.
type entry struct {
	skill    skill.Skill
	patterns []*Pattern
	order    int
}

// Config configures a Router.
type Config struct {
	// Sink receives skill output and fallback replies. Required.
	Sink skill.Sink

	// Bus receives routing events. Optional.
	Bus *bus.Bus

	// Logger overrides the global logger.
	Logger *zerolog.Logger
}

// Router holds the registered skills and routes utterances to them.
type Router struct {
	mu      sync.RWMutex
	entries []entry
	seq     int

	sink skill.Sink
	bus  *bus.Bus
	log  zerolog.Logger

	processed atomic.Int64
	matched   atomic.Int64
	fallbacks atomic.Int64
	ambiguous atomic.Int64
}

// New creates a router.
func New(cfg Config) (*Router, error) {
	if cfg.Sink == nil {
		return nil, errors.New("router: sink is nil")
	}

	logger := log.With().Str("component", "router").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Router{
		sink: cfg.Sink,
		bus:  cfg.Bus,
		log:  logger,
	}, nil
}

// Register compiles every template of s and adds it to the registry.
// If any template is malformed nothing is registered. Registering the same
// skill twice creates two independent entries.
func (r *Router) Register(s skill.Skill) error {
	if s == nil {
		return errors.New("router: skill is nil")
	}

	templates := s.Utterances()
	patterns := make([]*Pattern, 0, len(templates))
	for _, t := range templates {
		p, err := Compile(t)
		if err != nil {
			return fmt.Errorf("register %s: %w", skill.NameOf(s), err)
		}
		patterns = append(patterns, p)
	}

	r.mu.Lock()
	r.seq++
	r.entries = append(r.entries, entry{skill: s, patterns: patterns, order: r.seq})
	r.mu.Unlock()

	r.log.Debug().
		Str("skill", skill.NameOf(s)).
		Int("templates", len(patterns)).
		Msg("skill registered")

	return nil
}

// Unregister removes the first entry whose skill is structurally equal to s.
// It reports whether an entry was removed.
func (r *Router) Unregister(s skill.Skill) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if sameSkill(e.skill, s) {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			r.log.Debug().Str("skill", skill.NameOf(s)).Msg("skill unregistered")
			return true
		}
	}
	return false
}

// sameSkill compares by identity when the dynamic type allows it and falls
// back to deep structural equality otherwise.
func sameSkill(a, b skill.Skill) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta != nil && ta.Comparable() && a == b {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Skills returns the registered skills in registration order.
func (r *Router) Skills() []skill.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]skill.Skill, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.skill
	}
	return out
}

// Len returns the number of registry entries.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Match finds the winning candidate for text without invoking it.
// The second result is false when no template matches.
func (r *Router) Match(text string) (Candidate, bool) {
	best, _, ok := r.match(text)
	return best, ok
}

func (r *Router) match(text string) (Candidate, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  Candidate
		found bool
		count int
	)

	for _, e := range r.entries {
		for i, p := range e.patterns {
			slots, captured, ok := p.match(text)
			if !ok {
				continue
			}
			count++

			c := Candidate{
				Skill:         e.skill,
				Intent:        skill.NewIntent(e.skill, p.Template(), text, slots),
				Score:         captured,
				Order:         e.order,
				TemplateIndex: i,
			}
			if !found || c.beats(best) {
				best = c
				found = true
			}
		}
	}

	return best, count, found
}

// Process routes text to the winning skill, or replies with the fallback
// message when nothing matches. Exactly one of the two happens per call.
func (r *Router) Process(text string) {
	r.processed.Add(1)

	best, count, ok := r.match(text)
	if !ok {
		r.fallbacks.Add(1)
		r.log.Info().Str("utterance", text).Msg("no skill matched")

		event := bus.NewEvent(bus.EventUtteranceFallback)
		event.Text = text
		r.bus.Publish(event)

		r.sink.Emit(Fallback(text))
		return
	}

	r.matched.Add(1)
	if count > 1 {
		r.ambiguous.Add(1)
	}

	name := skill.NameOf(best.Skill)
	r.log.Info().
		Str("utterance", text).
		Str("skill", name).
		Str("template", best.Intent.Template()).
		Int("score", best.Score).
		Int("candidates", count).
		Msg("dispatching intent")

	event := bus.NewEvent(bus.EventUtteranceMatched)
	event.Text = text
	event.Skill = name
	event.Template = best.Intent.Template()
	event.Slots = best.Intent.Slots()
	event.Score = best.Score
	r.bus.Publish(event)

	best.Skill.Invoke(best.Intent, r.sink)
}

// Stats returns a snapshot of routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Processed: r.processed.Load(),
		Matched:   r.matched.Load(),
		Fallbacks: r.fallbacks.Load(),
		Ambiguous: r.ambiguous.Load(),
	}
}

package listener

import (
	"fmt"

	"github.com/normanking/okpi/internal/bus"
)

type eventKind int

const (
	evFrame eventKind = iota
	evTimer
	evCall
	evStop
)

// event is one input to the state machine.
type event struct {
	kind  eventKind
	frame []byte       // evFrame
	gen   uint64       // evTimer
	call  func() error // evCall
	reply chan error   // evCall, evStop
}

// session is the mutable state of one listening session. Only the event
// loop touches it while running.
type session struct {
	active      bool
	mode        Mode
	segmentOpen bool
	search      string
	timer       Timer
	gen         uint64
}

func (s *session) snapshot(id string) Snapshot {
	return Snapshot{
		Mode:        s.mode,
		SegmentOpen: s.segmentOpen,
		Search:      s.search,
		Running:     s.active,
		SessionID:   id,
	}
}

// handle applies one event. A returned error is fatal to the session.
func (l *Listener) handle(r *run, ev event) error {
	if !l.s.active {
		if ev.reply != nil {
			if ev.kind == evCall {
				ev.reply <- ErrNotRunning
			} else {
				ev.reply <- nil
			}
		}
		return nil
	}

	switch ev.kind {
	case evFrame:
		return l.onAudio(r, ev.frame)

	case evTimer:
		return l.onTimeout(r, ev.gen)

	case evCall:
		ev.reply <- ev.call()
		return nil

	case evStop:
		ev.reply <- l.shutdown(r)
		return nil

	default:
		return fmt.Errorf("listener: unknown event kind %d", ev.kind)
	}
}

func (l *Listener) onAudio(r *run, frame []byte) error {
	if err := l.dec.ProcessFrame(frame); err != nil {
		return fmt.Errorf("process frame: %w", err)
	}

	hyp, ok := l.dec.Hypothesis()
	if !ok {
		return nil
	}

	switch l.s.mode {
	case Passive:
		return l.onTrigger(r, hyp)
	default:
		l.onCommand(r, hyp)
		return nil
	}
}

// onTrigger moves to ACTIVE mode. The window is not extended by later
// commands; only the timer ends it.
func (l *Listener) onTrigger(r *run, hyp string) error {
	l.log.Info().Str("hypothesis", hyp).Msg("trigger phrase heard, listening for command")

	event := bus.NewEvent(bus.EventTriggerHeard)
	event.SessionID = r.id
	event.Text = hyp
	l.bus.Publish(event)

	if err := l.listenFor(r, Active, l.commandSearch); err != nil {
		return err
	}
	l.schedule(r)
	l.deliver(r, func() { l.sink.Emit(l.ack + " " + hyp) })
	return nil
}

func (l *Listener) onCommand(r *run, hyp string) {
	l.log.Debug().Str("session", r.id).Str("hypothesis", hyp).Msg("command heard")
	l.deliver(r, func() { l.proc.Process(hyp) })
}

func (l *Listener) onTimeout(r *run, gen uint64) error {
	if gen != l.s.gen || l.s.mode != Active {
		l.log.Debug().Uint64("gen", gen).Uint64("current", l.s.gen).Msg("ignoring stale timer")
		return nil
	}
	l.s.timer = nil

	l.log.Info().Dur("timeout", l.timeout).Msg("command window elapsed, listening for trigger phrase")
	return l.listenFor(r, Passive, TriggerSearch)
}

// listenFor restarts the decode segment on search and records mode.
func (l *Listener) listenFor(r *run, mode Mode, search string) error {
	if err := l.endSegment(); err != nil {
		return err
	}
	if err := l.dec.SetSearch(search); err != nil {
		return fmt.Errorf("set search %q: %w", search, err)
	}
	l.s.search = search

	prev := l.s.mode
	l.s.mode = mode

	if err := l.startSegment(); err != nil {
		return err
	}

	if prev != mode {
		l.log.Debug().Str("from", prev.String()).Str("to", mode.String()).Msg("mode changed")

		event := bus.NewEvent(bus.EventModeChanged)
		event.SessionID = r.id
		event.Mode = mode.String()
		l.bus.Publish(event)
	}
	return nil
}

func (l *Listener) startSegment() error {
	if l.s.segmentOpen {
		return nil
	}
	if err := l.dec.StartSegment(); err != nil {
		return fmt.Errorf("start segment: %w", err)
	}
	l.s.segmentOpen = true
	return nil
}

func (l *Listener) endSegment() error {
	if !l.s.segmentOpen {
		return nil
	}
	if err := l.dec.EndSegment(); err != nil {
		return fmt.Errorf("end segment: %w", err)
	}
	l.s.segmentOpen = false
	return nil
}

// schedule arms the reversion timer, replacing any pending one.
func (l *Listener) schedule(r *run) {
	l.cancelTimer()
	l.s.gen++
	gen := l.s.gen
	l.s.timer = l.clock.AfterFunc(l.timeout, func() {
		post(r, event{kind: evTimer, gen: gen})
	})
}

func (l *Listener) cancelTimer() {
	if l.s.timer != nil {
		l.s.timer.Stop()
		l.s.timer = nil
	}
}

// shutdown ends the session from any state. It is safe to call twice.
func (l *Listener) shutdown(r *run) error {
	if !l.s.active {
		return nil
	}
	l.s.active = false
	l.cancelTimer()

	segErr := l.endSegment()
	inErr := l.in.Stop()

	l.log.Info().Str("session", r.id).Int64("suppressed_frames", l.suppressed.Load()).Msg("listener stopped")

	event := bus.NewEvent(bus.EventSessionStopped)
	event.SessionID = r.id
	l.bus.Publish(event)

	if segErr != nil {
		return segErr
	}
	if inErr != nil {
		return fmt.Errorf("stop input: %w", inErr)
	}
	return nil
}

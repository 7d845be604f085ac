package output

import (
	"github.com/normanking/okpi/internal/bus"
	"github.com/normanking/okpi/pkg/skill"
)

// Multi emits to every sink in order. Nil sinks are skipped.
type Multi []skill.Sink

// Emit forwards text to each sink.
func (m Multi) Emit(text string) {
	for _, s := range m {
		if s != nil {
			s.Emit(text)
		}
	}
}

// Observed publishes an output.emitted event for every emission before
// forwarding it to next.
type Observed struct {
	next skill.Sink
	bus  *bus.Bus
}

// Observe wraps next.
func Observe(next skill.Sink, b *bus.Bus) *Observed {
	return &Observed{next: next, bus: b}
}

// Emit records text on the bus and forwards it.
func (o *Observed) Emit(text string) {
	event := bus.NewEvent(bus.EventOutputEmitted)
	event.Text = text
	o.bus.Publish(event)

	if o.next != nil {
		o.next.Emit(text)
	}
}

// Package skill defines the contracts shared between the okpi core and the
// capabilities (skills) it dispatches to.
package skill

import (
	"fmt"
	"reflect"
)

// Sink receives text the assistant wants to say.
// Emit is fire-and-forget; implementations must not block for long.
type Sink interface {
	Emit(text string)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(text string)

// Emit calls f(text).
func (f SinkFunc) Emit(text string) { f(text) }

// Skill is a capability the assistant can dispatch an utterance to.
//
// Utterances returns the phrase templates the skill answers to, for example
// "set a timer for {minutes} minutes". Invoke is called with the intent
// extracted from the winning template and the sink to answer through.
type Skill interface {
	Utterances() []string
	Invoke(intent Intent, out Sink)
}

// Named is implemented by skills that want a stable name in logs and the
// dispatch journal.
type Named interface {
	Name() string
}

// NameOf returns the skill's name, falling back to its Go type name.
func NameOf(s Skill) string {
	if s == nil {
		return ""
	}
	if n, ok := s.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return fmt.Sprintf("%T", s)
	}
	return t.Name()
}

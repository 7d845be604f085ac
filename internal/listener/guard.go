package listener

import (
	"strings"
	"sync"
	"time"

	"github.com/normanking/okpi/pkg/skill"
)

const (
	// DefaultEchoTail is how long input stays muted after an emission finishes.
	DefaultEchoTail = 750 * time.Millisecond

	// DefaultSpeechPerWord approximates speaking time per word, about 150
	// words a minute.
	DefaultSpeechPerWord = 400 * time.Millisecond
)

// EchoGuard wraps the output sink and tracks when the assistant is talking.
// The listener drops input frames while the guard is muted, so the
// assistant's own voice is not decoded as a new utterance.
//
// The guard is muted while any Emit is in progress and for the tail
// duration after the last one returns. It is safe for concurrent use, which
// matters for skills that emit from their own goroutines.
//
// A sink that hands text to an external speech process returns before the
// text is spoken. For those, set a per-word allowance with SetPerWord so the
// quiet period covers playback of the reply.
type EchoGuard struct {
	next    skill.Sink
	tail    time.Duration
	perWord time.Duration
	clock   Clock

	mu         sync.Mutex
	depth      int
	quietUntil time.Time
}

// NewEchoGuard wraps next. A nil clock uses the system clock and a negative
// tail is treated as zero.
func NewEchoGuard(next skill.Sink, tail time.Duration, clock Clock) *EchoGuard {
	if clock == nil {
		clock = SystemClock()
	}
	if tail < 0 {
		tail = 0
	}
	return &EchoGuard{next: next, tail: tail, clock: clock}
}

// Emit forwards text to the wrapped sink with input muted.
func (g *EchoGuard) Emit(text string) {
	g.mu.Lock()
	g.depth++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.depth--
		quiet := g.tail + time.Duration(len(strings.Fields(text)))*g.perWord
		if until := g.clock.Now().Add(quiet); until.After(g.quietUntil) {
			g.quietUntil = until
		}
		g.mu.Unlock()
	}()

	if g.next != nil {
		g.next.Emit(text)
	}
}

// Muted reports whether input should currently be ignored.
func (g *EchoGuard) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth > 0 || g.clock.Now().Before(g.quietUntil)
}

// SetPerWord changes the extra quiet period per word of emitted text.
func (g *EchoGuard) SetPerWord(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.mu.Lock()
	g.perWord = d
	g.mu.Unlock()
}

// SetTail changes the quiet period applied after future emissions.
func (g *EchoGuard) SetTail(tail time.Duration) {
	if tail < 0 {
		tail = 0
	}
	g.mu.Lock()
	g.tail = tail
	g.mu.Unlock()
}

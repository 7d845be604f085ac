// Package skills contains the capabilities okpi ships with.
package skills

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/okpi/pkg/skill"
)

// Builtin returns one instance of every bundled skill.
func Builtin() []skill.Skill {
	return []skill.Skill{NewClock(), NewTimer(), Echo{}}
}

// Clock tells the time.
type Clock struct {
	now func() time.Time
}

// NewClock creates a clock reading the system time.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Name() string { return "clock" }

func (c *Clock) Utterances() []string {
	return []string{"what time is it", "what is the time"}
}

// Invoke answers "the time is H M", hours and minutes unpadded.
func (c *Clock) Invoke(_ skill.Intent, out skill.Sink) {
	now := c.now()
	out.Emit(fmt.Sprintf("the time is %d %d", now.Hour(), now.Minute()))
}

// MaxTimer is the longest countdown the timer skill accepts.
const MaxTimer = 24 * time.Hour

// Timer counts down and announces when the time is up. Announcements arrive
// asynchronously on the sink the timer was set through.
type Timer struct {
	afterFunc func(time.Duration, func()) *time.Timer
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[int]*time.Timer
	next    int
}

// NewTimer creates a timer skill with no pending countdowns.
func NewTimer() *Timer {
	return &Timer{
		afterFunc: time.AfterFunc,
		log:       log.With().Str("component", "skill").Str("skill", "timer").Logger(),
		pending:   make(map[int]*time.Timer),
	}
}

func (t *Timer) Name() string { return "timer" }

func (t *Timer) Utterances() []string {
	return []string{
		"set a timer for {minutes} minutes",
		"set a timer for {seconds} seconds",
		"set a timer for one minute",
		"cancel the timers",
	}
}

func (t *Timer) Invoke(intent skill.Intent, out skill.Sink) {
	if intent.Template() == "cancel the timers" {
		n := t.Stop()
		out.Emit(fmt.Sprintf("cancelled %d %s", n, plural(n, "timer")))
		return
	}

	amount, unit := 1, "minute"
	if v, ok := intent.Slot("minutes"); ok {
		amount, unit = parseCount(v), "minute"
	} else if v, ok := intent.Slot("seconds"); ok {
		amount, unit = parseCount(v), "second"
	}
	if amount <= 0 {
		out.Emit("Sorry, I did not catch how long the timer should run")
		return
	}

	per := time.Minute
	if unit == "second" {
		per = time.Second
	}
	// compare before multiplying, large spoken counts overflow Duration
	if amount > int(MaxTimer/per) {
		out.Emit("Sorry, timers can run for at most 24 hours")
		return
	}
	d := time.Duration(amount) * per
	label := fmt.Sprintf("%d %s", amount, plural(amount, unit))

	t.mu.Lock()
	id := t.next
	t.next++
	t.pending[id] = t.afterFunc(d, func() {
		t.mu.Lock()
		_, live := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if !live {
			return
		}
		t.log.Info().Str("duration", label).Msg("timer finished")
		out.Emit("your " + label + " timer is done")
	})
	t.mu.Unlock()

	t.log.Info().Dur("duration", d).Msg("timer set")
	out.Emit("timer set for " + label)
}

// Pending returns the number of running countdowns.
func (t *Timer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels every running countdown and returns how many there were.
func (t *Timer) Stop() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.pending)
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
	return n
}

// parseCount reads a spoken count, either digits or a small number word.
func parseCount(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return numberWords[s]
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40,
	"forty five": 45, "sixty": 60, "ninety": 90,
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Echo repeats whatever follows "say".
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Utterances() []string { return []string{"say {text}", "repeat after me {text}"} }

func (Echo) Invoke(intent skill.Intent, out skill.Sink) {
	text, _ := intent.Slot("text")
	out.Emit(text)
}

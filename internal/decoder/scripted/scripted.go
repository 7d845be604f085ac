// Package scripted provides a decoder and an input driven by text instead of
// audio. Each frame carries one line of already-recognized speech, which
// makes the listener usable from a terminal and easy to exercise in tests.
package scripted

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultSearch is the command search key used when none is given.
const DefaultSearch = "command"

var (
	ErrNoSegment     = errors.New("scripted: no segment open")
	ErrSegmentOpen   = errors.New("scripted: segment already open")
	ErrUnknownSearch = errors.New("scripted: unknown search")
)

// Decoder treats each frame as a line of text.
//
// In a keyphrase search a frame yields a hypothesis only when it contains
// the keyphrase, and the hypothesis is the keyphrase itself. In the command
// search any non-blank frame is a hypothesis.
type Decoder struct {
	mu            sync.Mutex
	commandSearch string
	search        string
	keyphrases    map[string]string
	segmentOpen   bool
	pending       []string
	frames        int
	segments      int
}

// New creates a decoder whose active search is commandSearch.
func New(commandSearch string) *Decoder {
	if commandSearch == "" {
		commandSearch = DefaultSearch
	}
	return &Decoder{
		commandSearch: commandSearch,
		search:        commandSearch,
		keyphrases:    make(map[string]string),
	}
}

// ProcessFrame decodes one line of text.
func (d *Decoder) ProcessFrame(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.segmentOpen {
		return ErrNoSegment
	}
	d.frames++

	text := strings.Join(strings.Fields(string(frame)), " ")
	if text == "" {
		return nil
	}

	if phrase, ok := d.keyphrases[d.search]; ok {
		if containsFold(text, phrase) {
			d.pending = append(d.pending, phrase)
		}
		return nil
	}
	d.pending = append(d.pending, text)
	return nil
}

// Hypothesis returns the oldest undelivered hypothesis.
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

// StartSegment opens a segment and discards results of the previous one.
func (d *Decoder) StartSegment() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.segmentOpen {
		return ErrSegmentOpen
	}
	d.segmentOpen = true
	d.pending = nil
	d.segments++
	return nil
}

// EndSegment closes the current segment.
func (d *Decoder) EndSegment() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.segmentOpen {
		return ErrNoSegment
	}
	d.segmentOpen = false
	return nil
}

// SetSearch activates a search. It fails while a segment is open or when
// the key was never defined.
func (d *Decoder) SetSearch(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.segmentOpen {
		return fmt.Errorf("set search %q: %w", key, ErrSegmentOpen)
	}
	if _, ok := d.keyphrases[key]; !ok && key != d.commandSearch {
		return fmt.Errorf("%w: %q", ErrUnknownSearch, key)
	}
	d.search = key
	return nil
}

// SetKeyphrase defines or replaces a keyphrase search.
func (d *Decoder) SetKeyphrase(key, phrase string) error {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if key == "" || phrase == "" {
		return errors.New("scripted: keyphrase search needs a key and a phrase")
	}
	if key == d.commandSearch {
		return fmt.Errorf("scripted: %q is the command search", key)
	}

	d.mu.Lock()
	d.keyphrases[key] = phrase
	d.mu.Unlock()
	return nil
}

// Search returns the active search key.
func (d *Decoder) Search() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.search
}

// Stats reports how many frames and segments were processed.
func (d *Decoder) Stats() (frames, segments int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, d.segments
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

package scripted

import (
	"errors"
	"sync"
)

// ErrStopped is returned by Say when the input is not running.
var ErrStopped = errors.New("scripted: input not started")

// Input delivers typed lines as frames.
type Input struct {
	mu      sync.Mutex
	fn      func([]byte)
	running bool
}

// NewInput creates a stopped input.
func NewInput() *Input { return &Input{} }

func (in *Input) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.running = true
	return nil
}

func (in *Input) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.running = false
	return nil
}

func (in *Input) OnFrame(fn func([]byte)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.fn = fn
}

// Say delivers line as one frame.
func (in *Input) Say(line string) error {
	in.mu.Lock()
	fn, running := in.fn, in.running
	in.mu.Unlock()

	if !running || fn == nil {
		return ErrStopped
	}
	fn([]byte(line))
	return nil
}

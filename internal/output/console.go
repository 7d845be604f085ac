// Package output provides the sinks the assistant speaks through: a styled
// console transcript, a Redis channel for an external text-to-speech
// service, and combinators to fan out and observe emissions.
package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ConsoleOptions configures a Console sink.
type ConsoleOptions struct {
	// Name is printed before each line (default "okpi").
	Name string
}

// Console writes each emission as one styled line.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	name   string
	prefix lipgloss.Style
	body   lipgloss.Style
}

// NewConsole creates a console sink writing to w (default stdout). Colors
// are only used when w is a terminal.
func NewConsole(w io.Writer, opts ConsoleOptions) *Console {
	if w == nil {
		w = os.Stdout
	}
	if opts.Name == "" {
		opts.Name = "okpi"
	}

	r := lipgloss.NewRenderer(w)
	return &Console{
		w:      w,
		name:   opts.Name,
		prefix: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		body:   r.NewStyle().Foreground(lipgloss.Color("#FAFAFA")),
	}
}

// Emit prints text.
func (c *Console) Emit(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.prefix.Render(c.name+">")+" "+c.body.Render(text))
}

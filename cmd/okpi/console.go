package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/normanking/okpi/internal/assistant"
	"github.com/normanking/okpi/internal/decoder/scripted"
	"github.com/normanking/okpi/internal/journal"
	"github.com/normanking/okpi/internal/listener"
	"github.com/normanking/okpi/internal/skills"
	"github.com/normanking/okpi/pkg/skill"
)

const (
	consoleHistory = 200
	stateInterval  = 100 * time.Millisecond
)

var (
	youStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	okpiStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	activeBadge  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#10B981")).Padding(0, 1)
	passiveBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#6B7280")).Padding(0, 1)
)

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Talk to okpi by typing",
		Long: `Starts an interactive console where each typed line is treated as a
recognized utterance. Say the trigger phrase first, then a command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			in := scripted.NewInput()
			sink := &programSink{}

			var j *journal.Journal
			if cfg.Journal.Enabled {
				if j, err = journal.Open(cfg.Journal.Path); err != nil {
					return err
				}
				defer j.Close()
			}

			opts := assistant.Options{
				Decoder:          scripted.New(cfg.Listener.CommandSearch),
				Input:            in,
				Sinks:            []skill.Sink{sink},
				Journal:          j,
				DisableEchoGuard: true,
			}
			opts.FromConfig(cfg.Listener)

			a, err := assistant.New(opts)
			if err != nil {
				return err
			}
			timer := skills.NewTimer()
			defer timer.Stop()
			if err := a.RegisterSkills(skills.NewClock(), timer, skills.Echo{}); err != nil {
				return err
			}

			p := tea.NewProgram(newConsoleModel(in.Say, a.State, a.TriggerPhrase()))
			sink.attach(p)

			if err := a.Launch(cmd.Context()); err != nil {
				return err
			}
			_, runErr := p.Run()
			sink.attach(nil)

			if err := a.Shutdown(); err != nil {
				return err
			}
			if err := a.Wait(); err != nil {
				return err
			}
			return runErr
		},
	}
}

// programSink forwards replies to the running bubbletea program.
type programSink struct {
	mu sync.Mutex
	p  *tea.Program
}

func (s *programSink) attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

func (s *programSink) Emit(text string) {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(replyMsg(text))
	}
}

type replyMsg string

type stateTickMsg struct{}

type consoleLine struct {
	fromUser bool
	text     string
}

type consoleModel struct {
	input   textinput.Model
	say     func(string) error
	state   func() listener.Snapshot
	trigger string

	snap  listener.Snapshot
	lines []consoleLine
	width int
}

func newConsoleModel(say func(string) error, state func() listener.Snapshot, trigger string) consoleModel {
	input := textinput.New()
	input.Placeholder = fmt.Sprintf("say %q, then a command", trigger)
	input.Prompt = "> "
	input.Focus()

	return consoleModel{
		input:   input,
		say:     say,
		state:   state,
		trigger: trigger,
	}
}

func tickState() tea.Cmd {
	return tea.Tick(stateInterval, func(time.Time) tea.Msg { return stateTickMsg{} })
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickState())
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 4

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			m.appendLine(consoleLine{fromUser: true, text: text})
			if err := m.say(text); err != nil {
				m.appendLine(consoleLine{text: "error: " + err.Error()})
			}
			return m, nil
		}

	case replyMsg:
		m.appendLine(consoleLine{text: string(msg)})
		return m, nil

	case stateTickMsg:
		if m.state != nil {
			m.snap = m.state()
		}
		return m, tickState()
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) appendLine(l consoleLine) {
	m.lines = append(m.lines, l)
	if len(m.lines) > consoleHistory {
		m.lines = m.lines[len(m.lines)-consoleHistory:]
	}
}

func (m consoleModel) View() string {
	var b strings.Builder

	badge := passiveBadge.Render("PASSIVE")
	if m.snap.Mode == listener.Active {
		badge = activeBadge.Render("ACTIVE")
	}
	b.WriteString(titleStyle.Render("okpi console") + "  " + badge + "  " + dimStyle.Render("trigger: "+m.trigger) + "\n\n")

	for _, l := range m.lines {
		if l.fromUser {
			b.WriteString(youStyle.Render("you>") + " " + l.text + "\n")
		} else {
			b.WriteString(okpiStyle.Render("okpi>") + " " + l.text + "\n")
		}
	}

	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(dimStyle.Render("enter to speak • esc to quit") + "\n")
	return b.String()
}

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-companion/core"
	"github.com/muesli/reflow/wordwrap"
)

type (
	stateMsg      struct{ from, to orchestration.StateName }
	interimMsg    string
	transcriptMsg string
	replyMsg      string
)

// statusFeed carries session callbacks to the status view. Callbacks run on
// the control goroutine and must not block, so updates are dropped when the
// view falls behind.
type statusFeed struct {
	msgs chan tea.Msg
}

func newStatusFeed() *statusFeed {
	return &statusFeed{msgs: make(chan tea.Msg, 64)}
}

func (f *statusFeed) send(msg tea.Msg) {
	select {
	case f.msgs <- msg:
	default:
	}
}

func (f *statusFeed) sessionOptions() []orchestration.SessionOption {
	return []orchestration.SessionOption{
		orchestration.WithStateChangedCallback(func(from, to orchestration.StateName) {
			f.send(stateMsg{from: from, to: to})
		}),
		orchestration.WithInterimTranscriptCallback(func(transcript string) { f.send(interimMsg(transcript)) }),
		orchestration.WithTranscriptCallback(func(transcript string) { f.send(transcriptMsg(transcript)) }),
		orchestration.WithReplyCallback(func(reply string) { f.send(replyMsg(reply)) }),
	}
}

func (f *statusFeed) next() tea.Cmd {
	return func() tea.Msg { return <-f.msgs }
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	stateStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	interimStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#AAAAAA"))
	replyStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type statusModel struct {
	feed    *statusFeed
	spinner spinner.Model
	input   textinput.Model
	// manual is nil unless typed input is enabled.
	manual chan<- string

	state      orchestration.StateName
	interim    string
	transcript string
	reply      string
	width      int
}

func newStatusModel(feed *statusFeed, manual chan<- string) statusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = stateStyle

	input := textinput.New()
	input.Placeholder = "type to talk"
	input.CharLimit = 280
	if manual != nil {
		input.Focus()
	}

	return statusModel{
		feed:    feed,
		spinner: s,
		input:   input,
		manual:  manual,
		state:   orchestration.StateSleep,
		width:   80,
	}
}

func (m statusModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.feed.next()}
	if m.manual != nil {
		cmds = append(cmds, textinput.Blink)
	}
	return tea.Batch(cmds...)
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.manual != nil {
				line := strings.TrimSpace(m.input.Value())
				m.input.Reset()
				if line != "" {
					return m, submit(m.manual, line)
				}
				return m, nil
			}
		}
		if m.manual == nil && msg.String() == "q" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateMsg:
		m.state = msg.to
		if msg.to == orchestration.StateListening {
			m.interim = ""
		}
		return m, m.feed.next()
	case interimMsg:
		m.interim = string(msg)
		return m, m.feed.next()
	case transcriptMsg:
		m.transcript = string(msg)
		m.interim = ""
		return m, m.feed.next()
	case replyMsg:
		m.reply = string(msg)
		return m, m.feed.next()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.manual != nil {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// submit hands a typed line to the control loop without blocking the view.
func submit(manual chan<- string, line string) tea.Cmd {
	return func() tea.Msg {
		manual <- line
		return nil
	}
}

func (m statusModel) View() string {
	width := max(m.width-4, 20)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Baymax"))
	b.WriteString("\n\n")

	state := stateStyle.Render(string(m.state))
	if m.state != orchestration.StateSleep {
		state = m.spinner.View() + " " + state
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("state:"), state)

	if m.interim != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("hearing:"), interimStyle.Render(wordwrap.String(m.interim, width)))
	}
	if m.transcript != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("you:"), wordwrap.String(m.transcript, width))
	}
	if m.reply != "" {
		b.WriteString(replyStyle.Render(wordwrap.String(m.reply, width)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.manual != nil {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("enter to send, esc to quit"))
	} else {
		b.WriteString(labelStyle.Render("q to quit"))
	}
	return b.String()
}

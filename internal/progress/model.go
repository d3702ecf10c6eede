package progress

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type incomingMsg struct{ msg Msg }

type closedMsg struct{}

func waitMsg(ch <-chan Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return incomingMsg{msg: msg}
	}
}

// model animates a status line while printing finished servers above it.
type model struct {
	styles   Styles
	spinner  spinner.Model
	ch       <-chan Msg
	tally    tally
	disabled []string
	final    string
	finished bool
}

func newModel(opts Options, ch <-chan Msg) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	styles := NewStyles(opts.Output)
	sp.Style = styles.name
	return model{
		styles:   styles,
		spinner:  sp,
		ch:       ch,
		tally:    tally{total: opts.Total},
		disabled: opts.Disabled,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitMsg(m.ch)}
	for _, name := range m.disabled {
		cmds = append(cmds, tea.Println(m.styles.Disabled(name)))
	}
	return tea.Sequence(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case incomingMsg:
		text, stop := m.tally.apply(m.styles, msg.msg)
		if stop {
			m.finished = true
			m.final = text
			return m, tea.Quit
		}
		if text == "" {
			return m, waitMsg(m.ch)
		}
		return m, tea.Batch(tea.Println(text), waitMsg(m.ch))

	case closedMsg:
		m.finished = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.finished {
		if m.final == "" {
			return ""
		}
		return m.final + "\n"
	}
	if m.tally.total == 0 {
		return ""
	}
	return m.styles.Status(m.spinner.View(), m.tally.complete, m.tally.failed, m.tally.total) + "\n"
}

func runProgram(ctx context.Context, opts Options, ch <-chan Msg) error {
	p := tea.NewProgram(newModel(opts, ch),
		tea.WithContext(ctx),
		tea.WithOutput(opts.Output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

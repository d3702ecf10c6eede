package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles formats loading messages. The zero value renders plain text.
type Styles struct {
	ok    lipgloss.Style
	fail  lipgloss.Style
	warn  lipgloss.Style
	name  lipgloss.Style
	time  lipgloss.Style
	muted lipgloss.Style
}

// NewStyles returns colored styles for w. Color is dropped automatically
// when w is not a terminal.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		ok:    r.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("#ff5f87")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		name:  r.NewStyle().Foreground(lipgloss.Color("#01cdfe")),
		time:  r.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		muted: r.NewStyle().Foreground(lipgloss.Color("#9ca3d8")),
	}
}

// Success is the line printed when a server loaded.
func (s Styles) Success(name, time string) string {
	return fmt.Sprintf("%s %s loaded in %s", s.ok.Render("✓"), s.name.Render(name), s.time.Render(time+" s"))
}

// Failure is the block printed when a server failed to load.
func (s Styles) Failure(name, msg, time string) string {
	return fmt.Sprintf("%s %s has failed to load after %s\n - %s\n - run with TOOLHUB_DEBUG=1 and check the toolhub log for detail",
		s.fail.Render("✗"), s.name.Render(name), s.time.Render(time+" s"), msg)
}

// Warning is the block printed when a server loaded with a warning.
func (s Styles) Warning(name, msg, time string) string {
	return fmt.Sprintf("%s %s has loaded in %s with the following warning:\n%s",
		s.warn.Render("⚠"), s.name.Render(name), s.time.Render(time+" s"), strings.TrimRight(msg, "\n"))
}

// SignIn is printed when a server asks the user to authenticate.
func (s Styles) SignIn(name string) string {
	return fmt.Sprintf("%s %s requires OAuth authentication. Use /mcp to see the auth link", s.warn.Render("⚠"), s.name.Render(name))
}

// SignInLink is the load record kept for a server that asked for sign-in.
func (s Styles) SignInLink(name, link string) string {
	return fmt.Sprintf("%s %s requires OAuth authentication. Follow this link to proceed: \n%s",
		s.warn.Render("⚠"), s.name.Render(name), s.warn.Render(link))
}

// Disabled is printed for each disabled server.
func (s Styles) Disabled(name string) string {
	return fmt.Sprintf("%s %s is disabled", s.muted.Render("○"), s.name.Render(name))
}

// PromptListFailure is the load record kept when a prompt listing failed.
func (s Styles) PromptListFailure(name, msg string) string {
	return fmt.Sprintf("Prompt list for %s failed with the following message: \n%s", name, msg)
}

// Status is the summary line shown while servers load.
func (s Styles) Status(frame string, complete, failed, total int) string {
	var icon string
	switch {
	case total == complete:
		icon = s.ok.Render("✓")
	case total == complete+failed:
		icon = s.fail.Render("✗")
	default:
		icon = frame
	}
	line := fmt.Sprintf("%s %s of %s mcp servers initialized.", icon,
		s.name.Render(fmt.Sprint(complete)), s.name.Render(fmt.Sprint(total)))
	if total > complete+failed {
		line += s.name.Render(" ctrl-c") + " to start chatting now"
	}
	return line
}

// Incomplete is printed when loading stopped before every server finished.
func (s Styles) Incomplete(complete, total int, pending []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s of %s mcp servers initialized. Servers still loading:",
		s.warn.Render("⚠"), s.name.Render(fmt.Sprint(complete)), s.name.Render(fmt.Sprint(total)))
	for _, name := range pending {
		b.WriteString("\n - " + name)
	}
	return b.String()
}

// InvalidServerName is printed for a server using the reserved builtin name.
func (s Styles) InvalidServerName(name string) string {
	return fmt.Sprintf("%s Invalid server name %s. Server name cannot contain reserved word %s (it is used to denote native tools)",
		s.fail.Render("✗"), s.name.Render(name), name)
}

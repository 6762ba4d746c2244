package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/lifecycle"
	"github.com/deepgram/persona-relay/pkg/notify"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	controlsStyle  = lipgloss.NewStyle().Faint(true)
	descStyle      = lipgloss.NewStyle().Faint(true).PaddingLeft(2)

	noticeStyles = map[notify.Type]lipgloss.Style{
		notify.Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		notify.Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		notify.Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		notify.Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		notify.Loading: lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Italic(true),
	}

	noticeIcons = map[notify.Type]string{
		notify.Success: "✓",
		notify.Error:   "✗",
		notify.Warning: "!",
		notify.Info:    "i",
		notify.Loading: "…",
	}
)

// Renderer prints session state to a terminal. It implements lifecycle.UI.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer

	shown int
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

func (r *Renderer) SetControls(c lifecycle.Controls) {
	var parts []string
	switch {
	case c.StartLoading:
		parts = append(parts, "starting...")
	case c.StartEnabled:
		parts = append(parts, "/start")
	}
	if c.StopEnabled {
		parts = append(parts, "/stop")
	}
	parts = append(parts, "/quit")

	r.printf("%s\n", controlsStyle.Render("[ "+strings.Join(parts, "  ")+" ]"))
}

// ShowHistory prints messages not yet printed. A shorter history than the
// one already shown means a new conversation started.
func (r *Renderer) ShowHistory(history []chat.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(history) < r.shown {
		r.shown = 0
	}
	for _, m := range history[r.shown:] {
		fmt.Fprintln(r.out, formatMessage(m))
	}
	r.shown = len(history)
}

// Notice prints notification queue events. Subscribe it to a notify.Queue.
func (r *Renderer) Notice(ev notify.Event) {
	if ev.Kind != notify.EventShown {
		return
	}
	n := ev.Notification
	style, ok := noticeStyles[n.Type]
	if !ok {
		style = lipgloss.NewStyle()
	}

	line := style.Render(fmt.Sprintf("%s %s: %s", noticeIcons[n.Type], n.Title, n.Message))
	if n.Description != "" {
		line += "\n" + descStyle.Render(n.Description)
	}
	r.printf("%s\n", line)
}

func (r *Renderer) Println(text string) {
	r.printf("%s\n", text)
}

func (r *Renderer) printf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, v...)
}

func formatMessage(m chat.ChatMessage) string {
	if m.Role == chat.RoleUser {
		return userStyle.Render("you:") + " " + m.Content
	}
	return assistantStyle.Render("cara:") + " " + m.Content
}

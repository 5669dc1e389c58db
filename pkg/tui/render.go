// Package tui turns controller state into styled terminal text.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/tui/theme"
)

// Renderer formats messages, project lists and the status line.
type Renderer struct {
	styles    *theme.Styles
	highlight *Highlighter
	width     int
	now       func() time.Time
}

func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{
		styles:    theme.DefaultStyles(),
		highlight: NewHighlighter("terminal256", "monokai"),
		width:     width,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for relative times.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// WithHighlighter replaces the JSON highlighter.
func (r *Renderer) WithHighlighter(h *Highlighter) *Renderer {
	r.highlight = h
	return r
}

// Message renders one timeline entry with its numbered design options. An
// index of zero leaves the entry unnumbered.
func (r *Renderer) Message(index int, msg chat.Message) string {
	_, style := r.roleStyle(msg)
	body := lipgloss.NewStyle().Width(r.width - 12).Render(msg.Content)
	return r.header(index, msg) + " " + style.Render(body) + r.Details(msg)
}

// Header renders the timestamp and role label that open a message.
func (r *Renderer) Header(msg chat.Message) string {
	return r.header(0, msg)
}

func (r *Renderer) header(index int, msg chat.Message) string {
	stamp := r.styles.Timestamp.Render(msg.CreatedAt.Format("15:04"))
	if index > 0 {
		stamp = fmt.Sprintf("%s %2d", stamp, index)
	}
	label, style := r.roleStyle(msg)
	return stamp + " " + style.Render(label)
}

// Word renders one word of a message body in the message's role style.
func (r *Renderer) Word(msg chat.Message, word string) string {
	_, style := r.roleStyle(msg)
	return style.Render(word)
}

// Details renders what follows a message body: the retry hint, the saved
// badge and the design options.
func (r *Renderer) Details(msg chat.Message) string {
	var b strings.Builder
	if msg.Retryable() {
		fmt.Fprintf(&b, "\n%s", r.styles.Timestamp.Render("   /retry to send it again"))
	}
	if msg.Metadata == nil || msg.Status != chat.StatusFinal {
		return b.String()
	}
	if msg.Metadata.Saved {
		fmt.Fprintf(&b, " %s", r.styles.SavedBadge.Render("saved"))
	}
	for i, opt := range msg.Metadata.DesignOptions {
		fmt.Fprintf(&b, "\n  %s", r.styles.OptionTitle.Render(fmt.Sprintf("[%d] %s", i+1, opt.Title)))
		if opt.Description != "" {
			fmt.Fprintf(&b, "\n%s", r.styles.OptionDescription.Render(opt.Description))
		}
	}
	return b.String()
}

func (r *Renderer) roleStyle(msg chat.Message) (string, lipgloss.Style) {
	switch {
	case msg.IsUser():
		return "you:", r.styles.UserMessage
	case msg.IsErrored():
		return "designer:", r.styles.ErrorMessage
	case msg.IsPending():
		return "designer:", r.styles.PendingMessage
	default:
		return "designer:", r.styles.AssistantMessage
	}
}

// Timeline renders every message, numbered from 1.
func (r *Renderer) Timeline(msgs []chat.Message) string {
	if len(msgs) == 0 {
		return r.styles.Timestamp.Render("No messages yet. Describe the room you want to design.")
	}
	out := make([]string, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, r.Message(i+1, m))
	}
	return strings.Join(out, "\n")
}

// Projects renders the project list with each project's latest message.
// Projects with newer previews come first.
func (r *Renderer) Projects(projects []api.Project, previews map[string]chat.Preview, active string) string {
	if len(projects) == 0 {
		return r.styles.Timestamp.Render("No projects yet. Use /new <title> to start one.")
	}
	sorted := append([]api.Project(nil), projects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return previews[sorted[i].ID.String()].CreatedAt.After(previews[sorted[j].ID.String()].CreatedAt)
	})

	now := r.now()
	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		id := p.ID.String()
		line := fmt.Sprintf("%s  %s", id, p.Title)
		if p.RoomType != "" {
			line += fmt.Sprintf(" (%s)", p.RoomType)
		}
		if id == active {
			b.WriteString(r.styles.ProjectActive.Render("* " + line))
		} else {
			b.WriteString(r.styles.ProjectItem.Render("  " + line))
		}

		if pv, ok := previews[id]; ok && pv.Content != "" {
			b.WriteString("\n")
			b.WriteString(r.styles.Preview.Render(fmt.Sprintf("%s · %s", truncate(pv.Content, r.width-20), RelativeTime(pv.CreatedAt, now))))
		}
	}
	return b.String()
}

// Status renders the one-line status bar and, on a second line, any
// notice.
func (r *Renderer) Status(st controllers.Status) string {
	line := r.styles.StatusBar.Render(StatusText(st))
	if st.Notice != "" {
		line += "\n" + r.styles.Notice.Render(st.Notice)
	}
	return line
}

// StatusText is the unstyled status bar without the notice.
func StatusText(st controllers.Status) string {
	parts := []string{}
	if st.User != "" {
		parts = append(parts, st.User)
	}
	if st.ProjectTitle != "" {
		parts = append(parts, st.ProjectTitle)
	}
	parts = append(parts, strings.TrimSpace(st.Channel.GetIcon()+" "+st.Channel.GetDisplayName()))
	if st.LoadingHistory {
		parts = append(parts, "loading history")
	} else if st.Phase != "" {
		parts = append(parts, fmt.Sprintf("%s %s", st.Phase.GetIcon(), st.Phase.GetDisplayName()))
	}
	return strings.Join(parts, " | ")
}

// Notice renders a transient notice.
func (r *Renderer) Notice(text string) string {
	return r.styles.Notice.Render("! " + text)
}

// Context renders the resolved context of an assistant reply as highlighted
// JSON in a box.
func (r *Renderer) Context(meta *chat.Metadata) (string, error) {
	if meta == nil || len(meta.ResolvedContext) == 0 {
		return r.styles.Timestamp.Render("No resolved context on this reply."), nil
	}
	out, err := r.highlight.JSON(meta.ResolvedContext)
	if err != nil {
		return "", err
	}
	return r.styles.ContextBox.Render(out), nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n < 4 {
		n = 4
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

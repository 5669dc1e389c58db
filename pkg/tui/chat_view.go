package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gdamore/tcell/v2"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/killallgit/atelier/pkg/tui/theme"
	"github.com/mattn/go-runewidth"
)

// ChatViewController is the part of the chat controller the full-screen
// view drives. *controllers.ChatController satisfies it.
type ChatViewController interface {
	Subscribe(fn func(controllers.Update)) func()
	Send(text string) bool
	Retry(id chat.ID) bool
	SelectOption(id chat.ID, index int) bool
	SaveDesign() bool
	Messages() []chat.Message
	Status() controllers.Status
}

// ChatView is a full-screen timeline of the active project with an input
// line. Revealed replies grow on screen as the controller writes them.
type ChatView struct {
	screen tcell.Screen
	ctrl   ChatViewController
	input  []rune
	hint   string

	styles viewStyles
}

type viewStyles struct {
	user, assistant, pending, errored tcell.Style
	muted, option, status, notice     tcell.Style
}

type viewLine struct {
	text  string
	style tcell.Style
}

// stopEvent marks the interrupt posted when the view's context ends.
type stopEvent struct{}

func NewChatView(screen tcell.Screen, ctrl ChatViewController) *ChatView {
	base := tcell.StyleDefault
	color := func(c lipgloss.Color) tcell.Color { return tcell.GetColor(string(c)) }
	return &ChatView{
		screen: screen,
		ctrl:   ctrl,
		styles: viewStyles{
			user:      base.Foreground(color(theme.ColorGreen)),
			assistant: base.Foreground(color(theme.ColorBlue)),
			pending:   base.Foreground(color(theme.ColorMuted)).Italic(true),
			errored:   base.Foreground(color(theme.ColorError)).Bold(true),
			muted:     base.Foreground(color(theme.ColorMuted)),
			option:    base.Foreground(color(theme.ColorFocus)).Bold(true),
			status:    base.Foreground(color(theme.ColorCyan)).Reverse(true),
			notice:    base.Foreground(color(theme.ColorWarning)),
		},
	}
}

// Run draws the view and handles keys until Esc, Ctrl-C, /quit or ctx is
// done. It initialises and finalises the screen.
func (v *ChatView) Run(ctx context.Context) error {
	if err := v.screen.Init(); err != nil {
		return fmt.Errorf("failed to initialise screen: %w", err)
	}
	defer v.screen.Fini()

	// Updates arrive on the controller's loop; only wake the event loop here.
	unsubscribe := v.ctrl.Subscribe(func(controllers.Update) {
		_ = v.screen.PostEvent(tcell.NewEventInterrupt(nil))
	})
	defer unsubscribe()
	stop := context.AfterFunc(ctx, func() {
		_ = v.screen.PostEvent(tcell.NewEventInterrupt(stopEvent{}))
	})
	defer stop()

	v.draw()
	for {
		switch ev := v.screen.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			v.screen.Sync()
			v.draw()
		case *tcell.EventInterrupt:
			if _, ok := ev.Data().(stopEvent); ok {
				return ctx.Err()
			}
			v.draw()
		case *tcell.EventKey:
			if !v.handleKey(ev) {
				return nil
			}
			v.draw()
		}
	}
}

// handleKey edits the input line. It returns false when the view should
// close.
func (v *ChatView) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyCtrlC, tcell.KeyEscape:
		return false
	case tcell.KeyEnter:
		line := strings.TrimSpace(string(v.input))
		v.input = v.input[:0]
		return v.submit(line)
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(v.input) > 0 {
			v.input = v.input[:len(v.input)-1]
		}
	case tcell.KeyRune:
		v.input = append(v.input, ev.Rune())
	}
	return true
}

func (v *ChatView) submit(line string) bool {
	v.hint = ""
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		if !v.ctrl.Send(line) {
			v.hint = "Cannot send right now."
		}
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	logger.Debug("View command %s %q", cmd, arg)
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/retry":
		msg, ok := chat.LatestRetryable(v.ctrl.Messages())
		if !ok || !v.ctrl.Retry(msg.ID) {
			v.hint = "Nothing to retry."
		}
	case "/save":
		if !v.ctrl.SaveDesign() {
			v.hint = "Nothing to save yet."
		}
	case "/option":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		msg, ok := chat.LatestWithOptions(v.ctrl.Messages())
		if err != nil || !ok || !v.ctrl.SelectOption(msg.ID, n-1) {
			v.hint = "Option not available."
		}
	default:
		v.hint = "Commands: /option <n>, /save, /retry, /quit"
	}
	return true
}

func (v *ChatView) draw() {
	s := v.screen
	s.Clear()
	w, h := s.Size()
	if w <= 0 || h < 3 {
		s.Show()
		return
	}

	st := v.ctrl.Status()
	bottom := []viewLine{{text: StatusText(st), style: v.styles.status}}
	if st.Notice != "" {
		bottom = append([]viewLine{{text: "! " + st.Notice, style: v.styles.notice}}, bottom...)
	}
	if v.hint != "" {
		bottom = append([]viewLine{{text: v.hint, style: v.styles.muted}}, bottom...)
	}

	var lines []viewLine
	for _, m := range v.ctrl.Messages() {
		lines = append(lines, v.messageLines(m, w)...)
	}
	rows := h - 1 - len(bottom)
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	for y, l := range lines {
		drawText(s, 0, y, w, l.text, l.style)
	}
	for i, l := range bottom {
		y := rows + i
		fill := l.text + strings.Repeat(" ", max(0, w-runewidth.StringWidth(l.text)))
		drawText(s, 0, y, w, fill, l.style)
	}

	prompt := "> " + string(v.input)
	drawText(s, 0, h-1, w, prompt, tcell.StyleDefault)
	s.ShowCursor(min(runewidth.StringWidth(prompt), w-1), h-1)
	s.Show()
}

func (v *ChatView) messageLines(m chat.Message, width int) []viewLine {
	label, style := "designer: ", v.styles.assistant
	switch {
	case m.IsUser():
		label, style = "you: ", v.styles.user
	case m.IsErrored():
		style = v.styles.errored
	case m.IsPending():
		style = v.styles.pending
	}

	var out []viewLine
	wrapped := lipgloss.NewStyle().Width(width).Render(label + m.Content)
	for _, l := range strings.Split(wrapped, "\n") {
		out = append(out, viewLine{text: strings.TrimRight(l, " "), style: style})
	}
	if m.Retryable() {
		out = append(out, viewLine{text: "   /retry to send it again", style: v.styles.muted})
	}
	if m.Metadata != nil && m.Status == chat.StatusFinal {
		for i, opt := range m.Metadata.DesignOptions {
			out = append(out, viewLine{text: fmt.Sprintf("  [%d] %s", i+1, opt.Title), style: v.styles.option})
		}
		if m.Metadata.Saved {
			out = append(out, viewLine{text: "  saved", style: v.styles.muted})
		}
	}
	return out
}

func drawText(s tcell.Screen, x, y, width int, text string, style tcell.Style) {
	for _, r := range text {
		rw := runewidth.RuneWidth(r)
		if x+rw > width {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x += rw
	}
}

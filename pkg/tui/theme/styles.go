package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// Warm earth palette used across the terminal client.
var (
	ColorBase00 = lipgloss.Color("#1a1816") // background
	ColorBase03 = lipgloss.Color("#5c5044") // muted text
	ColorBase05 = lipgloss.Color("#ab937b") // body text
	ColorBase07 = lipgloss.Color("#f5d7b9") // headings

	ColorRed    = lipgloss.Color("#d95f5f")
	ColorOrange = lipgloss.Color("#eb8755")
	ColorYellow = lipgloss.Color("#f5b761")
	ColorGreen  = lipgloss.Color("#93b56b")
	ColorCyan   = lipgloss.Color("#61afaf")
	ColorBlue   = lipgloss.Color("#6b93b5")

	ColorBorder  = ColorBase03
	ColorFocus   = ColorOrange
	ColorError   = ColorRed
	ColorWarning = ColorYellow
	ColorMuted   = ColorBase03
)

// Styles holds the lipgloss styles for every piece of the timeline and
// status line.
type Styles struct {
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	PendingMessage   lipgloss.Style
	ErrorMessage     lipgloss.Style
	Timestamp        lipgloss.Style

	OptionTitle       lipgloss.Style
	OptionDescription lipgloss.Style
	SavedBadge        lipgloss.Style
	ContextBox        lipgloss.Style

	ProjectActive lipgloss.Style
	ProjectItem   lipgloss.Style
	Preview       lipgloss.Style

	StatusBar lipgloss.Style
	Notice    lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() *Styles {
	return &Styles{
		UserMessage: lipgloss.NewStyle().
			Foreground(ColorGreen),

		AssistantMessage: lipgloss.NewStyle().
			Foreground(ColorBlue),

		PendingMessage: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Italic(true),

		ErrorMessage: lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true),

		Timestamp: lipgloss.NewStyle().
			Foreground(ColorMuted),

		OptionTitle: lipgloss.NewStyle().
			Foreground(ColorFocus).
			Bold(true),

		OptionDescription: lipgloss.NewStyle().
			Foreground(ColorBase05).
			PaddingLeft(4),

		SavedBadge: lipgloss.NewStyle().
			Foreground(ColorBase00).
			Background(ColorGreen).
			Padding(0, 1),

		ContextBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),

		ProjectActive: lipgloss.NewStyle().
			Foreground(ColorFocus).
			Bold(true),

		ProjectItem: lipgloss.NewStyle().
			Foreground(ColorBase07),

		Preview: lipgloss.NewStyle().
			Foreground(ColorMuted).
			PaddingLeft(4),

		StatusBar: lipgloss.NewStyle().
			Foreground(ColorCyan),

		Notice: lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true),
	}
}

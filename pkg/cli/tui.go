package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for the TUI.
type Theme struct {
	Primary lipgloss.Color // Borders and labels
	Text    lipgloss.Color // Caption text
	Dim     lipgloss.Color // Help, metadata and older captions
	Error   lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Text:    lipgloss.Color("#f0f6fc"),
	Dim:     lipgloss.Color("#6e7681"),
	Error:   lipgloss.Color("#ff5f5f"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Help    lipgloss.Style
	Caption lipgloss.Style
	Past    lipgloss.Style
	Error   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border:  lipgloss.NewStyle().Foreground(t.Primary),
		Help:    lipgloss.NewStyle().Foreground(t.Dim),
		Caption: lipgloss.NewStyle().Bold(true).Foreground(t.Text),
		Past:    lipgloss.NewStyle().Foreground(t.Dim),
		Error:   lipgloss.NewStyle().Foreground(t.Error),
	}
}

// Section is a labeled block of lines. The newest lines are shown when the
// content does not fit.
type Section struct {
	Label   string
	Content func() []string
	// Weight is the share of free rows given to the section. Zero counts
	// as one.
	Weight int
}

// Frame renders a complete TUI frame with title, sections, and help text.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
	Help     string
}

// Render renders the frame to a string of exactly height lines.
func (f Frame) Render(width, height int) string {
	if width < 8 || height < 6 {
		return "Loading..."
	}

	bc := f.Styles.Border
	maxContentWidth := width - 4

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	title := f.Styles.Title.Render(f.Title)
	status := f.Styles.Help.Render("[" + f.Status + "]")
	padding := max(0, width-5-lipgloss.Width(title)-lipgloss.Width(status))
	lines = append(lines, bc.Render("│")+" "+title+" "+status+
		strings.Repeat(" ", padding)+" "+bc.Render("│"))
	lines = append(lines, bc.Render("│")+strings.Repeat(" ", width-2)+bc.Render("│"))

	// top, title, spacer, bottom, help and one label row per section
	free := height - 5 - len(f.Sections)
	for i, rows := range f.sectionRows(free) {
		sec := f.Sections[i]
		var content []string
		if sec.Content != nil {
			content = sec.Content()
		}
		lines = append(lines, f.renderSection(bc, sec.Label, content, rows, width, maxContentWidth)...)
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	lines = append(lines, f.Styles.Help.Render(f.Help))
	return strings.Join(lines, "\n")
}

// sectionRows splits free rows between sections by weight, at least one
// row each, with the remainder going to the first section.
func (f Frame) sectionRows(free int) []int {
	rows := make([]int, len(f.Sections))
	if len(rows) == 0 {
		return rows
	}
	total := 0
	for _, s := range f.Sections {
		total += max(s.Weight, 1)
	}
	used := 0
	for i, s := range f.Sections {
		rows[i] = max(free*max(s.Weight, 1)/total, 1)
		used += rows[i]
	}
	if free > used {
		rows[0] += free - used
	}
	return rows
}

func (f Frame) renderSection(bc lipgloss.Style, label string, content []string, height, width, maxContentWidth int) []string {
	var lines []string

	labelText := f.Styles.Label.Render(label)
	padding := max(0, width-3-lipgloss.Width(labelText))
	lines = append(lines, bc.Render("├")+bc.Render("─")+labelText+
		bc.Render(strings.Repeat("─", padding))+bc.Render("┤"))

	startIdx := max(0, len(content)-height)
	for i := range height {
		text := ""
		if idx := startIdx + i; idx < len(content) {
			text = content[idx]
		}
		if maxContentWidth > 1 && lipgloss.Width(text) > maxContentWidth {
			text = truncateString(text, maxContentWidth-1) + "…"
		}
		lines = append(lines, bc.Render("│")+" "+text+
			strings.Repeat(" ", max(0, maxContentWidth-lipgloss.Width(text)))+" "+bc.Render("│"))
	}
	return lines
}

// Wrap breaks s into lines no wider than width cells. Words longer than a
// line, and text without spaces such as Chinese or Japanese, are split at
// cell boundaries.
func Wrap(s string, width int) []string {
	if width <= 0 {
		return nil
	}
	var lines []string
	var cur strings.Builder
	curWidth := 0
	flush := func() {
		lines = append(lines, cur.String())
		cur.Reset()
		curWidth = 0
	}
	for _, word := range strings.Fields(s) {
		ww := lipgloss.Width(word)
		if curWidth > 0 && curWidth+1+ww <= width {
			cur.WriteByte(' ')
			cur.WriteString(word)
			curWidth += 1 + ww
			continue
		}
		if curWidth > 0 {
			flush()
		}
		for ww > width {
			head := truncateString(word, width)
			if head == "" {
				break
			}
			lines = append(lines, head)
			word = word[len(head):]
			ww = lipgloss.Width(word)
		}
		cur.WriteString(word)
		curWidth = ww
	}
	if curWidth > 0 {
		flush()
	}
	return lines
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}

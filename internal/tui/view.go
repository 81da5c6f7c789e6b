package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m *model) View() string {
	switch m.stage {
	case stagePicker:
		return m.viewPicker()
	case stageLoading:
		return m.viewLoading()
	case stageDisplay:
		return m.viewDisplay()
	default:
		return ""
	}
}

func (m *model) viewPicker() string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render("Documents"))
	b.WriteRune('\n')
	if len(m.files) == 0 {
		b.WriteString(helperStyle.Render("Nothing uploaded yet."))
	}
	for i, f := range m.files {
		created := "unknown date"
		if !f.Created.IsZero() {
			created = f.Created.Local().Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%-40s %-5s %s", trimmedTitle(f.Name, 40), f.Extension, created)
		if i == m.fileCursor {
			b.WriteString(currentLineStyle.Render("▸ " + line))
		} else {
			b.WriteString("  " + line)
		}
		if i < len(m.files)-1 {
			b.WriteRune('\n')
		}
	}
	parts := []string{m.heroView(), b.String()}
	if m.composerMode != composerModeIdle {
		parts = append(parts, m.composerView())
	}
	parts = append(parts, m.messagesView())
	if m.helpVisible {
		parts = append(parts, m.helpView())
	}
	return joinNonEmpty(parts)
}

func (m *model) viewLoading() string {
	message := m.loadingMessage
	if message == "" {
		message = "Working…"
	}
	return joinNonEmpty([]string{
		m.heroView(),
		fmt.Sprintf("%s %s", m.spinner.View(), helperStyle.Render(message)),
	})
}

func (m *model) viewDisplay() string {
	pageColumn := lipgloss.JoinVertical(lipgloss.Left, m.pageLabel(), m.viewport.View())
	panelColumn := lipgloss.JoinVertical(lipgloss.Left, m.tabBar(), m.panel.View())
	columns := []string{}
	if rail := m.railView(); rail != "" {
		columns = append(columns, rail, " ")
	}
	columns = append(columns,
		lipgloss.NewStyle().Width(m.layout.pageWidth).Render(pageColumn),
		" ",
		lipgloss.NewStyle().Width(m.layout.panelWidth).Render(panelColumn),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, columns...)
	body = lipgloss.NewStyle().Height(m.layout.bodyHeight).MaxHeight(m.layout.bodyHeight).Render(body)
	return strings.Join([]string{m.headerView(), body, m.footerView()}, "\n")
}

// headerView is exactly headerHeight rows so rail rows map to window rows.
func (m *model) headerView() string {
	doc := m.pages.Current()
	title := heroTitleStyle.Render("StudyFlow")
	meta := ""
	if doc != nil {
		title += helperStyle.Render("  " + doc.ID)
		fields := []string{pluralize(doc.PageCount(), "page")}
		if doc.IsMerged {
			fields = append(fields, "merged")
		}
		if doc.DownloadURL != "" {
			fields = append(fields, "download: "+m.config.API.ResolveURL(doc.DownloadURL))
		}
		meta = helperStyle.Render(strings.Join(fields, " • "))
	}
	return strings.Join([]string{title, meta, taglineStyle.Render(heroTagline)}, "\n")
}

func (m *model) pageLabel() string {
	current, target := m.nav.Current(), m.nav.Target()
	label := fmt.Sprintf("Page %d of %d", current, m.nav.PageCount())
	if m.nav.Navigating() && target != current {
		label += fmt.Sprintf(" → %d", target)
	}
	label += fmt.Sprintf("  zoom %d%%", int(m.nav.Zoom()*100+0.5))
	if m.continuous {
		label += "  continuous"
	}
	prev, next := "[", "]"
	if !m.nav.CanPrev() {
		prev = disabledStyle.Render(prev)
	}
	if !m.nav.CanNext() {
		next = disabledStyle.Render(next)
	}
	return subtitleStyle.Render(label) + "  " + prev + " " + next
}

func (m *model) tabBar() string {
	tabs := make([]string, 0, len(tabSequence))
	for _, t := range tabSequence {
		if t == m.tab {
			tabs = append(tabs, activeTabStyle.Render(t.String()))
		} else {
			tabs = append(tabs, tabStyle.Render(t.String()))
		}
	}
	return strings.Join(tabs, " ")
}

func (m *model) composerView() string {
	return m.composer.View()
}

func (m *model) footerView() string {
	composer := helperStyle.Render("q ask • n notes • g jump • ? help")
	if m.composerMode != composerModeIdle {
		composer = m.composerView()
	}
	return strings.Join([]string{composer, m.statusBarView(), m.messagesView()}, "\n")
}

func (m *model) statusBarView() string {
	stats := []string{fmt.Sprintf("Tab %s", m.tab)}
	if m.selectedModel != "" {
		stats = append(stats, "Model "+m.selectedModel)
	}
	if n := m.tracker.Running(jobKindQuestion); n > 0 {
		stats = append(stats, fmt.Sprintf("%s %s pending", m.spinner.View(), pluralize(n, "answer")))
	}
	if m.tracker.Running(jobKindRefresh) > 0 {
		stats = append(stats, "refreshing")
	}
	if m.tracker.Running(jobKindNotes) > 0 {
		stats = append(stats, "saving notes")
	}
	if page := m.nav.FailedPage(); page > 0 {
		stats = append(stats, fmt.Sprintf("page %d failed, r retries", page))
	}
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) messagesView() string {
	parts := []string{}
	if m.errorMessage != "" {
		parts = append(parts, errorStyle.Render(m.errorMessage))
	}
	if m.infoMessage != "" {
		parts = append(parts, helperStyle.Render(m.infoMessage))
	}
	return strings.Join(parts, "  ")
}

func (m *model) heroView() string {
	return lipgloss.JoinVertical(lipgloss.Left, renderLogo(), taglineStyle.Render(heroTagline))
}

type keyHint struct {
	Key         string
	Description string
}

func (m *model) helpView() string {
	hints := []keyHint{
		{"←/→", "Prev/next page"},
		{"[ ]", "Page buttons"},
		{"g", "Jump to page"},
		{"+/-/0", "Zoom"},
		{"Tab", "Cycle panel"},
		{"q", "Ask question"},
		{"n", "Edit notes"},
		{"m", "Next model"},
		{"a/x", "Add/remove page"},
		{"c", "Continuous mode"},
		{"t", "Show page text"},
		{"r", "Retry render"},
		{"b", "Back to documents"},
		{"u", "Upload (documents)"},
		{"Ctrl+C", "Quit"},
	}
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := min(i+columns, len(hints))
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.Key)
			desc := keyDescStyle.Render(" " + hint.Description + "  ")
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func joinNonEmpty(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, "\n\n")
}

func renderLogo() string {
	width := 0
	lineRunes := make([][]rune, len(logoArtLines))
	for i, line := range logoArtLines {
		runes := []rune(line)
		lineRunes[i] = runes
		width = max(width, len(runes))
	}
	width++
	height := len(logoArtLines) + 1

	type cell struct {
		r     rune
		style lipgloss.Style
	}
	grid := make([][]cell, height)
	for i := range grid {
		grid[i] = make([]cell, width)
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y+1][x+1] = cell{r: r, style: logoShadowStyle}
			}
		}
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y][x] = cell{r: r, style: logoFaceStyle}
			}
		}
	}

	lines := make([]string, height)
	for y, row := range grid {
		var b strings.Builder
		for _, c := range row {
			if c.r == 0 {
				b.WriteRune(' ')
				continue
			}
			b.WriteString(c.style.Render(string(c.r)))
		}
		lines[y] = b.String()
	}
	return logoContainerStyle.Render(strings.Join(lines, "\n"))
}

var (
	subtitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("147"))
	sectionHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	disabledStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	questionStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))

	heroAccentColor        = lipgloss.Color("#2a9d8f")
	heroEmberColor         = lipgloss.Color("#0b2522")
	heroTextColor          = lipgloss.Color("#e9f5f2")
	heroSecondaryTextColor = lipgloss.Color("#8ecae6")

	heroTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(heroAccentColor)
	taglineStyle       = lipgloss.NewStyle().Foreground(heroSecondaryTextColor).Italic(true)
	statusBarStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle           = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(1, 2)
	currentLineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6"))
	pendingLineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#bde0fe"))
	tabStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	activeTabStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(heroAccentColor).Padding(0, 1)
	logoFaceStyle      = lipgloss.NewStyle().Bold(true).Foreground(heroTextColor).Background(heroEmberColor)
	logoShadowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#02100e"))
	logoContainerStyle = lipgloss.NewStyle().Padding(0, 1)
	logoArtLines       = []string{
		"┏━┓╺┳╸╻ ╻╺┳┓╻ ╻┏━╸╻  ┏━┓╻ ╻",
		"┗━┓ ┃ ┃ ┃ ┃┃┗┳┛┣╸ ┃  ┃ ┃┃╻┃",
		"┗━┛ ╹ ┗━┛╺┻┛ ╹ ╹  ┗━╸┗━┛┗┻┛",
	}
)

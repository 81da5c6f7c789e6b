package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/studyflow/internal/annotations"
	"github.com/csheth/studyflow/internal/document"
	"github.com/csheth/studyflow/internal/navigator"
	"github.com/csheth/studyflow/internal/render"
)

const (
	headerHeight   = 3
	footerHeight   = 4
	railHeaderRows = 1
	// the rail is dropped below this width so the page keeps its room
	railMinWindowWidth = 100
)

type pageLayout struct {
	windowWidth  int
	windowHeight int
	railWidth    int
	pageWidth    int
	pageHeight   int
	panelWidth   int
	bodyHeight   int
}

func newPageLayout() pageLayout {
	l := pageLayout{}
	l.Update(120, 40)
	return l
}

func (l *pageLayout) Update(width, height int) {
	l.windowWidth = width
	l.windowHeight = height

	l.bodyHeight = height - headerHeight - footerHeight
	if l.bodyHeight < 8 {
		l.bodyHeight = 8
	}
	l.pageHeight = l.bodyHeight - 1

	l.panelWidth = width / 3
	if l.panelWidth < panelMinWidth {
		l.panelWidth = panelMinWidth
	}
	gutters := 1
	l.railWidth = 0
	if width >= railMinWindowWidth {
		l.railWidth = railWidth
		gutters++
	}
	l.pageWidth = width - l.railWidth - l.panelWidth - gutters
	if l.pageWidth < minViewportWidth {
		l.pageWidth = minViewportWidth
	}
}

// pageViewport is the render target for one page.
func (l pageLayout) pageViewport(ratio int) render.Viewport {
	return render.Viewport{Width: l.pageWidth - viewportHorizontalPadding, Height: l.pageHeight, PixelRatio: ratio}
}

// railPageAt maps a window row to the page shown in the thumbnail rail at that
// row, or 0 when the row holds no thumbnail.
func (l pageLayout) railPageAt(x, y, offset, pageCount int) int {
	if l.railWidth == 0 || x >= l.railWidth {
		return 0
	}
	idx := y - headerHeight - railHeaderRows
	if idx < 0 || idx >= l.bodyHeight-railHeaderRows {
		return 0
	}
	page := offset + idx + 1
	if page > pageCount {
		return 0
	}
	return page
}

func (m *model) railView() string {
	if m.layout.railWidth == 0 {
		return ""
	}
	doc := m.pages.Current()
	rows := []string{sectionHeaderStyle.Render("Pages")}
	if doc == nil {
		return lipgloss.NewStyle().Width(m.layout.railWidth).Render(strings.Join(rows, "\n"))
	}
	visible := m.layout.bodyHeight - railHeaderRows
	current := m.nav.Current()
	target := m.nav.Target()
	for i := m.railOffset; i < len(doc.Pages) && i < m.railOffset+visible; i++ {
		p := doc.Pages[i]
		line := render.Thumbnail(p, thumbnailPreviewWidth)
		switch {
		case p.Number == current:
			line = currentLineStyle.Render("▸" + line)
		case p.Number == target:
			line = pendingLineStyle.Render("›" + line)
		case p.Number == m.nav.FailedPage():
			line = errorStyle.Render("!" + line)
		default:
			line = " " + line
		}
		rows = append(rows, line)
	}
	return lipgloss.NewStyle().Width(m.layout.railWidth).Render(strings.Join(rows, "\n"))
}

// ensureRailVisible scrolls the rail so the target page is on screen.
func (m *model) ensureRailVisible() {
	visible := m.layout.bodyHeight - railHeaderRows
	if visible < 1 {
		return
	}
	idx := m.nav.Target() - 1
	if idx < 0 {
		return
	}
	if idx < m.railOffset {
		m.railOffset = idx
	}
	if idx >= m.railOffset+visible {
		m.railOffset = idx - visible + 1
	}
}

// pageOffsets lays out every page for continuous mode. Pages that have not
// been painted take the height of the last painted page.
func (m *model) pageOffsets() []navigator.PageOffset {
	count := m.nav.PageCount()
	offsets := make([]navigator.PageOffset, 0, count)
	fallback := m.layout.pageHeight
	if m.surface != nil {
		fallback = m.surface.Height
	}
	top := 0
	for page := 1; page <= count; page++ {
		height := fallback
		if s, ok := m.surfaces[page]; ok {
			height = s.Height
		}
		height++ // label row
		offsets = append(offsets, navigator.PageOffset{Page: page, Top: top, Height: height})
		top += height
	}
	return offsets
}

func (m *model) continuousContent() string {
	var b strings.Builder
	for _, off := range m.pageOffsets() {
		label := fmt.Sprintf("── page %d ", off.Page)
		if off.Page == m.nav.Current() {
			b.WriteString(currentLineStyle.Render(label))
		} else {
			b.WriteString(helperStyle.Render(label))
		}
		b.WriteRune('\n')
		if s, ok := m.surfaces[off.Page]; ok {
			b.WriteString(s.View())
		} else {
			placeholder := make([]string, off.Height-1)
			if p, ok := m.pages.Page(off.Page); ok && len(placeholder) > 0 {
				placeholder[0] = helperStyle.Render(render.Thumbnail(p, m.layout.pageWidth-4))
			}
			b.WriteString(strings.Join(placeholder, "\n"))
		}
		b.WriteRune('\n')
	}
	return b.String()
}

func (m *model) singlePageContent() string {
	if m.surface == nil {
		return helperStyle.Render("Rendering…")
	}
	content := m.surface.View()
	if m.showText {
		text := strings.TrimSpace(m.surface.Text.PlainText())
		if text == "" {
			text = "(no selectable text on this page)"
		}
		content += "\n\n" + sectionHeaderStyle.Render("Page text") + "\n" + wordwrap.String(text, m.layout.pageWidth-viewportHorizontalPadding)
	}
	return content
}

// refreshPageViewport rebuilds the page area after a render or mode change.
func (m *model) refreshPageViewport() {
	m.viewport.Width = m.layout.pageWidth
	m.viewport.Height = m.layout.pageHeight
	if m.continuous {
		m.viewport.SetContent(m.continuousContent())
		return
	}
	m.viewport.SetContent(m.singlePageContent())
}

func (m *model) scrollToPage(page int) {
	for _, off := range m.pageOffsets() {
		if off.Page == page {
			m.viewport.SetYOffset(off.Top)
			return
		}
	}
}

func (m *model) panelContent() string {
	page := m.nav.Current()
	if page == 0 {
		return helperStyle.Render("No page shown yet.")
	}
	wrap := m.layout.panelWidth - 2
	if wrap < 10 {
		wrap = 10
	}
	var b strings.Builder
	data, _ := m.pages.Page(page)
	switch m.tab {
	case tabSummary:
		writeSummary(&b, data, wrap)
	case tabQA:
		writeThread(&b, m.config.Annotations.EntriesFor(page), wrap)
	case tabNotes:
		if m.editingNotes {
			b.WriteString(m.notesInput.View())
			b.WriteRune('\n')
			b.WriteString(helperStyle.Render("Ctrl+S save • Esc keep draft"))
			break
		}
		notes := data.Notes
		if draft, ok := m.config.Annotations.Notes(page); ok {
			notes = draft
		}
		if strings.TrimSpace(notes) == "" {
			b.WriteString(helperStyle.Render("No notes for this page. Press n to write some."))
			break
		}
		b.WriteString(wordwrap.String(notes, wrap))
	}
	return b.String()
}

func writeSummary(b *strings.Builder, p document.Page, wrap int) {
	if p.SourceLabel != "" {
		b.WriteString(helperStyle.Render("Source: " + p.SourceLabel))
		b.WriteRune('\n')
	}
	if strings.TrimSpace(p.Summary) == "" {
		b.WriteString(helperStyle.Render("Summary is still being generated…"))
		return
	}
	b.WriteString(wordwrap.String(p.Summary, wrap))
	if p.WordCount > 0 {
		b.WriteString("\n\n")
		b.WriteString(helperStyle.Render(pluralize(p.WordCount, "word") + " on this page"))
	}
}

func writeThread(b *strings.Builder, entries []annotations.Entry, wrap int) {
	if len(entries) == 0 {
		b.WriteString(helperStyle.Render("No questions about this page yet. Press q to ask one."))
		return
	}
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render(wordwrap.String("Q: "+e.Question, wrap)))
		b.WriteRune('\n')
		switch {
		case e.Pending:
			b.WriteString(helperStyle.Render("Thinking…"))
		case e.Failed:
			reason := e.Error
			if reason == "" {
				reason = "no answer"
			}
			b.WriteString(errorStyle.Render(wordwrap.String("Failed: "+reason, wrap)))
		default:
			b.WriteString(wordwrap.String(e.Answer, wrap))
			if e.ModelUsed != "" {
				b.WriteRune('\n')
				b.WriteString(helperStyle.Render("model: " + e.ModelUsed))
			}
			if len(e.References) > 0 {
				b.WriteRune('\n')
				b.WriteString(helperStyle.Render(wordwrap.String("refs: "+strings.Join(e.References, ", "), wrap)))
			}
		}
	}
}

// refreshPanel rebuilds the side panel for the current page and tab.
func (m *model) refreshPanel() {
	m.panel.Width = m.layout.panelWidth
	m.panel.Height = m.layout.bodyHeight - 1
	m.panel.SetContent(m.panelContent())
}

package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/studyflow/internal/annotations"
	"github.com/csheth/studyflow/internal/api"
	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/document"
	"github.com/csheth/studyflow/internal/logging"
	"github.com/csheth/studyflow/internal/metrics"
	"github.com/csheth/studyflow/internal/navigator"
	"github.com/csheth/studyflow/internal/render"
)

var jobLog = logging.New("tui")

// Config wires runtime collaborators into the TUI program.
type Config struct {
	API         *api.Client
	Engine      *render.Engine
	Annotations *annotations.Cache
	// FileID opens a previously uploaded document instead of the file picker.
	FileID string
	// UploadPath uploads a file on start.
	UploadPath string
	PixelRatio int
}

type model struct {
	config  Config
	stage   stage
	jobs    *jobBus
	tracker *jobTracker
	layout  pageLayout
	tick    func(time.Duration, func(time.Time) tea.Msg) tea.Cmd

	composer     textinput.Model
	composerMode composerMode
	notesInput   textarea.Model
	editingNotes bool
	notesPage    int
	spinner      spinner.Model
	viewport     viewport.Model
	panel        viewport.Model

	files      []api.FileSummary
	fileCursor int

	pages       *document.Store
	nav         *navigator.Navigator
	unsubscribe func()
	sampler     *navigator.ScrollSampler

	surface       *render.Surface
	surfaces      map[int]*render.Surface
	continuous    bool
	showText      bool
	frameRunning  bool
	followSurface bool

	catalog       api.ModelCatalog
	selectedModel string
	tab           panelTab
	railOffset    int
	confirmRemove int

	loadingMessage string
	infoMessage    string
	errorMessage   string
	helpVisible    bool
}

// New returns a tea.Model ready to be mounted into a Program.
func New(cfg Config) tea.Model {
	composer := textinput.New()
	composer.CharLimit = 500
	composer.Width = 70

	notes := textarea.New()
	notes.Placeholder = "Notes for this page…"
	notes.ShowLineNumbers = false
	notes.CharLimit = 4000

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true
	panel := viewport.New(40, 20)

	if cfg.Annotations == nil {
		cfg.Annotations = annotations.NewCache(annotations.NewMemoryStore())
	}
	if cfg.PixelRatio < 1 {
		cfg.PixelRatio = render.DefaultPixelRatio
	}

	pages := document.NewStore()
	m := &model{
		config:      cfg,
		stage:       stagePicker,
		jobs:        newJobBus(),
		tracker:     newJobTracker(),
		layout:      newPageLayout(),
		tick:        tea.Tick,
		composer:    composer,
		notesInput:  notes,
		spinner:     spin,
		viewport:    vp,
		panel:       panel,
		pages:       pages,
		nav:         navigator.New(pages),
		sampler:     navigator.NewScrollSampler(),
		surfaces:    make(map[int]*render.Surface),
		infoMessage: "Pick a document or press u to upload one.",
	}
	m.unsubscribe = m.nav.Subscribe(m.onPageChanged)
	return m
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	switch {
	case m.config.UploadPath != "":
		cmds = append(cmds, m.startUpload(m.config.UploadPath))
	case m.config.FileID != "":
		cmds = append(cmds, m.startLoad(m.config.FileID))
	default:
		cmds = append(cmds, m.startListFiles())
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case jobSignalMsg:
		m.tracker.Observe(msg.Snapshot)
		return m, nil
	case jobResultEnvelope:
		m.tracker.Observe(msg.Snapshot)
		if msg.Payload == nil {
			return m, nil
		}
		return m.Update(msg.Payload)
	case tea.WindowSizeMsg:
		return m, m.resize(msg.Width, msg.Height)
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, m.handleKey(msg)
	case tea.MouseMsg:
		return m, m.handleMouse(msg)
	case filesResultMsg:
		return m, m.handleFiles(msg)
	case documentLoadedMsg:
		return m, m.handleDocumentLoaded(msg)
	case refreshTickMsg:
		doc := m.pages.Current()
		if doc == nil || doc.ID != msg.docID {
			return m, nil
		}
		return m, m.jobs.Start(jobKindRefresh, refreshDocumentJob(m.config.API, msg.docID, msg.attempt, true))
	case documentRefreshedMsg:
		return m, m.handleRefreshed(msg)
	case renderResultMsg:
		return m, m.handleRender(msg)
	case answerResultMsg:
		m.handleAnswer(msg)
		return m, nil
	case notesSavedMsg:
		m.handleNotesSaved(msg)
		return m, nil
	case pageEditedMsg:
		return m, m.handlePageEdited(msg)
	case frameTickMsg:
		return m, m.handleFrame()
	}
	return m, nil
}

func (m *model) resize(width, height int) tea.Cmd {
	m.layout.Update(width, height)
	m.composer.Width = width - 6
	m.notesInput.SetWidth(m.layout.panelWidth - 2)
	m.notesInput.SetHeight(max(3, m.layout.bodyHeight-4))
	m.refreshPanel()
	if m.stage != stageDisplay || m.nav.PageCount() == 0 {
		m.refreshPageViewport()
		return nil
	}
	// every surface was fitted to the old size
	m.surfaces = make(map[int]*render.Surface)
	m.refreshPageViewport()
	return m.startRender(m.nav.Resync(m.nav.PageCount()), navigator.SourceResync)
}

func (m *model) startListFiles() tea.Cmd {
	m.stage = stagePicker
	m.loadingMessage = ""
	return m.jobs.Start(jobKindFiles, listFilesJob(m.config.API))
}

func (m *model) startUpload(path string) tea.Cmd {
	m.stage = stageLoading
	m.errorMessage = ""
	m.loadingMessage = "Uploading and processing file…"
	return tea.Batch(m.spinner.Tick, m.jobs.Start(jobKindUpload, uploadJob(m.config.API, m.config.Annotations, path)))
}

func (m *model) startLoad(fileID string) tea.Cmd {
	m.stage = stageLoading
	m.errorMessage = ""
	m.loadingMessage = "Processing document…"
	return tea.Batch(m.spinner.Tick, m.jobs.Start(jobKindLoad, loadDocumentJob(m.config.API, m.config.Annotations, fileID)))
}

// startRender hands a navigator request to the render engine. A nil request
// means there is nothing to paint.
func (m *model) startRender(req *navigator.RenderRequest, source navigator.Source) tea.Cmd {
	if req == nil {
		return nil
	}
	m.ensureRailVisible()
	doc := m.pages.Current()
	if doc == nil {
		return nil
	}
	metrics.CountNavigation(string(source), "render")
	vp := m.layout.pageViewport(m.config.PixelRatio)
	return m.jobs.Start(jobKindRender, renderJob(m.config.Engine, doc, *req, source, vp))
}

func (m *model) handleFiles(msg filesResultMsg) tea.Cmd {
	if msg.err != nil {
		m.errorMessage = describeError(msg.err)
		m.infoMessage = "Press r to reload the list or u to upload a file."
		return nil
	}
	m.files = msg.files
	if m.fileCursor >= len(m.files) {
		m.fileCursor = 0
	}
	if len(m.files) == 0 {
		m.infoMessage = "No documents yet. Press u to upload one."
	} else {
		m.infoMessage = fmt.Sprintf("%s available. Enter opens, u uploads.", pluralize(len(m.files), "document"))
	}
	return nil
}

func (m *model) handleDocumentLoaded(msg documentLoadedMsg) tea.Cmd {
	m.loadingMessage = ""
	if msg.err != nil {
		m.stage = stagePicker
		m.errorMessage = describeError(msg.err)
		m.infoMessage = "Pick another document or press u to upload."
		return m.jobs.Start(jobKindFiles, listFilesJob(m.config.API))
	}
	if prev := m.pages.Current(); prev != nil && prev.ID != msg.doc.ID {
		m.config.Engine.Discard(prev.ID)
	}
	if err := m.pages.Load(msg.doc); err != nil {
		m.stage = stagePicker
		m.errorMessage = describeError(err)
		return nil
	}
	m.stage = stageDisplay
	m.catalog = msg.catalog
	m.selectedModel = msg.model
	m.surface = nil
	m.surfaces = make(map[int]*render.Surface)
	m.railOffset = 0
	m.tab = tabSummary
	m.editingNotes = false
	m.confirmRemove = 0
	m.closeComposer()
	m.viewport.SetYOffset(0)
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Loaded %s.", pluralize(msg.doc.PageCount(), "page"))
	if msg.uploaded {
		m.infoMessage = fmt.Sprintf("Uploaded %s.", pluralize(msg.doc.PageCount(), "page"))
	}
	m.refreshPageViewport()
	m.refreshPanel()

	cmds := []tea.Cmd{m.startRender(m.nav.Reset(msg.doc.PageCount()), navigator.SourceResync)}
	if !msg.doc.SummariesReady() {
		m.infoMessage += " Summaries are still being generated."
		cmds = append(cmds, m.scheduleRefresh(msg.doc.ID, 1))
	}
	return tea.Batch(cmds...)
}

func (m *model) handleRefreshed(msg documentRefreshedMsg) tea.Cmd {
	current := m.pages.Current()
	if current == nil || msg.docID != current.ID {
		return nil
	}
	if msg.err != nil {
		m.errorMessage = describeError(msg.err)
		if msg.poll && msg.attempt < config.RefreshAttempts {
			return m.scheduleRefresh(current.ID, msg.attempt+1)
		}
		return nil
	}
	countChanged := msg.doc.PageCount() != current.PageCount()
	if err := m.pages.Load(msg.doc); err != nil {
		m.errorMessage = describeError(err)
		return nil
	}
	if countChanged {
		m.surfaces = make(map[int]*render.Surface)
	}
	m.refreshPanel()
	cmds := []tea.Cmd{m.startRender(m.nav.Resync(msg.doc.PageCount()), navigator.SourceResync)}
	switch {
	case msg.doc.SummariesReady():
		if msg.poll {
			m.infoMessage = "Summaries ready."
		}
	case msg.poll && msg.attempt < config.RefreshAttempts:
		cmds = append(cmds, m.scheduleRefresh(msg.doc.ID, msg.attempt+1))
	case msg.poll:
		m.infoMessage = "Some summaries are still missing. Reopen the document later."
	}
	return tea.Batch(cmds...)
}

func (m *model) handleRender(msg renderResultMsg) tea.Cmd {
	out := m.nav.RenderDone(msg.req.Seq, msg.err)
	switch {
	case out.Show:
		m.surface = msg.surface
		m.surfaces[msg.req.Page] = msg.surface
		if m.errorMessage != "" && strings.HasPrefix(m.errorMessage, "Page ") {
			m.errorMessage = ""
		}
		m.refreshPageViewport()
		if m.continuous && msg.source != navigator.SourceScroll && m.followSurface {
			m.scrollToPage(msg.req.Page)
			m.followSurface = false
		}
	case out.Failed:
		m.errorMessage = describeError(msg.err)
		m.refreshPageViewport()
	}
	return m.startRender(out.Next, navigator.SourceResync)
}

// onPageChanged runs inside RenderDone, on the Update goroutine.
func (m *model) onPageChanged(ev navigator.PageChanged) {
	m.confirmRemove = 0
	if m.editingNotes {
		m.stopEditingNotes(false)
	}
	if m.composerMode == composerModeQuestion {
		m.composer.Placeholder = fmt.Sprintf("Ask about page %d…", ev.Page)
	}
	m.ensureRailVisible()
	m.refreshPanel()
}

func (m *model) handleAnswer(msg answerResultMsg) {
	ctx := context.Background()
	var err error
	if msg.err != nil {
		err = m.config.Annotations.AttachFailure(ctx, msg.handle, describeError(msg.err))
	} else {
		err = m.config.Annotations.AttachAnswer(ctx, msg.handle, msg.resp.Answer, msg.resp.ModelUsed, msg.resp.References)
	}
	if err != nil {
		jobLog.Warn("could not attach answer", "doc", msg.handle.DocumentID, "err", err)
	}
	m.refreshPanel()
}

func (m *model) handleNotesSaved(msg notesSavedMsg) {
	doc := m.pages.Current()
	if doc == nil || doc.ID != msg.docID {
		return
	}
	if msg.err != nil {
		m.errorMessage = describeError(msg.err)
		m.infoMessage = "Your draft is kept. Press n then Ctrl+S to try again."
		return
	}
	text := msg.text
	if err := m.pages.ReplacePage(msg.page, document.PagePatch{Notes: &text}); err != nil {
		jobLog.Warn("saved notes for a page that is gone", "page", msg.page, "err", err)
	}
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Notes saved for page %d.", msg.page)
	m.refreshPanel()
}

func (m *model) handlePageEdited(msg pageEditedMsg) tea.Cmd {
	doc := m.pages.Current()
	if doc == nil || doc.ID != msg.docID {
		return nil
	}
	if msg.err != nil {
		m.errorMessage = describeError(msg.err)
		return nil
	}
	if msg.removed > 0 {
		// Threads and drafts are keyed by page number; follow the renumbering.
		if err := m.config.Annotations.RemovePage(context.Background(), msg.removed); err != nil {
			jobLog.Warn("shift annotations after page removal", "page", msg.removed, "err", err)
		}
		m.refreshPanel()
	}
	m.errorMessage = ""
	m.infoMessage = msg.summary
	return m.jobs.Start(jobKindRefresh, refreshDocumentJob(m.config.API, doc.ID, config.RefreshAttempts, false))
}

// handleFrame evaluates at most one scroll sample per frame in continuous mode.
func (m *model) handleFrame() tea.Cmd {
	if !m.continuous || m.stage != stageDisplay {
		m.frameRunning = false
		return nil
	}
	var cmd tea.Cmd
	if center, ok := m.sampler.Take(time.Now()); ok {
		cmd = m.startRender(m.nav.Scroll(m.pageOffsets(), center), navigator.SourceScroll)
	}
	return tea.Batch(cmd, m.frameTick())
}

func (m *model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	if m.stage != stageDisplay {
		return nil
	}
	if msg.Type == tea.MouseLeft {
		if page := m.layout.railPageAt(msg.X, msg.Y, m.railOffset, m.nav.PageCount()); page > 0 {
			return m.navigate(page, navigator.SourceThumbnail)
		}
		return nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	if m.continuous {
		m.sampler.Record(m.viewport.YOffset, m.viewport.Height)
	}
	return cmd
}

func (m *model) navigate(page int, source navigator.Source) tea.Cmd {
	m.followSurface = true
	return m.startRender(m.nav.Navigate(page, source), source)
}

func (m *model) step(delta int, source navigator.Source) tea.Cmd {
	m.followSurface = true
	return m.startRender(m.nav.Step(delta, source), source)
}

func (m *model) handleKey(key tea.KeyMsg) tea.Cmd {
	if m.composerMode != composerModeIdle {
		return m.handleComposerKey(key)
	}
	if m.editingNotes {
		return m.handleNotesKey(key)
	}
	switch m.stage {
	case stagePicker:
		return m.handlePickerKey(key)
	case stageDisplay:
		return m.handleDisplayKey(key)
	default:
		if key.String() == "esc" {
			return tea.Quit
		}
		return nil
	}
}

func (m *model) handlePickerKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "up", "k":
		if m.fileCursor > 0 {
			m.fileCursor--
		}
	case "down", "j":
		if m.fileCursor < len(m.files)-1 {
			m.fileCursor++
		}
	case "enter":
		if len(m.files) == 0 {
			m.infoMessage = "No documents yet. Press u to upload one."
			return nil
		}
		return m.startLoad(m.files[m.fileCursor].ID)
	case "u":
		m.openComposer(composerModeUpload, "")
	case "r":
		m.errorMessage = ""
		return m.startListFiles()
	case "?":
		m.helpVisible = !m.helpVisible
	case "esc", "q":
		return tea.Quit
	}
	return nil
}

func (m *model) handleDisplayKey(key tea.KeyMsg) tea.Cmd {
	if key.String() != "x" {
		m.confirmRemove = 0
	}
	switch key.String() {
	case "left", "h":
		return m.step(-1, navigator.SourceKeyboard)
	case "right", "l":
		return m.step(1, navigator.SourceKeyboard)
	case "up", "k", "down", "j", "pgup", "pgdown":
		if m.continuous {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(key)
			m.sampler.Record(m.viewport.YOffset, m.viewport.Height)
			return cmd
		}
		if key.String() == "up" || key.String() == "k" || key.String() == "pgup" {
			return m.step(-1, navigator.SourceKeyboard)
		}
		return m.step(1, navigator.SourceKeyboard)
	case "[":
		if !m.nav.CanPrev() {
			return nil
		}
		return m.step(-1, navigator.SourceButton)
	case "]":
		if !m.nav.CanNext() {
			return nil
		}
		return m.step(1, navigator.SourceButton)
	case "g":
		m.openComposer(composerModeJump, "")
	case "home":
		return m.navigate(1, navigator.SourceJump)
	case "end", "G":
		return m.navigate(m.nav.PageCount(), navigator.SourceJump)
	case "+", "=":
		return m.zoom(m.nav.Zoom() + config.ZoomStep)
	case "-":
		return m.zoom(m.nav.Zoom() - config.ZoomStep)
	case "0":
		return m.zoom(config.DefaultZoom)
	case "tab":
		m.cycleTab(1)
	case "shift+tab":
		m.cycleTab(-1)
	case "q":
		m.tab = tabQA
		m.refreshPanel()
		m.openComposer(composerModeQuestion, "")
	case "n":
		m.startEditingNotes()
	case "m":
		m.cycleModel()
	case "a":
		m.openComposer(composerModeAddPage, "")
	case "x":
		return m.requestRemove()
	case "r":
		if req := m.nav.Retry(); req != nil {
			m.infoMessage = fmt.Sprintf("Retrying page %d…", req.Page)
			return m.startRender(req, navigator.SourceRetry)
		}
	case "c":
		return m.toggleContinuous()
	case "t":
		m.showText = !m.showText
		m.refreshPageViewport()
	case "y":
		m.quoteSelection()
	case "b":
		return m.backToPicker()
	case "?":
		m.helpVisible = !m.helpVisible
	case "esc":
		if m.helpVisible {
			m.helpVisible = false
			return nil
		}
		return m.backToPicker()
	}
	return nil
}

func (m *model) zoom(z float64) tea.Cmd {
	req := m.nav.SetZoom(z)
	if req != nil {
		m.surfaces = make(map[int]*render.Surface)
		m.infoMessage = fmt.Sprintf("Zoom %d%%", int(m.nav.Zoom()*100+0.5))
	}
	return m.startRender(req, navigator.SourceZoom)
}

func (m *model) cycleTab(delta int) {
	idx := 0
	for i, t := range tabSequence {
		if t == m.tab {
			idx = i
		}
	}
	idx = (idx + delta + len(tabSequence)) % len(tabSequence)
	m.tab = tabSequence[idx]
	m.refreshPanel()
}

func (m *model) cycleModel() {
	if len(m.catalog.Models) == 0 {
		m.infoMessage = "The server did not list any models."
		return
	}
	next := 0
	for i, info := range m.catalog.Models {
		if info.Name == m.selectedModel {
			next = (i + 1) % len(m.catalog.Models)
		}
	}
	m.selectedModel = m.catalog.Models[next].Name
	if err := m.config.Annotations.SetPreferredModel(context.Background(), m.selectedModel); err != nil {
		jobLog.Warn("could not save model preference", "err", err)
	}
	m.infoMessage = "Model: " + m.selectedModel
}

func (m *model) requestRemove() tea.Cmd {
	doc := m.pages.Current()
	page := m.nav.Current()
	if doc == nil || page == 0 {
		return nil
	}
	if doc.PageCount() <= 1 {
		m.errorMessage = "A document needs at least one page."
		return nil
	}
	if m.confirmRemove != page {
		m.confirmRemove = page
		m.infoMessage = fmt.Sprintf("Press x again to remove page %d.", page)
		return nil
	}
	m.confirmRemove = 0
	return m.jobs.Start(jobKindRemove, removePageJob(m.config.API, doc.ID, page))
}

func (m *model) toggleContinuous() tea.Cmd {
	m.continuous = !m.continuous
	m.refreshPageViewport()
	if !m.continuous {
		m.viewport.SetYOffset(0)
		m.infoMessage = "Single page mode."
		return nil
	}
	m.infoMessage = "Continuous mode: scroll to move between pages."
	m.scrollToPage(m.nav.Current())
	m.sampler.Record(m.viewport.YOffset, m.viewport.Height)
	if m.frameRunning {
		return nil
	}
	m.frameRunning = true
	return m.frameTick()
}

// quoteSelection starts a question about the first line of the page text.
func (m *model) quoteSelection() {
	if m.surface == nil {
		return
	}
	text := strings.TrimSpace(m.surface.Text.PlainText())
	if text == "" {
		m.infoMessage = "This page has no selectable text."
		return
	}
	line := strings.SplitN(text, "\n", 2)[0]
	m.tab = tabQA
	m.refreshPanel()
	m.openComposer(composerModeQuestion, fmt.Sprintf("About %q: ", trimmedTitle(line, 80)))
}

func (m *model) backToPicker() tea.Cmd {
	if doc := m.pages.Current(); doc != nil {
		m.config.Engine.Discard(doc.ID)
	}
	m.pages.Clear()
	m.nav.Reset(0)
	m.surface = nil
	m.surfaces = make(map[int]*render.Surface)
	m.continuous = false
	m.editingNotes = false
	m.closeComposer()
	m.errorMessage = ""
	return m.startListFiles()
}

func (m *model) openComposer(mode composerMode, value string) {
	m.composerMode = mode
	switch mode {
	case composerModeUpload:
		m.composer.Placeholder = composerUploadPlaceholder
	case composerModeAddPage:
		m.composer.Placeholder = composerAddPagePlaceholder
	case composerModeQuestion:
		m.composer.Placeholder = composerQuestionPlaceholder
	case composerModeJump:
		m.composer.Placeholder = composerJumpPlaceholder
	}
	m.composer.SetValue(value)
	m.composer.CursorEnd()
	m.composer.Focus()
}

func (m *model) closeComposer() {
	m.composerMode = composerModeIdle
	m.composer.SetValue("")
	m.composer.Blur()
}

func (m *model) handleComposerKey(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyEsc:
		m.closeComposer()
		return nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.composer.Value())
		mode := m.composerMode
		m.closeComposer()
		return m.submitComposer(mode, value)
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(key)
	return cmd
}

func (m *model) submitComposer(mode composerMode, value string) tea.Cmd {
	if value == "" {
		return nil
	}
	switch mode {
	case composerModeUpload:
		return m.startUpload(value)
	case composerModeAddPage:
		doc := m.pages.Current()
		if doc == nil {
			return nil
		}
		m.infoMessage = "Adding pages…"
		return m.jobs.Start(jobKindAddPage, addPageJob(m.config.API, doc.ID, value))
	case composerModeJump:
		page, err := strconv.Atoi(value)
		if err != nil {
			m.errorMessage = fmt.Sprintf("%q is not a page number.", value)
			return nil
		}
		return m.navigate(page, navigator.SourceJump)
	case composerModeQuestion:
		return m.ask(value)
	}
	return nil
}

// ask records the question on the page being shown and sends it. The answer is
// attached by handle whichever page is on screen when it arrives.
func (m *model) ask(question string) tea.Cmd {
	doc := m.pages.Current()
	page := m.nav.Current()
	if doc == nil || page == 0 {
		return nil
	}
	h, err := m.config.Annotations.RecordQuestion(context.Background(), page, question)
	if err != nil && h.EntryID == "" {
		m.errorMessage = describeError(err)
		return nil
	}
	if err != nil {
		jobLog.Warn("question not persisted", "err", err)
	}
	m.refreshPanel()
	req := api.AskRequest{Question: question, FileID: doc.ID, PageID: page, Model: m.selectedModel}
	return m.jobs.Start(jobKindQuestion, askJob(m.config.API, h, req))
}

func (m *model) startEditingNotes() {
	page := m.nav.Current()
	if page == 0 {
		return
	}
	text := ""
	if p, ok := m.pages.Page(page); ok {
		text = p.Notes
	}
	if draft, ok := m.config.Annotations.Notes(page); ok {
		text = draft
	}
	m.tab = tabNotes
	m.editingNotes = true
	m.notesPage = page
	m.notesInput.SetValue(text)
	m.notesInput.Focus()
	m.refreshPanel()
}

// stopEditingNotes keeps the draft in the annotation cache, optionally sending
// it to the server.
func (m *model) stopEditingNotes(save bool) tea.Cmd {
	page := m.notesPage
	text := m.notesInput.Value()
	m.editingNotes = false
	m.notesInput.Blur()
	if err := m.config.Annotations.SetNotes(context.Background(), page, text); err != nil {
		jobLog.Warn("notes draft not persisted", "page", page, "err", err)
	}
	m.refreshPanel()
	doc := m.pages.Current()
	if !save || doc == nil {
		return nil
	}
	m.infoMessage = "Saving notes…"
	return m.jobs.Start(jobKindNotes, saveNotesJob(m.config.API, doc.ID, page, text))
}

func (m *model) handleNotesKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "ctrl+s":
		return m.stopEditingNotes(true)
	case "esc":
		m.infoMessage = "Draft kept. Press n to continue, Ctrl+S to save."
		return m.stopEditingNotes(false)
	}
	var cmd tea.Cmd
	m.notesInput, cmd = m.notesInput.Update(key)
	m.refreshPanel()
	return cmd
}

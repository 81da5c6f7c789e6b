package tui

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/studyflow/internal/annotations"
	"github.com/csheth/studyflow/internal/api"
	"github.com/csheth/studyflow/internal/fakeserver"
	"github.com/csheth/studyflow/internal/navigator"
	"github.com/csheth/studyflow/internal/render"
)

type fixture struct {
	t      *testing.T
	server *fakeserver.Server
	cache  *annotations.Cache
	model  *model
}

func newFixture(t *testing.T, opts fakeserver.Options, wrap func(http.Handler) http.Handler) *fixture {
	t.Helper()
	srv := fakeserver.New(opts)
	var handler http.Handler = srv.Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client := api.New(ts.URL, api.Options{HTTPClient: ts.Client()})
	engine, err := render.NewEngine(render.Options{
		CacheDir:   t.TempDir(),
		HTTPClient: ts.Client(),
		ResolveURL: client.ResolveURL,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(engine.Close)
	f := &fixture{
		t:      t,
		server: srv,
		cache:  annotations.NewCache(annotations.NewMemoryStore()),
	}
	f.model = New(Config{API: client, Engine: engine, Annotations: f.cache}).(*model)
	f.model.tick = func(_ time.Duration, fn func(time.Time) tea.Msg) tea.Cmd {
		return func() tea.Msg { return fn(time.Now()) }
	}
	f.model.resize(120, 40)
	return f
}

// drain runs cmd and every command produced while handling its messages.
// Spinner and frame ticks are dropped so the loop ends.
func (f *fixture) drain(cmd tea.Cmd) {
	f.t.Helper()
	queue := []tea.Cmd{cmd}
	cmdType := reflect.TypeOf((*tea.Cmd)(nil)).Elem()
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 500 {
			f.t.Fatal("command queue did not settle")
		}
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := next()
		if msg == nil {
			continue
		}
		if v := reflect.ValueOf(msg); v.Kind() == reflect.Slice && v.Type().Elem() == cmdType {
			for i := 0; i < v.Len(); i++ {
				queue = append(queue, v.Index(i).Interface().(tea.Cmd))
			}
			continue
		}
		switch msg.(type) {
		case spinner.TickMsg, frameTickMsg:
			continue
		}
		_, follow := f.model.Update(msg)
		queue = append(queue, follow)
	}
}

func (f *fixture) press(keys ...string) {
	f.t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		case "left":
			msg = tea.KeyMsg{Type: tea.KeyLeft}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "ctrl+s":
			msg = tea.KeyMsg{Type: tea.KeyCtrlS}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		_, cmd := f.model.Update(msg)
		f.drain(cmd)
	}
}

func (f *fixture) open(texts ...string) string {
	f.t.Helper()
	id := f.server.Seed("notes.txt", texts...)
	f.drain(f.model.startLoad(id))
	if f.model.stage != stageDisplay {
		f.t.Fatalf("stage = %v, error %q", f.model.stage, f.model.errorMessage)
	}
	return id
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestOpenDocumentRendersFirstPage(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("Cells divide by mitosis. Details follow.", "Second page.", "Third page.")

	m := f.model
	if m.nav.Current() != 1 || m.surface == nil || m.surface.Page != 1 {
		t.Fatalf("current=%d surface=%+v", m.nav.Current(), m.surface)
	}
	if !strings.Contains(m.surface.Text.PlainText(), "mitosis") {
		t.Fatalf("text layer = %q", m.surface.Text.PlainText())
	}
	if !strings.Contains(m.panelContent(), "Cells divide by mitosis.") {
		t.Fatalf("summary panel = %q", m.panelContent())
	}
	if m.selectedModel != "gpt-4o-mini" {
		t.Fatalf("model = %q", m.selectedModel)
	}
	if view := m.View(); !strings.Contains(view, "Page 1 of 3") {
		t.Fatalf("view missing page label:\n%s", view)
	}
}

func TestKeysAndButtonsNavigate(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two", "three")
	var changes []int
	f.model.nav.Subscribe(func(e navigator.PageChanged) { changes = append(changes, e.Page) })

	f.press("right", "right", "right")
	if got := f.model.nav.Current(); got != 3 {
		t.Fatalf("after three rights current = %d", got)
	}
	f.press("[")
	if got := f.model.nav.Current(); got != 2 {
		t.Fatalf("after [ current = %d", got)
	}
	f.press("g", "1", "enter")
	if got := f.model.nav.Current(); got != 1 {
		t.Fatalf("after jump current = %d", got)
	}
	f.press("[")
	if !reflect.DeepEqual(changes, []int{2, 3, 2, 1}) {
		t.Fatalf("page changes = %v", changes)
	}
}

func TestThumbnailClickNavigates(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two", "three")
	_, cmd := f.model.Update(tea.MouseMsg{X: 2, Y: headerHeight + railHeaderRows + 2, Type: tea.MouseLeft})
	f.drain(cmd)
	if got := f.model.nav.Current(); got != 3 {
		t.Fatalf("current = %d", got)
	}
}

func TestZoomKeepsPage(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two")
	f.press("right")
	width := f.model.surface.Width
	f.press("+")
	if f.model.nav.Current() != 2 || f.model.surface.Page != 2 {
		t.Fatalf("zoom changed the page: %d", f.model.nav.Current())
	}
	if f.model.surface.Width <= width {
		t.Fatalf("zoomed surface width %d should exceed %d", f.model.surface.Width, width)
	}
}

func TestAnswerLandsOnAskedPage(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("Photosynthesis converts light.", "Respiration releases energy.")

	askCmd := f.model.ask("What is converted?")
	f.press("right")
	if f.model.nav.Current() != 2 {
		t.Fatalf("current = %d", f.model.nav.Current())
	}
	f.drain(askCmd)

	page1 := f.cache.EntriesFor(1)
	if len(page1) != 1 || page1[0].Pending || !strings.Contains(page1[0].Answer, "Photosynthesis") {
		t.Fatalf("page 1 entries = %+v", page1)
	}
	if len(f.cache.EntriesFor(2)) != 0 {
		t.Fatalf("page 2 should have no entries: %+v", f.cache.EntriesFor(2))
	}
}

func TestAskFailureIsShownInline(t *testing.T) {
	failAsk := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/ask" {
				http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	f := newFixture(t, fakeserver.Options{}, failAsk)
	f.open("one")
	f.press("q")
	f.model.composer.SetValue("Why?")
	f.press("enter")

	entries := f.cache.EntriesFor(1)
	if len(entries) != 1 || !entries[0].Failed || !strings.Contains(entries[0].Error, "model overloaded") {
		t.Fatalf("entries = %+v", entries)
	}
	if !strings.Contains(f.model.panelContent(), "Failed") {
		t.Fatalf("panel = %q", f.model.panelContent())
	}
}

func TestNotesSaveFailureKeepsDraft(t *testing.T) {
	failNotes := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/notes/") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	f := newFixture(t, fakeserver.Options{}, failNotes)
	f.open("one", "two")
	f.press("n")
	f.model.notesInput.SetValue("light reactions")
	f.press("ctrl+s")

	if !strings.Contains(f.model.errorMessage, "Saving notes failed") {
		t.Fatalf("error = %q", f.model.errorMessage)
	}
	if draft, _ := f.cache.Notes(1); draft != "light reactions" {
		t.Fatalf("draft = %q", draft)
	}
	if p, _ := f.model.pages.Page(1); p.Notes != "" {
		t.Fatalf("page notes should not change on failure: %q", p.Notes)
	}
}

func TestNotesSaveUpdatesPage(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two")
	f.press("right", "n")
	f.model.notesInput.SetValue("krebs cycle")
	f.press("ctrl+s")
	if p, _ := f.model.pages.Page(2); p.Notes != "krebs cycle" {
		t.Fatalf("page 2 notes = %q (%s)", p.Notes, f.model.errorMessage)
	}
}

func TestRenderFailureKeepsPageAndRetries(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two")
	m := f.model
	shown := m.surface

	req := m.nav.Navigate(2, navigator.SourceKeyboard)
	_, cmd := m.Update(renderResultMsg{req: *req, err: &render.RenderError{Page: 2, Err: errors.New("boom")}})
	f.drain(cmd)
	if m.nav.Current() != 1 || m.surface != shown || m.nav.FailedPage() != 2 {
		t.Fatalf("current=%d failed=%d", m.nav.Current(), m.nav.FailedPage())
	}
	if !strings.Contains(m.errorMessage, "Press r to retry") {
		t.Fatalf("error = %q", m.errorMessage)
	}

	f.press("r")
	if m.nav.Current() != 2 || m.nav.FailedPage() != 0 || m.errorMessage != "" {
		t.Fatalf("after retry current=%d failed=%d error=%q", m.nav.Current(), m.nav.FailedPage(), m.errorMessage)
	}
}

func TestUploadPollsUntilSummariesReady(t *testing.T) {
	f := newFixture(t, fakeserver.Options{SummaryDelay: 2}, nil)
	f.drain(f.model.startUpload(writePNG(t)))

	doc := f.model.pages.Current()
	if f.model.stage != stageDisplay || doc == nil {
		t.Fatalf("stage=%v error=%q", f.model.stage, f.model.errorMessage)
	}
	if !doc.SummariesReady() {
		t.Fatalf("summaries should be ready after polling: %+v", doc.Pages)
	}
	if f.model.infoMessage != "Summaries ready." {
		t.Fatalf("info = %q", f.model.infoMessage)
	}
	if f.model.surface == nil {
		t.Fatal("image page was not rendered")
	}
}

func TestUploadRejectsUnsupportedFile(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	path := filepath.Join(t.TempDir(), "notes.docx")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.drain(f.model.startUpload(path))
	if f.model.stage != stagePicker || !strings.HasPrefix(f.model.errorMessage, "Upload failed") {
		t.Fatalf("stage=%v error=%q", f.model.stage, f.model.errorMessage)
	}
}

func TestRemovePageNeedsConfirmation(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two", "three")
	f.press("right", "right", "x")
	if f.model.pages.PageCount() != 3 {
		t.Fatal("first x should only ask for confirmation")
	}
	f.press("x")
	if got := f.model.pages.PageCount(); got != 2 {
		t.Fatalf("page count = %d (%s)", got, f.model.errorMessage)
	}
	if got := f.model.nav.Current(); got != 2 {
		t.Fatalf("current should be clamped to 2, got %d", got)
	}
	if f.model.surface == nil || !strings.Contains(f.model.surface.Text.PlainText(), "two") {
		t.Fatalf("surface after removal = %q", f.model.surface.Text.PlainText())
	}
}

func TestRemovePageMovesLaterThreads(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two", "three")
	f.press("right", "right")
	f.drain(f.model.ask("What does three say?"))
	f.press("left", "x", "x")

	if got := f.model.pages.PageCount(); got != 2 {
		t.Fatalf("page count = %d (%s)", got, f.model.errorMessage)
	}
	moved := f.cache.EntriesFor(2)
	if len(moved) != 1 || moved[0].Question != "What does three say?" || moved[0].Page != 2 {
		t.Fatalf("page 2 entries = %+v", moved)
	}
	if len(f.cache.EntriesFor(3)) != 0 {
		t.Fatalf("page 3 should be gone: %+v", f.cache.EntriesFor(3))
	}
}

func TestRefreshFailureForOtherDocumentIsIgnored(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one")
	cmd := f.model.handleRefreshed(documentRefreshedMsg{
		docID:   "previous-doc",
		attempt: 1,
		poll:    true,
		err:     errors.New("connection refused"),
	})
	if cmd != nil {
		t.Fatal("stale refresh should not schedule another poll")
	}
	if f.model.errorMessage != "" {
		t.Fatalf("error message = %q", f.model.errorMessage)
	}
}

func TestAddPageExtendsDocument(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one")
	f.press("a")
	f.model.composer.SetValue(writePNG(t))
	f.press("enter")
	doc := f.model.pages.Current()
	if doc.PageCount() != 2 || !doc.IsMerged {
		t.Fatalf("pages=%d merged=%v (%s)", doc.PageCount(), doc.IsMerged, f.model.errorMessage)
	}
	if !f.model.nav.CanNext() {
		t.Fatal("next should be enabled after adding a page")
	}
}

func TestContinuousScrollSelectsNearestPage(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one", "two", "three")
	m := f.model
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	f.drain(cmd)
	if !m.continuous {
		t.Fatal("continuous mode not enabled")
	}

	offsets := m.pageOffsets()
	third := offsets[2]
	m.sampler.Record(third.Top, third.Height)
	f.drain(m.handleFrame())
	if got := m.nav.Current(); got != 3 {
		t.Fatalf("current = %d", got)
	}
}

func TestModelCycleIsPersisted(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one")
	f.press("m")
	if f.model.selectedModel != "gpt-4o" {
		t.Fatalf("model = %q", f.model.selectedModel)
	}
	if name, _ := f.cache.PreferredModel(context.Background()); name != "gpt-4o" {
		t.Fatalf("saved model = %q", name)
	}
}

func TestBackToPickerListsFiles(t *testing.T) {
	f := newFixture(t, fakeserver.Options{}, nil)
	f.open("one")
	f.press("b")
	if f.model.stage != stagePicker || f.model.pages.Current() != nil {
		t.Fatalf("stage=%v", f.model.stage)
	}
	if len(f.model.files) != 1 || f.model.files[0].Name != "notes.txt" {
		t.Fatalf("files = %+v", f.model.files)
	}
	f.press("enter")
	if f.model.stage != stageDisplay {
		t.Fatalf("reopen stage = %v", f.model.stage)
	}
}

func TestPageLayoutUpdate(t *testing.T) {
	cases := []struct {
		name                              string
		width, height                     int
		rail, page, panel, body, pageRows int
	}{
		{name: "wide", width: 120, height: 40, rail: 22, page: 56, panel: 40, body: 33, pageRows: 32},
		{name: "narrow", width: 80, height: 24, rail: 0, page: 49, panel: 30, body: 17, pageRows: 16},
		{name: "tiny", width: 60, height: 10, rail: 0, page: 40, panel: 30, body: 8, pageRows: 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newPageLayout()
			l.Update(tc.width, tc.height)
			got := []int{l.railWidth, l.pageWidth, l.panelWidth, l.bodyHeight, l.pageHeight}
			want := []int{tc.rail, tc.page, tc.panel, tc.body, tc.pageRows}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("layout = %v, want %v", got, want)
			}
		})
	}
}

func TestRailPageAt(t *testing.T) {
	l := newPageLayout()
	top := headerHeight + railHeaderRows
	cases := []struct {
		x, y, offset, want int
	}{
		{x: 1, y: top, want: 1},
		{x: 1, y: top + 2, want: 3},
		{x: 1, y: top, offset: 4, want: 5},
		{x: 1, y: top + 9, want: 0},
		{x: 1, y: top - 1, want: 0},
		{x: railWidth + 5, y: top, want: 0},
	}
	for _, tc := range cases {
		if got := l.railPageAt(tc.x, tc.y, tc.offset, 5); got != tc.want {
			t.Errorf("railPageAt(%d,%d,%d) = %d, want %d", tc.x, tc.y, tc.offset, got, tc.want)
		}
	}
}

func TestDescribeError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&api.Error{Op: api.OpUpload, Message: "too big"}, "Upload failed: too big"},
		{&api.Error{Op: api.OpAsk, Status: 502}, "Question failed: HTTP 502"},
		{&api.Error{Op: api.OpSaveNotes, Err: errors.New("offline")}, "Saving notes failed: offline"},
		{&render.RenderError{Page: 4, Err: errors.New("x")}, "Page 4 could not be rendered. Press r to retry."},
	}
	for _, tc := range cases {
		if got := describeError(tc.err); got != tc.want {
			t.Errorf("describeError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestResolveModel(t *testing.T) {
	catalog := api.ModelCatalog{
		Models:         []api.ModelInfo{{Name: "a"}, {Name: "b"}},
		DefaultQAModel: "b",
	}
	if got := resolveModel(catalog, "a"); got != "a" {
		t.Fatalf("known preference = %q", got)
	}
	if got := resolveModel(catalog, "gone"); got != "b" {
		t.Fatalf("unknown preference = %q", got)
	}
	if got := resolveModel(api.ModelCatalog{}, "kept"); got != "kept" {
		t.Fatalf("empty catalogue = %q", got)
	}
}

package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/csheth/studyflow/internal/document"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(Options{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func textDocument(id string, pages ...string) *document.Document {
	doc := &document.Document{ID: id, FileType: document.FileTypeOther}
	for i, text := range pages {
		doc.Pages = append(doc.Pages, document.Page{Number: i + 1, Text: text})
	}
	return doc
}

func TestFitScale(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		native Size
		vp     Viewport
		zoom   float64
		want   float64
	}{
		{"letter fits height", letter, Viewport{Width: 204, Height: 33}, 1, 0.5},
		{"letter fits width", letter, Viewport{Width: 51, Height: 200}, 1, 0.5},
		{"zoom multiplies", letter, Viewport{Width: 102, Height: 66}, 1.5, 1.5},
		{"zero size", Size{}, Viewport{Width: 10, Height: 10}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitScale(tt.native, tt.vp, tt.zoom); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("FitScale = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderTextLayerSharesSurfaceGeometry(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	doc := textDocument("doc-text", "Photosynthesis converts light into chemical energy.", "Second page.")
	h, err := engine.Open(context.Background(), doc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if h.Kind != KindText {
		t.Fatalf("kind = %s", h.Kind)
	}

	surface, err := engine.Render(context.Background(), h, 1, 1, Viewport{Width: 51, Height: 33, PixelRatio: 2})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if surface.Width != 51 || surface.Height != 33 {
		t.Fatalf("css size = %dx%d", surface.Width, surface.Height)
	}
	if surface.BackingWidth != 102 || surface.BackingHeight != 66 {
		t.Fatalf("backing size = %dx%d, want css size times pixel ratio", surface.BackingWidth, surface.BackingHeight)
	}
	if surface.Text.Width != surface.Width || surface.Text.Height != surface.Height {
		t.Fatalf("text layer %dx%d does not match surface", surface.Text.Width, surface.Text.Height)
	}
	if len(surface.Rows) != surface.Height {
		t.Fatalf("rows = %d", len(surface.Rows))
	}
	if !strings.Contains(surface.Text.PlainText(), "Photosynthesis converts light") {
		t.Fatalf("text layer missing page text: %q", surface.Text.PlainText())
	}
	for _, span := range surface.Text.Spans {
		if span.X < 0 || span.X >= surface.Width || span.Y < 0 || span.Y >= surface.Height {
			t.Fatalf("span outside surface: %+v", span)
		}
	}
}

func TestZoomChangesScaleNotPage(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	h, err := engine.Open(context.Background(), textDocument("doc-zoom", "words"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	vp := Viewport{Width: 51, Height: 33}
	base, err := engine.Render(context.Background(), h, 1, 1, vp)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	zoomed, err := engine.Render(context.Background(), h, 1, 2, vp)
	if err != nil {
		t.Fatalf("render zoomed: %v", err)
	}
	if zoomed.Page != base.Page || zoomed.Width != base.Width*2 {
		t.Fatalf("zoomed surface page=%d width=%d, base width=%d", zoomed.Page, zoomed.Width, base.Width)
	}
	if base.PixelRatio != DefaultPixelRatio {
		t.Fatalf("default pixel ratio = %d", base.PixelRatio)
	}
}

func TestRenderErrorsAreRecoverable(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	h, err := engine.Open(context.Background(), textDocument("doc-err", "one"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = engine.Render(context.Background(), h, 1, 1, Viewport{})
	var renderErr *RenderError
	if !errors.As(err, &renderErr) || renderErr.Page != 1 || !errors.Is(err, errNoTarget) {
		t.Fatalf("expected RenderError for missing target, got %v", err)
	}

	_, err = engine.Render(context.Background(), h, 4, 1, Viewport{Width: 10, Height: 10})
	if !errors.As(err, &renderErr) || renderErr.Page != 4 {
		t.Fatalf("expected RenderError for page 4, got %v", err)
	}

	if _, err := engine.Render(context.Background(), h, 1, 1, Viewport{Width: 10, Height: 10}); err != nil {
		t.Fatalf("handle should stay usable after a failure: %v", err)
	}
}

func TestOpenImageShadesPixels(t *testing.T) {
	t.Parallel()
	img := image.NewGray(image.Rect(0, 0, 60, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 60; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	engine := newTestEngine(t)
	doc := &document.Document{ID: "img", FileType: document.FileTypeImage, FileURL: path, Pages: []document.Page{{Number: 1, Text: "scan"}}}
	h, err := engine.Open(context.Background(), doc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if h.Kind != KindImage {
		t.Fatalf("kind = %s", h.Kind)
	}
	surface, err := engine.Render(context.Background(), h, 1, 1, Viewport{Width: 20, Height: 20})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(surface.View(), "@") {
		t.Fatalf("black image should paint darkest shade:\n%s", surface.View())
	}
}

func TestOpenRejectsUnsupportedAndBrokenFiles(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	dir := t.TempDir()

	archive := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(archive, []byte("PK"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc := &document.Document{ID: "zip", FileURL: archive, Pages: []document.Page{{Number: 1}}}
	if _, err := engine.Open(context.Background(), doc); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	broken := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(broken, []byte("%PDF-1.4\nthis is not a pdf"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc = &document.Document{ID: "pdf", FileType: document.FileTypePDF, FileURL: broken, Pages: []document.Page{{Number: 1}}}
	var loadErr *LoadError
	if _, err := engine.Open(context.Background(), doc); !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestOpenReusesHandleUntilDocumentChanges(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	doc := textDocument("doc-cache", "a", "b")
	first, err := engine.Open(context.Background(), doc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	refreshed := textDocument("doc-cache", "a", "b")
	refreshed.Pages[0].Summary = "now summarised"
	second, err := engine.Open(context.Background(), refreshed)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first != second {
		t.Fatal("summary-only refresh should reuse the parsed handle")
	}

	shrunk := textDocument("doc-cache", "a")
	third, err := engine.Open(context.Background(), shrunk)
	if err != nil {
		t.Fatalf("reopen after removal: %v", err)
	}
	if third == first {
		t.Fatal("page removal should discard and reopen the handle")
	}
	if third.PageCount() != 1 {
		t.Fatalf("page count = %d", third.PageCount())
	}
}

func TestCancelledCallerDoesNotAbortSharedOpen(t *testing.T) {
	t.Parallel()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var hits atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(img.Bytes())
	}))
	t.Cleanup(server.Close)

	engine, err := NewEngine(Options{CacheDir: t.TempDir(), HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	doc := &document.Document{ID: "scan", FileType: document.FileTypeImage, FileURL: server.URL + "/uploads/scan.png", Pages: []document.Page{{Number: 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := engine.Open(ctx, doc)
		errc <- err
	}()
	<-started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v", err)
	}
	close(release)

	h, err := engine.Open(context.Background(), doc)
	if err != nil {
		t.Fatalf("open after cancelled caller: %v", err)
	}
	if h.Kind != KindImage {
		t.Fatalf("kind = %s", h.Kind)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("downloads = %d, want the first one to finish and be shared", got)
	}
}

func TestConcurrentRendersOnOneHandle(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	h, err := engine.Open(context.Background(), textDocument("doc-par", "alpha", "beta", "gamma"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			s, err := engine.Render(context.Background(), h, page, 1, Viewport{Width: 40, Height: 20})
			if err != nil {
				t.Errorf("render %d: %v", page, err)
				return
			}
			if s.Page != page {
				t.Errorf("surface page = %d, want %d", s.Page, page)
			}
		}(i%3 + 1)
	}
	wg.Wait()
}

func TestThumbnail(t *testing.T) {
	t.Parallel()
	p := document.Page{Number: 2, Text: "The   quick brown\nfox"}
	if got := Thumbnail(p, 0); got != "2 The quick brown fox" {
		t.Fatalf("Thumbnail = %q", got)
	}
	if got := Thumbnail(p, 8); got != "2 The q…" {
		t.Fatalf("truncated Thumbnail = %q", got)
	}
}

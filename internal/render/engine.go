package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/singleflight"

	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/document"
	"github.com/csheth/studyflow/internal/logging"
	"github.com/csheth/studyflow/internal/metrics"
)

// ErrUnsupportedFormat is returned by Open for files the engine cannot paint.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// LoadError reports a file that was found but could not be parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// RenderError is a recoverable failure to paint one page. The caller keeps the
// previous surface on screen.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render page %d: %v", e.Page, e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// Kind is the way a handle paints its pages.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindText  Kind = "text"
)

var officeExtensions = map[string]bool{"docx": true, "odt": true, "rtf": true, "txt": true, "md": true}

// Handle is a parsed document shared by every render of that document. Renders
// on one handle are serialised by its draw lock.
type Handle struct {
	DocumentID string
	Kind       Kind

	mu        sync.Mutex
	doc       *document.Document
	path      string
	sizes     []Size
	pdf       *pdf.Reader
	img       image.Image
	extracted []string
	glyphs    map[int][]Glyph
	closer    io.Closer
}

// PageCount is the number of pages the file itself has; text handles follow the
// document.
func (h *Handle) PageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Kind == KindPDF {
		return len(h.sizes)
	}
	return h.doc.PageCount()
}

func (h *Handle) matches(doc *document.Document) bool {
	return h.DocumentID == doc.ID && h.doc.FileURL == doc.FileURL && h.doc.PageCount() == doc.PageCount()
}

func (h *Handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closer != nil {
		_ = h.closer.Close()
		h.closer = nil
	}
	h.pdf = nil
}

// Engine opens and paints documents.
type Engine struct {
	files *fileCache
	group singleflight.Group
	log   *logging.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	resolve func(string) string
}

// Options configure an Engine.
type Options struct {
	CacheDir   string
	HTTPClient *http.Client
	// ResolveURL turns server-relative file URLs into absolute ones.
	ResolveURL func(string) string
}

func NewEngine(opts Options) (*Engine, error) {
	files, err := newFileCache(opts.CacheDir, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	resolve := opts.ResolveURL
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	return &Engine{
		files:   files,
		log:     logging.New("render"),
		handles: make(map[string]*Handle),
		resolve: resolve,
	}, nil
}

// Open returns the handle for doc, parsing the file only the first time. A
// document whose identity changed (file URL or page count) is discarded and
// reopened; otherwise the cached handle is rebound to the new page data.
func (e *Engine) Open(ctx context.Context, doc *document.Document) (*Handle, error) {
	if doc == nil {
		return nil, document.ErrMalformedDocument
	}
	e.mu.Lock()
	if h, ok := e.handles[doc.ID]; ok {
		if h.matches(doc) {
			h.mu.Lock()
			h.doc = doc
			h.mu.Unlock()
			e.mu.Unlock()
			return h, nil
		}
		delete(e.handles, doc.ID)
		e.log.Info("discarding stale handle", "doc", doc.ID)
		e.files.Expire(doc.ID, e.resolve(doc.FileURL))
		go h.close()
	}
	e.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%d", doc.ID, doc.FileURL, doc.PageCount())
	// The shared open outlives any one caller; a cancelled render must not fail
	// the others waiting on the same key.
	ch := e.group.DoChan(key, func() (any, error) {
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.RenderTimeout)
		defer cancel()
		start := time.Now()
		h, err := e.open(openCtx, doc)
		if err != nil {
			e.log.Warn("open failed", "doc", doc.ID, "err", err)
			return nil, err
		}
		e.mu.Lock()
		e.handles[doc.ID] = h
		e.mu.Unlock()
		e.log.Info("opened document", "doc", doc.ID, "kind", h.Kind, "duration", time.Since(start))
		return h, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (e *Engine) open(ctx context.Context, doc *document.Document) (*Handle, error) {
	h := &Handle{DocumentID: doc.ID, Kind: KindText, doc: doc, glyphs: make(map[int][]Glyph)}
	if doc.FileURL == "" {
		return h, nil
	}
	ext := strings.TrimPrefix(extensionOf(doc.FileURL), ".")
	if ext == "" {
		ext = doc.Extension
	}
	var opener func(*Handle) error
	switch {
	case ext == "pdf" || (ext == "" && doc.FileType == document.FileTypePDF):
		h.Kind, opener = KindPDF, openPDF
	case ext == "png" || ext == "jpg" || ext == "jpeg" || ext == "gif" || (ext == "" && doc.FileType == document.FileTypeImage):
		h.Kind, opener = KindImage, openImage
	case officeExtensions[ext]:
		opener = openOffice
	default:
		return nil, fmt.Errorf("%s: %w", ext, ErrUnsupportedFormat)
	}

	path, err := e.files.Fetch(ctx, doc.ID, e.resolve(doc.FileURL))
	if err != nil {
		return nil, &LoadError{Path: doc.FileURL, Err: err}
	}
	h.path = path
	if err := opener(h); err != nil {
		return nil, err
	}
	return h, nil
}

// Render paints one page. A failure is returned as *RenderError and leaves no
// partial surface behind.
func (e *Engine) Render(ctx context.Context, h *Handle, page int, zoom float64, vp Viewport) (surface *Surface, err error) {
	start := time.Now()
	kind := "none"
	defer func() {
		metrics.ObserveRender(kind, err != nil, time.Since(start))
		if err != nil {
			e.log.Warn("render failed", "page", page, "err", err)
		}
	}()
	if h == nil {
		return nil, &RenderError{Page: page, Err: errors.New("no document open")}
	}
	kind = string(h.Kind)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &RenderError{Page: page, Err: err}
	}
	model, err := h.pageModel(page)
	if err != nil {
		return nil, &RenderError{Page: page, Err: err}
	}
	surface, err = rasterize(model, page, zoom, vp)
	if err != nil {
		return nil, &RenderError{Page: page, Err: err}
	}
	return surface, nil
}

// pageModel must be called with h.mu held.
func (h *Handle) pageModel(number int) (pageModel, error) {
	docPage, inDoc := h.doc.Page(number)
	switch h.Kind {
	case KindPDF:
		if number < 1 || number > len(h.sizes) {
			if inDoc && docPage.Text != "" {
				// pages merged in from another upload
				return layoutText(docPage.Text, letter), nil
			}
			return pageModel{}, fmt.Errorf("pdf has %d pages, no page %d", len(h.sizes), number)
		}
		if h.pdf == nil {
			return pageModel{}, errors.New("document handle closed")
		}
		size := h.sizes[number-1]
		glyphs, ok := h.glyphs[number]
		if !ok {
			var err error
			glyphs, err = pdfGlyphs(h.pdf, number, size)
			if err != nil {
				return pageModel{}, err
			}
			h.glyphs[number] = glyphs
		}
		if len(glyphs) == 0 && inDoc && docPage.Text != "" {
			// scanned page: fall back to the server's extracted text
			return layoutText(docPage.Text, size), nil
		}
		return pageModel{size: size, glyphs: glyphs}, nil
	case KindImage:
		if number == 1 {
			return pageModel{size: h.sizes[0], img: h.img}, nil
		}
		if !inDoc {
			return pageModel{}, fmt.Errorf("no page %d", number)
		}
		return layoutText(docPage.Text, letter), nil
	default:
		if number >= 1 && number <= len(h.extracted) && h.extracted[number-1] != "" {
			return layoutText(h.extracted[number-1], letter), nil
		}
		if !inDoc {
			return pageModel{}, fmt.Errorf("no page %d", number)
		}
		return layoutText(docPage.Text, letter), nil
	}
}

// Discard drops the cached handle for a document.
func (e *Engine) Discard(documentID string) {
	e.mu.Lock()
	h, ok := e.handles[documentID]
	delete(e.handles, documentID)
	e.mu.Unlock()
	if ok {
		h.close()
	}
}

// Close releases every open handle.
func (e *Engine) Close() {
	e.mu.Lock()
	handles := e.handles
	e.handles = make(map[string]*Handle)
	e.mu.Unlock()
	for _, h := range handles {
		h.close()
	}
}

// Thumbnail is a one-line preview of a page for the thumbnail rail.
func Thumbnail(p document.Page, width int) string {
	label := fmt.Sprintf("%d ", p.Number)
	text := strings.Join(strings.Fields(p.Text), " ")
	if text == "" {
		text = strings.Join(strings.Fields(p.Summary), " ")
	}
	line := label + text
	if width <= 0 || utf8.RuneCountInString(line) <= width {
		return line
	}
	if width == 1 {
		return "…"
	}
	runes := []rune(line)
	return string(runes[:width-1]) + "…"
}

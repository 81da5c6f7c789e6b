package render

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"
	"github.com/muesli/reflow/wordwrap"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// letter is the page size used for documents that carry no geometry of their own.
var letter = Size{Width: 612, Height: 792}

const (
	textMargin  = 36.0
	textColumns = 88
)

// openPDF validates the file, reads page boxes with pdfcpu and keeps a
// ledongthuc reader open for glyph extraction.
func openPDF(h *Handle) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := pdfapi.ValidateFile(h.path, conf); err != nil {
		return &LoadError{Path: h.path, Err: err}
	}
	dims, err := pdfapi.PageDimsFile(h.path)
	if err != nil {
		return &LoadError{Path: h.path, Err: err}
	}
	file, reader, err := pdf.Open(h.path)
	if err != nil {
		return &LoadError{Path: h.path, Err: err}
	}
	h.sizes = make([]Size, len(dims))
	for i, d := range dims {
		h.sizes[i] = Size{Width: d.Width, Height: d.Height}
	}
	h.closer = file
	h.pdf = reader
	return nil
}

// pdfGlyphs reads positioned text for one page. The parser panics on some
// malformed content streams, so that is turned into an error.
func pdfGlyphs(reader *pdf.Reader, number int, size Size) (glyphs []Glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse page %d: %v", number, r)
		}
	}()
	if number < 1 || number > reader.NumPage() {
		return nil, fmt.Errorf("pdf has no page %d", number)
	}
	page := reader.Page(number)
	if page.V.IsNull() {
		return nil, fmt.Errorf("pdf page %d is empty", number)
	}
	content := page.Content()
	glyphs = make([]Glyph, 0, len(content.Text))
	for _, t := range mergeRuns(content.Text) {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		glyphs = append(glyphs, Glyph{
			X:     t.X,
			Y:     size.Height - t.Y - t.FontSize,
			Width: t.W,
			Text:  t.S,
		})
	}
	return glyphs, nil
}

// mergeRuns joins the per-character runs the parser emits into words on the
// same baseline so the text layer carries readable spans.
func mergeRuns(texts []pdf.Text) []pdf.Text {
	var out []pdf.Text
	for _, t := range texts {
		if n := len(out); n > 0 {
			last := &out[n-1]
			gap := t.X - (last.X + last.W)
			if last.Y == t.Y && gap >= -0.5 && gap < t.FontSize*0.3 && t.S != " " && !strings.HasSuffix(last.S, " ") {
				last.S += t.S
				last.W = t.X + t.W - last.X
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func openImage(h *Handle) error {
	f, err := os.Open(h.path)
	if err != nil {
		return &LoadError{Path: h.path, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return &LoadError{Path: h.path, Err: err}
	}
	b := img.Bounds()
	h.img = img
	// one image pixel is one native point
	h.sizes = []Size{{Width: float64(b.Dx()), Height: float64(b.Dy())}}
	return nil
}

// openOffice extracts text from docx/odt/rtf/plain files. Form feeds split pages.
func openOffice(h *Handle) error {
	var text string
	switch strings.ToLower(filepath.Ext(h.path)) {
	case ".txt", ".md":
		raw, err := os.ReadFile(h.path)
		if err != nil {
			return &LoadError{Path: h.path, Err: err}
		}
		text = string(raw)
	default:
		var err error
		if text, err = cat.File(h.path); err != nil {
			return &LoadError{Path: h.path, Err: err}
		}
	}
	for _, chunk := range strings.Split(text, "\f") {
		h.extracted = append(h.extracted, strings.TrimSpace(chunk))
	}
	return nil
}

// layoutText flows text onto a page at a fixed column width. Long pages grow
// taller rather than being cut.
func layoutText(text string, size Size) pageModel {
	if size.Width <= 0 || size.Height <= 0 {
		size = letter
	}
	wrapped := wordwrap.String(strings.TrimSpace(text), textColumns)
	lines := strings.Split(wrapped, "\n")
	needed := 2*textMargin + float64(len(lines))*pointsPerRow
	if needed > size.Height {
		size.Height = needed
	}
	glyphs := make([]Glyph, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		glyphs = append(glyphs, Glyph{
			X:    textMargin,
			Y:    textMargin + float64(i)*pointsPerRow,
			Text: line,
		})
	}
	return pageModel{size: size, glyphs: glyphs}
}

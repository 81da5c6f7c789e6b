package document

import (
	"sort"
	"strings"
)

// FileType classifies how a document is rendered.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeImage FileType = "image"
	FileTypeOther FileType = "other"
)

// Document is the client-side view of an uploaded file. It is replaced wholesale,
// never mutated in place once handed to the Store.
type Document struct {
	ID          string
	FileType    FileType
	Extension   string
	FileURL     string
	DownloadURL string
	IsMerged    bool
	Pages       []Page
}

// Page is one numbered unit of a Document. Number is 1-based and dense.
type Page struct {
	Number      int
	Text        string
	Summary     string
	Notes       string
	SourceLabel string
	WordCount   int
}

// PagePatch carries optional updates applied by Store.ReplacePage.
type PagePatch struct {
	Summary *string
	Notes   *string
}

// ClassifyExtension maps a server file_type / extension onto a FileType.
func ClassifyExtension(ext string) FileType {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")) {
	case "pdf":
		return FileTypePDF
	case "jpg", "jpeg", "png", "gif", "image":
		return FileTypeImage
	default:
		return FileTypeOther
	}
}

// PageCount reports the number of pages.
func (d *Document) PageCount() int {
	if d == nil {
		return 0
	}
	return len(d.Pages)
}

// Page returns the page with the given number.
func (d *Document) Page(number int) (Page, bool) {
	if d == nil || number < 1 || number > len(d.Pages) {
		return Page{}, false
	}
	return d.Pages[number-1], true
}

// SummariesReady reports whether every page carries a summary.
func (d *Document) SummariesReady() bool {
	if d == nil || len(d.Pages) == 0 {
		return false
	}
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Summary) == "" {
			return false
		}
	}
	return true
}

func (d *Document) clone() *Document {
	cp := *d
	cp.Pages = append([]Page(nil), d.Pages...)
	return &cp
}

// Normalize orders pages by their server-side number and renumbers them densely
// from 1 so every other component can address pages by position.
func Normalize(pages []Page) []Page {
	out := append([]Page(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	for i := range out {
		out[i].Number = i + 1
		if out[i].WordCount == 0 && out[i].Text != "" {
			out[i].WordCount = len(strings.Fields(out[i].Text))
		}
	}
	return out
}

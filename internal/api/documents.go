package api

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/document"
)

// Analyze asks the server to start (or restart) summarisation of an upload.
func (c *Client) Analyze(ctx context.Context, fileID, model string) error {
	var payload any
	if model != "" {
		payload = map[string]string{"model": model}
	}
	return c.doJSON(ctx, OpAnalyze, http.MethodPost, "/api/analyze/"+url.PathEscape(fileID), payload, nil, config.APITimeout)
}

type pageWire struct {
	PageNumber      int    `json:"page_number"`
	PageNumberCamel int    `json:"pageNumber"`
	Text            string `json:"text"`
	Summary         string `json:"summary"`
	Notes           string `json:"notes"`
	UserNotes       string `json:"userNotes"`
	Source          string `json:"source"`
	WordCount       int    `json:"word_count"`
}

type summariesWire struct {
	FileType    string     `json:"file_type"`
	FileURL     string     `json:"file_url"`
	DownloadURL string     `json:"download_url"`
	IsMerged    bool       `json:"is_merged"`
	Pages       []pageWire `json:"pages"`
}

// FetchDocument loads summaries for a file and returns a normalised Document.
// A response without pages is reported as document.ErrMalformedDocument.
func (c *Client) FetchDocument(ctx context.Context, fileID string) (*document.Document, error) {
	var out summariesWire
	if err := c.doJSON(ctx, OpFetch, http.MethodGet, "/api/summaries/"+url.PathEscape(fileID), nil, &out, config.APITimeout); err != nil {
		return nil, err
	}
	if len(out.Pages) == 0 {
		return nil, &Error{Op: OpFetch, Message: "no pages in response", Err: document.ErrMalformedDocument}
	}
	return toDocument(fileID, out), nil
}

func toDocument(fileID string, w summariesWire) *document.Document {
	pages := make([]document.Page, 0, len(w.Pages))
	for i, p := range w.Pages {
		number := p.PageNumber
		if number == 0 {
			number = p.PageNumberCamel
		}
		if number == 0 {
			number = i + 1
		}
		notes := p.Notes
		if notes == "" {
			notes = p.UserNotes
		}
		pages = append(pages, document.Page{
			Number:      number,
			Text:        p.Text,
			Summary:     p.Summary,
			Notes:       notes,
			SourceLabel: p.Source,
			WordCount:   p.WordCount,
		})
	}
	ext := w.FileType
	if ext == "" {
		ext = strings.TrimPrefix(pathExt(w.FileURL), ".")
	}
	return &document.Document{
		ID:          fileID,
		FileType:    document.ClassifyExtension(ext),
		Extension:   strings.ToLower(ext),
		FileURL:     w.FileURL,
		DownloadURL: w.DownloadURL,
		IsMerged:    w.IsMerged,
		Pages:       document.Normalize(pages),
	}
}

func pathExt(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "."); i >= 0 && !strings.Contains(u[i:], "/") {
		return u[i:]
	}
	return ""
}

// RemovePage deletes one page from a document on the server.
func (c *Client) RemovePage(ctx context.Context, documentID string, pageID int) error {
	payload := map[string]any{"documentId": documentID, "pageId": pageID}
	return c.doJSON(ctx, OpRemovePage, http.MethodPost, "/api/remove-page", payload, nil, config.APITimeout)
}

// FileSummary is one entry from the file list.
type FileSummary struct {
	ID        string
	Name      string
	Created   time.Time
	Extension string
}

type fileWire struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Created   string `json:"created"`
	Extension string `json:"extension"`
}

// ListFiles returns previously uploaded files, newest first.
func (c *Client) ListFiles(ctx context.Context) ([]FileSummary, error) {
	var out struct {
		Files []fileWire `json:"files"`
	}
	if err := c.doJSON(ctx, OpListFiles, http.MethodGet, "/api/files", nil, &out, config.APITimeout); err != nil {
		return nil, err
	}
	files := make([]FileSummary, 0, len(out.Files))
	for _, f := range out.Files {
		files = append(files, FileSummary{
			ID:        f.ID,
			Name:      f.Name,
			Created:   parseCreated(f.Created),
			Extension: strings.ToLower(strings.TrimPrefix(f.Extension, ".")),
		})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Created.After(files[j].Created) })
	return files, nil
}

func parseCreated(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

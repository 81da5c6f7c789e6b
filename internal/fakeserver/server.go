// Package fakeserver is an in-memory implementation of the study backend's HTTP
// API, used by tests and by the local development server.
package fakeserver

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/csheth/studyflow/internal/logging"
)

const maxUploadBytes = 16 << 20

var allowedExtensions = map[string]bool{"pdf": true, "png": true, "jpg": true, "jpeg": true, "txt": true}

// Options tune how the fake backend behaves.
type Options struct {
	// SummaryDelay is how many summary fetches after analysis return pages
	// without summaries, so clients exercise their refresh loop.
	SummaryDelay int
	// AskDelay holds each answer back.
	AskDelay time.Duration
}

type page struct {
	text    string
	summary string
	notes   string
	source  string
}

type storedDocument struct {
	id       string
	name     string
	ext      string
	data     []byte
	created  time.Time
	pages    []page
	analyzed bool
	pending  int
	merged   bool
}

// syncText rewrites the served file of a plain text document after its pages
// changed. Other formats keep the original upload.
func (d *storedDocument) syncText() {
	if d.ext != "txt" {
		return
	}
	texts := make([]string, len(d.pages))
	for i, p := range d.pages {
		texts[i] = p.text
	}
	d.data = []byte(strings.Join(texts, "\f"))
}

// Server holds uploaded documents in memory.
type Server struct {
	opts Options
	log  *logging.Logger

	mu     sync.Mutex
	docs   map[string]*storedDocument
	active string
	now    func() time.Time
}

func New(opts Options) *Server {
	return &Server{
		opts: opts,
		log:  logging.New("fakeserver"),
		docs: make(map[string]*storedDocument),
		now:  time.Now,
	}
}

// Handler returns the chi router serving the API and uploaded files.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.upload)
		r.Post("/analyze/{id}", s.analyze)
		r.Get("/summaries/{id}", s.summaries)
		r.Post("/ask", s.ask)
		r.Put("/notes/{pageID}", s.saveNotes)
		r.Get("/models", s.models)
		r.Post("/add-page", s.addPage)
		r.Post("/remove-page", s.removePage)
		r.Get("/files", s.files)
	})
	r.Get("/uploads/{name}", s.serveFile)
	return r
}

// Seed adds a document with the given page texts, already analysed. It returns
// the new document id.
func (s *Server) Seed(name string, texts ...string) string {
	doc := &storedDocument{
		id:       uuid.NewString(),
		name:     name,
		ext:      strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		data:     []byte(strings.Join(texts, "\f")),
		created:  s.now(),
		analyzed: true,
	}
	for _, t := range texts {
		doc.pages = append(doc.pages, page{text: t, summary: summarize(t), source: "original"})
	}
	s.mu.Lock()
	s.docs[doc.id] = doc
	s.mu.Unlock()
	return doc.id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) readUpload(r *http.Request) (string, string, []byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", nil, fmt.Errorf("invalid form: %w", err)
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return "", "", nil, fmt.Errorf("no file part")
	}
	defer f.Close()
	if header.Filename == "" {
		return "", "", nil, fmt.Errorf("no selected file")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !allowedExtensions[ext] {
		return "", "", nil, fmt.Errorf("file type not allowed")
	}
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return "", "", nil, err
	}
	if len(data) > maxUploadBytes {
		return "", "", nil, fmt.Errorf("file too large")
	}
	return header.Filename, ext, data, nil
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	name, ext, data, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc := &storedDocument{
		id:      uuid.NewString(),
		name:    name,
		ext:     ext,
		data:    data,
		created: s.now(),
		pages:   extractPages(ext, data),
	}
	s.mu.Lock()
	s.docs[doc.id] = doc
	s.mu.Unlock()
	s.log.Info("upload", "id", doc.id, "name", name, "pages", len(doc.pages))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "File uploaded successfully",
		"file_id": doc.id,
		"status":  "processing",
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	doc, ok := s.docs[id]
	if ok && !doc.analyzed {
		doc.analyzed = true
		doc.pending = s.opts.SummaryDelay
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processing", "message": "Analysis started"})
}

type pageJSON struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	Summary    string `json:"summary"`
	Notes      string `json:"notes"`
	Source     string `json:"source,omitempty"`
	WordCount  int    `json:"word_count"`
}

func (s *Server) summaries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file")
		return
	}
	s.active = id
	ready := doc.analyzed && doc.pending <= 0
	if doc.analyzed && doc.pending > 0 {
		doc.pending--
	}
	pages := make([]pageJSON, 0, len(doc.pages))
	for i, p := range doc.pages {
		pj := pageJSON{
			PageNumber: i + 1,
			Text:       p.text,
			Notes:      p.notes,
			Source:     p.source,
			WordCount:  len(strings.Fields(p.text)),
		}
		if ready {
			pj.Summary = p.summary
		}
		pages = append(pages, pj)
	}
	fileType := doc.ext
	if fileType == "png" || fileType == "jpg" || fileType == "jpeg" {
		fileType = "image"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_type":    fileType,
		"file_url":     "/uploads/" + doc.id + "." + doc.ext,
		"download_url": "/uploads/" + doc.id + "." + doc.ext,
		"is_merged":    doc.merged,
		"pages":        pages,
	})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question    string          `json:"question"`
		FileID      string          `json:"file_id"`
		FileIDCamel string          `json:"fileId"`
		PageID      json.RawMessage `json:"page_id"`
		Model       string          `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fileID := req.FileID
	if fileID == "" {
		fileID = req.FileIDCamel
	}
	if strings.TrimSpace(req.Question) == "" || fileID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if s.opts.AskDelay > 0 {
		select {
		case <-time.After(s.opts.AskDelay):
		case <-r.Context().Done():
			return
		}
	}
	pageNumber, _ := strconv.Atoi(strings.Trim(string(req.PageID), `"`))

	s.mu.Lock()
	doc, ok := s.docs[fileID]
	var context string
	if ok && pageNumber >= 1 && pageNumber <= len(doc.pages) {
		context = doc.pages[pageNumber-1].summary
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file")
		return
	}

	model := req.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	answer := fmt.Sprintf("You asked: %q.", strings.TrimSpace(req.Question))
	refs := []string{}
	if context != "" {
		answer += " Page " + strconv.Itoa(pageNumber) + " says: " + context
		refs = append(refs, "Page "+strconv.Itoa(pageNumber))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":     answer,
		"model_used": model,
		"references": refs,
	})
}

func (s *Server) saveNotes(w http.ResponseWriter, r *http.Request) {
	pageNumber, err := strconv.Atoi(chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page id")
		return
	}
	var req struct {
		UserNotes *string `json:"userNotes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserNotes == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[s.active]
	if !ok || pageNumber < 1 || pageNumber > len(doc.pages) {
		writeError(w, http.StatusNotFound, "unknown page")
		return
	}
	doc.pages[pageNumber-1].notes = *req.UserNotes
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Notes updated successfully"})
}

func (s *Server) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": map[string]any{
			"gpt-4o-mini": map[string]any{"description": "Fast and inexpensive", "cost_per_1k": 0.00015},
			"gpt-4o":      map[string]any{"description": "Most capable", "cost_per_1k": 0.005},
		},
		"default_summary_model": "gpt-4o-mini",
		"default_qa_model":      "gpt-4o-mini",
	})
}

func (s *Server) addPage(w http.ResponseWriter, r *http.Request) {
	_, ext, data, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.FormValue("documentId")
	pages := extractPages(ext, data)
	for i := range pages {
		pages[i].summary = summarize(pages[i].text)
		pages[i].source = "added"
	}
	s.mu.Lock()
	doc, ok := s.docs[id]
	if ok {
		doc.pages = append(doc.pages, pages...)
		doc.merged = true
		doc.syncText()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pages_added": len(pages)})
}

func (s *Server) removePage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"documentId"`
		PageID     int    `json:"pageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[req.DocumentID]
	switch {
	case !ok:
		writeError(w, http.StatusOK, "unknown document")
	case req.PageID < 1 || req.PageID > len(doc.pages):
		writeError(w, http.StatusOK, "page not found")
	case len(doc.pages) == 1:
		writeError(w, http.StatusOK, "cannot remove the last page")
	default:
		doc.pages = append(doc.pages[:req.PageID-1], doc.pages[req.PageID:]...)
		doc.syncText()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (s *Server) files(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	docs := make([]*storedDocument, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	s.mu.Unlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].created.After(docs[j].created) })
	out := make([]map[string]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]string{
			"id":        d.id,
			"name":      d.name,
			"created":   d.created.UTC().Format(time.RFC3339),
			"extension": d.ext,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "files": out})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := strings.TrimSuffix(name, filepath.Ext(name))
	s.mu.Lock()
	doc, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	sum := sha1.Sum(doc.data)
	w.Header().Set("Etag", `"`+hex.EncodeToString(sum[:8])+`"`)
	http.ServeContent(w, r, name, doc.created, bytes.NewReader(doc.data))
}

// extractPages splits an upload into pages: PDF text per page, form-feed
// separated text, or a single placeholder page for images.
func extractPages(ext string, data []byte) []page {
	switch ext {
	case "pdf":
		if pages := pdfPages(data); len(pages) > 0 {
			return pages
		}
		return []page{{text: "", source: "original"}}
	case "txt":
		var pages []page
		for _, chunk := range strings.Split(string(data), "\f") {
			pages = append(pages, page{text: strings.TrimSpace(chunk), summary: summarize(chunk), source: "original"})
		}
		return pages
	default:
		return []page{{text: "Image upload", summary: "An uploaded image.", source: "original"}}
	}
}

func pdfPages(data []byte) (pages []page) {
	defer func() {
		if recover() != nil {
			pages = nil
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, _ := p.GetPlainText(nil)
		text = strings.Join(strings.Fields(text), " ")
		pages = append(pages, page{text: text, summary: summarize(text), source: "original"})
	}
	return pages
}

// summarize returns the first sentence, capped to a readable length.
func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "This page has no extractable text."
	}
	end := strings.IndexFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	if end >= 0 {
		text = text[:end+1]
	}
	if len(text) > 160 {
		cut := strings.LastIndexFunc(text[:160], unicode.IsSpace)
		if cut <= 0 {
			cut = 160
		}
		text = text[:cut] + "…"
	}
	return text
}

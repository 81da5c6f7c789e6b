package document

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMalformedDocument is returned when a response carries no pages.
	ErrMalformedDocument = errors.New("malformed document: no pages")
	// ErrPageNotFound is returned by ReplacePage for unknown page numbers.
	ErrPageNotFound = errors.New("page not found")
)

// Store is the single source of truth for the active document. Writes happen on the
// UI loop; the mutex only guards readers running inside background commands.
type Store struct {
	mu         sync.RWMutex
	doc        *Document
	generation uint64
}

func NewStore() *Store {
	return &Store{}
}

// Load replaces the current document. A nil document or one without pages is
// rejected and the previous document stays in place.
func (s *Store) Load(doc *Document) error {
	if doc == nil || len(doc.Pages) == 0 {
		return ErrMalformedDocument
	}
	next := doc.clone()
	next.Pages = Normalize(next.Pages)
	s.mu.Lock()
	s.doc = next
	s.generation++
	s.mu.Unlock()
	return nil
}

// Current returns the live document. Callers must treat it as read-only.
func (s *Store) Current() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Generation increases on every replacement and lets async work detect that the
// document it started against is stale.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Store) PageCount() int {
	return s.Current().PageCount()
}

func (s *Store) Page(number int) (Page, bool) {
	return s.Current().Page(number)
}

// ReplacePage applies a patch by swapping in a copied document, so readers holding
// the previous pointer keep a consistent view.
func (s *Store) ReplacePage(number int, patch PagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return fmt.Errorf("replace page %d: %w", number, ErrMalformedDocument)
	}
	if number < 1 || number > len(s.doc.Pages) {
		return fmt.Errorf("replace page %d: %w", number, ErrPageNotFound)
	}
	next := s.doc.clone()
	page := &next.Pages[number-1]
	if patch.Summary != nil {
		page.Summary = *patch.Summary
	}
	if patch.Notes != nil {
		page.Notes = *patch.Notes
	}
	s.doc = next
	s.generation++
	return nil
}

// Clear drops the session's document.
func (s *Store) Clear() {
	s.mu.Lock()
	s.doc = nil
	s.generation++
	s.mu.Unlock()
}

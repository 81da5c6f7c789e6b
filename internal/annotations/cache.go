package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/logging"
	"github.com/csheth/studyflow/internal/metrics"
)

// ErrUnknownHandle is returned when an answer arrives for an entry that does
// not exist.
var ErrUnknownHandle = errors.New("unknown annotation handle")

// ErrNoDocument is returned by writes before Open.
var ErrNoDocument = errors.New("no document open")

// Entry is one question and, eventually, its answer.
type Entry struct {
	ID         string    `json:"id"`
	Page       int       `json:"page"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	ModelUsed  string    `json:"model_used,omitempty"`
	References []string  `json:"references,omitempty"`
	Pending    bool      `json:"pending"`
	Failed     bool      `json:"failed"`
	Error      string    `json:"error,omitempty"`
	AskedAt    time.Time `json:"asked_at"`
	AnsweredAt time.Time `json:"answered_at,omitempty"`
}

// Handle addresses an entry independently of which page or document is shown
// when the answer arrives.
type Handle struct {
	DocumentID string
	EntryID    string
}

type snapshot struct {
	DocumentID string          `json:"document_id"`
	Pages      map[int][]Entry `json:"pages"`
	Notes      map[int]string  `json:"notes,omitempty"`
	SavedAt    time.Time       `json:"saved_at"`
}

func newSnapshot(documentID string) *snapshot {
	return &snapshot{DocumentID: documentID, Pages: make(map[int][]Entry), Notes: make(map[int]string)}
}

func (s *snapshot) find(entryID string) *Entry {
	for page, entries := range s.Pages {
		for i := range entries {
			if entries[i].ID == entryID {
				return &s.Pages[page][i]
			}
		}
	}
	return nil
}

// QuestionsKey is the store key for a document's Q&A threads.
func QuestionsKey(documentID string) string {
	return config.QuestionsKeyPrefix + documentID
}

// Cache holds per-page Q&A threads and notes for the open document and writes
// every change through to the Store before returning.
type Cache struct {
	mu    sync.Mutex
	store Store
	snap  *snapshot
	now   func() time.Time
	log   *logging.Logger
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, now: time.Now, log: logging.New("annotations")}
}

// Open switches to documentID and loads whatever was saved for it. Missing or
// unreadable state starts an empty cache; only store failures are returned.
// Questions left pending by an earlier session are marked failed.
func (c *Cache) Open(ctx context.Context, documentID string) error {
	snap, err := c.read(ctx, documentID, true)
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return err
}

func (c *Cache) read(ctx context.Context, documentID string, interrupt bool) (*snapshot, error) {
	snap := newSnapshot(documentID)
	raw, err := c.store.Get(ctx, QuestionsKey(documentID))
	if errors.Is(err, ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("load annotations for %s: %w", documentID, err)
	}
	var loaded snapshot
	if err := json.Unmarshal(raw, &loaded); err != nil {
		c.log.Warn("discarding unreadable annotations", "doc", documentID, "err", err)
		return snap, nil
	}
	if loaded.Pages != nil {
		snap.Pages = loaded.Pages
	}
	if loaded.Notes != nil {
		snap.Notes = loaded.Notes
	}
	if !interrupt {
		return snap, nil
	}
	for page, entries := range snap.Pages {
		for i := range entries {
			if entries[i].Pending {
				snap.Pages[page][i].Pending = false
				snap.Pages[page][i].Failed = true
				snap.Pages[page][i].Error = "interrupted before an answer arrived"
			}
		}
	}
	return snap, nil
}

// DocumentID is the document the cache currently serves.
func (c *Cache) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ""
	}
	return c.snap.DocumentID
}

// RecordQuestion appends a pending entry to page and persists it. The handle is
// valid even when persisting fails; the error is returned for logging.
func (c *Cache) RecordQuestion(ctx context.Context, page int, question string) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return Handle{}, ErrNoDocument
	}
	entry := Entry{
		ID:       uuid.NewString(),
		Page:     page,
		Question: strings.TrimSpace(question),
		Pending:  true,
		AskedAt:  c.now(),
	}
	c.snap.Pages[page] = append(c.snap.Pages[page], entry)
	h := Handle{DocumentID: c.snap.DocumentID, EntryID: entry.ID}
	return h, c.persistLocked(ctx, c.snap)
}

// AttachAnswer completes an entry. It applies regardless of which page is shown,
// and to a document other than the open one if the handle says so.
func (c *Cache) AttachAnswer(ctx context.Context, h Handle, answer, modelUsed string, references []string) error {
	return c.mutate(ctx, h, func(e *Entry) {
		e.Answer = answer
		e.ModelUsed = modelUsed
		e.References = append([]string(nil), references...)
		e.Pending = false
		e.Failed = false
		e.Error = ""
		e.AnsweredAt = c.now()
	})
}

// AttachFailure marks an entry failed. reason is shown inline.
func (c *Cache) AttachFailure(ctx context.Context, h Handle, reason string) error {
	return c.mutate(ctx, h, func(e *Entry) {
		e.Answer = ""
		e.Pending = false
		e.Failed = true
		e.Error = reason
		e.AnsweredAt = c.now()
	})
}

func (c *Cache) mutate(ctx context.Context, h Handle, apply func(*Entry)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snap
	if snap == nil || snap.DocumentID != h.DocumentID {
		// the user moved on to another document; update the saved copy
		var err error
		snap, err = c.read(ctx, h.DocumentID, false)
		if err != nil {
			return err
		}
	}
	entry := snap.find(h.EntryID)
	if entry == nil {
		return fmt.Errorf("%s: %w", h.EntryID, ErrUnknownHandle)
	}
	apply(entry)
	return c.persistLocked(ctx, snap)
}

// EntriesFor returns a copy of page's entries in the order they were asked.
func (c *Cache) EntriesFor(page int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return nil
	}
	entries := c.snap.Pages[page]
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.References = append([]string(nil), e.References...)
		out[i] = e
	}
	return out
}

// Entry looks up one entry by handle in the open document.
func (c *Cache) Entry(h Handle) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || c.snap.DocumentID != h.DocumentID {
		return Entry{}, false
	}
	e := c.snap.find(h.EntryID)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Notes returns the locally kept notes draft for page.
func (c *Cache) Notes(page int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return "", false
	}
	text, ok := c.snap.Notes[page]
	return text, ok
}

// SetNotes stores a notes draft for page.
func (c *Cache) SetNotes(ctx context.Context, page int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ErrNoDocument
	}
	c.snap.Notes[page] = text
	return c.persistLocked(ctx, c.snap)
}

// RemovePage drops the thread and notes draft of a page the server removed and
// moves every later page down by one, following the server's renumbering.
func (c *Cache) RemovePage(ctx context.Context, page int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ErrNoDocument
	}
	pages := make(map[int][]Entry, len(c.snap.Pages))
	for n, entries := range c.snap.Pages {
		switch {
		case n == page:
			continue
		case n > page:
			for i := range entries {
				entries[i].Page = n - 1
			}
			pages[n-1] = entries
		default:
			pages[n] = entries
		}
	}
	notes := make(map[int]string, len(c.snap.Notes))
	for n, text := range c.snap.Notes {
		switch {
		case n == page:
		case n > page:
			notes[n-1] = text
		default:
			notes[n] = text
		}
	}
	c.snap.Pages = pages
	c.snap.Notes = notes
	return c.persistLocked(ctx, c.snap)
}

// PreferredModel returns the saved model choice, or "" when none was saved.
func (c *Cache) PreferredModel(ctx context.Context) (string, error) {
	raw, err := c.store.Get(ctx, config.ModelPreferenceKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		// older clients stored the bare name
		return strings.TrimSpace(string(raw)), nil
	}
	return name, nil
}

func (c *Cache) SetPreferredModel(ctx context.Context, name string) error {
	raw, err := json.Marshal(name)
	if err != nil {
		return err
	}
	err = c.store.Set(ctx, config.ModelPreferenceKey, raw)
	metrics.CountAnnotationWrite(err != nil)
	return err
}

func (c *Cache) persistLocked(ctx context.Context, snap *snapshot) error {
	snap.SavedAt = c.now()
	raw, err := json.Marshal(snap)
	if err == nil {
		err = c.store.Set(ctx, QuestionsKey(snap.DocumentID), raw)
	}
	metrics.CountAnnotationWrite(err != nil)
	if err != nil {
		c.log.Error("persist annotations", "doc", snap.DocumentID, "err", err)
		return fmt.Errorf("persist annotations: %w", err)
	}
	return nil
}

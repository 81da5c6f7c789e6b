package navigator

import (
	"sync"

	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/document"
	"github.com/csheth/studyflow/internal/logging"
	"github.com/csheth/studyflow/internal/metrics"
)

// Source names the input that asked for a page.
type Source string

const (
	SourceThumbnail Source = "thumbnail"
	SourceKeyboard  Source = "keyboard"
	SourceButton    Source = "button"
	SourceJump      Source = "jump"
	SourceScroll    Source = "scroll"
	SourceRetry     Source = "retry"
	SourceZoom      Source = "zoom"
	SourceResync    Source = "resync"
)

// PageChanged is broadcast once per settled change of the current page.
type PageChanged struct {
	Page int
	Data document.Page
}

// RenderRequest asks the caller to paint a page. The caller reports back with
// RenderDone using the same Seq.
type RenderRequest struct {
	Seq  uint64
	Page int
	Zoom float64
}

// Outcome tells the caller what to do with a finished render.
type Outcome struct {
	// Show is true when the finished surface should replace the visible one.
	Show bool
	// Failed is true when the render failed and the previous surface stays.
	Failed bool
	// Next is a render to start now, if any.
	Next *RenderRequest
}

// PageSource resolves page data for notifications. *document.Store satisfies it.
type PageSource interface {
	Page(number int) (document.Page, bool)
}

type subscriber struct {
	id int
	fn func(PageChanged)
}

type target struct {
	page  int
	force bool
}

// Navigator owns the current page. It is Idle when nothing is in flight and
// Navigating otherwise; while Navigating, new targets replace the pending slot so
// only the most recent request is rendered after the in-flight one.
type Navigator struct {
	mu        sync.Mutex
	pages     PageSource
	pageCount int
	current   int
	zoom      float64
	seq       uint64
	inFlight  *RenderRequest
	// inFlightStale marks an in-flight render painted against an older zoom
	// or document. It never settles as the current page.
	inFlightStale bool
	pending       *target
	failedPage    int
	subscribers   []subscriber
	nextSubID     int
	log           *logging.Logger
}

func New(pages PageSource) *Navigator {
	return &Navigator{
		pages: pages,
		zoom:  config.DefaultZoom,
		log:   logging.New("navigator"),
	}
}

// Subscribe registers fn for page-changed notifications and returns a function
// that removes it.
func (n *Navigator) Subscribe(fn func(PageChanged)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSubID
	n.nextSubID++
	n.subscribers = append(n.subscribers, subscriber{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subscribers {
			if s.id == id {
				n.subscribers = append(n.subscribers[:i:i], n.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Reset prepares for a freshly loaded document and requests its first page.
// Any in-flight render becomes stale.
func (n *Navigator) Reset(pageCount int) *RenderRequest {
	n.mu.Lock()
	n.pageCount = pageCount
	n.current = 0
	n.inFlight = nil
	n.inFlightStale = false
	n.pending = nil
	n.failedPage = 0
	n.mu.Unlock()
	if pageCount == 0 {
		return nil
	}
	return n.Navigate(1, SourceResync)
}

func (n *Navigator) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Target is the page the navigator is heading to: the pending page, else the
// in-flight page, else the current page.
func (n *Navigator) Target() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.targetLocked()
}

func (n *Navigator) targetLocked() int {
	switch {
	case n.pending != nil:
		return n.pending.page
	case n.inFlight != nil:
		return n.inFlight.Page
	default:
		return n.current
	}
}

func (n *Navigator) Navigating() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inFlight != nil
}

func (n *Navigator) PageCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pageCount
}

func (n *Navigator) Zoom() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.zoom
}

// FailedPage is the page whose last render failed, or 0.
func (n *Navigator) FailedPage() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failedPage
}

// CanPrev and CanNext drive the disabled state of the prev/next buttons.
func (n *Navigator) CanPrev() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pageCount > 0 && n.targetLocked() > 1
}

func (n *Navigator) CanNext() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pageCount > 0 && n.targetLocked() < n.pageCount
}

func (n *Navigator) clamp(page int) int {
	if page < 1 {
		return 1
	}
	if page > n.pageCount {
		return n.pageCount
	}
	return page
}

// Navigate requests page. Out of range pages are clamped. It returns a render to
// start, or nil when the request was a no-op or was coalesced into the pending
// slot behind the in-flight render.
func (n *Navigator) Navigate(page int, source Source) *RenderRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.navigateLocked(target{page: page}, source)
}

func (n *Navigator) navigateLocked(t target, source Source) *RenderRequest {
	if n.pageCount == 0 {
		return nil
	}
	if clamped := n.clamp(t.page); clamped != t.page {
		metrics.CountNavigation(string(source), "clamped")
		t.page = clamped
	}

	if n.inFlight == nil {
		if t.page == n.current && !t.force {
			metrics.CountNavigation(string(source), "noop")
			return nil
		}
		metrics.CountNavigation(string(source), "started")
		return n.startLocked(t.page)
	}

	// every surface painted before a stale render is outdated too
	if n.inFlightStale {
		t.force = true
	}
	if n.pending == nil && t.page == n.inFlight.Page && !t.force {
		metrics.CountNavigation(string(source), "noop")
		return nil
	}
	if n.pending != nil && n.pending.page == t.page {
		n.pending.force = n.pending.force || t.force
		metrics.CountNavigation(string(source), "noop")
		return nil
	}
	if t.page == n.inFlight.Page && !t.force {
		// back to the page already being painted; a forced pending re-render
		// still has to happen against the newer state
		if n.pending.force {
			n.pending = &target{page: t.page, force: true}
		} else {
			n.pending = nil
		}
		metrics.CountNavigation(string(source), "coalesced")
		return nil
	}
	n.pending = &t
	metrics.CountNavigation(string(source), "coalesced")
	n.log.Debug("coalesced", "page", t.page, "in_flight", n.inFlight.Page, "source", source)
	return nil
}

func (n *Navigator) startLocked(page int) *RenderRequest {
	n.seq++
	req := &RenderRequest{Seq: n.seq, Page: page, Zoom: n.zoom}
	n.inFlight = req
	n.inFlightStale = false
	return req
}

// Step moves relative to the page being headed to. Steps past either end are
// no-ops.
func (n *Navigator) Step(delta int, source Source) *RenderRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pageCount == 0 {
		return nil
	}
	next := n.targetLocked() + delta
	if next < 1 || next > n.pageCount {
		metrics.CountNavigation(string(source), "noop")
		return nil
	}
	return n.navigateLocked(target{page: next}, source)
}

// Prev and Next back the prev/next buttons. They clamp even when the button
// should have been disabled.
func (n *Navigator) Prev() *RenderRequest { return n.Step(-1, SourceButton) }
func (n *Navigator) Next() *RenderRequest { return n.Step(1, SourceButton) }

// SetZoom clamps z and re-renders the page being shown without changing it.
func (n *Navigator) SetZoom(z float64) *RenderRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	z = config.ClampZoom(z)
	if z == n.zoom {
		return nil
	}
	n.zoom = z
	if n.pageCount == 0 {
		return nil
	}
	n.markInFlightStale()
	return n.navigateLocked(target{page: n.targetLocked(), force: true}, SourceZoom)
}

// Retry re-requests the page whose render last failed.
func (n *Navigator) Retry() *RenderRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failedPage == 0 {
		return nil
	}
	return n.navigateLocked(target{page: n.failedPage, force: true}, SourceRetry)
}

// Resync adapts to a replaced document. The target is clamped to the new page
// count and re-rendered against the new document once any in-flight render has
// finished.
func (n *Navigator) Resync(pageCount int) *RenderRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pageCount = pageCount
	if pageCount == 0 {
		n.pending = nil
		return nil
	}
	if n.failedPage > pageCount {
		n.failedPage = 0
	}
	n.markInFlightStale()
	page := n.targetLocked()
	if page == 0 {
		page = 1
	}
	return n.navigateLocked(target{page: page, force: true}, SourceResync)
}

func (n *Navigator) markInFlightStale() {
	if n.inFlight != nil {
		n.inFlightStale = true
	}
}

// RenderDone reports the end of a render. Completions for anything other than
// the in-flight request are ignored. When a newer target is pending the result
// is discarded and the pending page is requested instead.
func (n *Navigator) RenderDone(seq uint64, err error) Outcome {
	n.mu.Lock()
	if n.inFlight == nil || n.inFlight.Seq != seq {
		n.mu.Unlock()
		n.log.Debug("stale render ignored", "seq", seq)
		return Outcome{}
	}
	done := n.inFlight
	stale := n.inFlightStale
	n.inFlight = nil
	n.inFlightStale = false

	if p := n.pending; p != nil {
		n.pending = nil
		if p.page == n.current && !p.force {
			n.mu.Unlock()
			return Outcome{}
		}
		next := n.startLocked(p.page)
		n.mu.Unlock()
		return Outcome{Next: next}
	}
	if stale {
		next := n.startLocked(n.clamp(done.Page))
		n.mu.Unlock()
		n.log.Debug("stale render repainted", "page", next.Page, "zoom", next.Zoom)
		return Outcome{Next: next}
	}

	if err != nil {
		n.failedPage = done.Page
		current := n.current
		n.mu.Unlock()
		n.log.Warn("render failed, keeping current page", "page", done.Page, "current", current, "err", err)
		return Outcome{Failed: true}
	}

	n.failedPage = 0
	changed := done.Page != n.current
	n.current = done.Page
	var subs []func(PageChanged)
	if changed {
		for _, s := range n.subscribers {
			subs = append(subs, s.fn)
		}
	}
	n.mu.Unlock()

	if changed {
		metrics.CountPageChange()
		event := PageChanged{Page: done.Page}
		if n.pages != nil {
			event.Data, _ = n.pages.Page(done.Page)
		}
		for _, fn := range subs {
			fn(event)
		}
	}
	return Outcome{Show: true}
}

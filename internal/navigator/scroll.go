package navigator

import (
	"sync"
	"time"

	"github.com/csheth/studyflow/internal/config"
)

// PageOffset is where one mounted page sits in the continuous scroll layout.
type PageOffset struct {
	Page   int
	Top    int
	Height int
}

func (p PageOffset) midpoint() float64 {
	return float64(p.Top) + float64(p.Height)/2
}

// NearestPage returns the page whose midpoint is closest to center. Ties go to
// the earlier page. It returns 0 when nothing is mounted.
func NearestPage(pages []PageOffset, center float64) int {
	best, bestDist := 0, 0.0
	for _, p := range pages {
		d := p.midpoint() - center
		if d < 0 {
			d = -d
		}
		if best == 0 || d < bestDist {
			best, bestDist = p.Page, d
		}
	}
	return best
}

// ScrollSampler coalesces scroll events so the page under the viewport centre
// is evaluated at most once per frame.
type ScrollSampler struct {
	mu       sync.Mutex
	interval time.Duration
	dirty    bool
	offset   int
	height   int
	last     time.Time
}

func NewScrollSampler() *ScrollSampler {
	return &ScrollSampler{interval: config.FrameInterval}
}

// Record notes the latest scroll position. It is cheap and safe to call for
// every event.
func (s *ScrollSampler) Record(offset, viewportHeight int) {
	s.mu.Lock()
	s.offset, s.height, s.dirty = offset, viewportHeight, true
	s.mu.Unlock()
}

// Take returns the viewport centre if a position was recorded since the last
// sample and a full frame has passed.
func (s *ScrollSampler) Take(now time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || (!s.last.IsZero() && now.Sub(s.last) < s.interval) {
		return 0, false
	}
	s.dirty = false
	s.last = now
	return float64(s.offset) + float64(s.height)/2, true
}

// Scroll navigates to the page nearest the viewport centre when it differs from
// the page being shown (or headed to).
func (n *Navigator) Scroll(pages []PageOffset, center float64) *RenderRequest {
	page := NearestPage(pages, center)
	if page == 0 {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if page == n.targetLocked() {
		return nil
	}
	return n.navigateLocked(target{page: page}, SourceScroll)
}

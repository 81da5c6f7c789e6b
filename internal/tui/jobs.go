package tui

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/studyflow/internal/logging"
)

type jobKind string

type jobStatus string

const (
	jobKindFiles    jobKind = "files"
	jobKindUpload   jobKind = "upload"
	jobKindLoad     jobKind = "load"
	jobKindRefresh  jobKind = "refresh"
	jobKindRender   jobKind = "render"
	jobKindQuestion jobKind = "question"
	jobKindNotes    jobKind = "notes"
	jobKindAddPage  jobKind = "add-page"
	jobKindRemove   jobKind = "remove-page"
)

const (
	jobStatusRunning   jobStatus = "running"
	jobStatusSucceeded jobStatus = "succeeded"
	jobStatusFailed    jobStatus = "failed"
)

type jobSnapshot struct {
	ID          string
	Kind        jobKind
	Status      jobStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Err         string
	Duration    time.Duration
}

type jobSignalMsg struct {
	Snapshot jobSnapshot
}

type jobResultEnvelope struct {
	Snapshot jobSnapshot
	Payload  tea.Msg
}

type jobRunner func(context.Context) (tea.Msg, error)

type jobBus struct {
	counter int64
	log     *logging.Logger
}

func newJobBus() *jobBus {
	return &jobBus{log: logging.New("jobs")}
}

func (b *jobBus) nextID(kind jobKind) string {
	idx := atomic.AddInt64(&b.counter, 1)
	return fmt.Sprintf("%s-%d", kind, idx)
}

func (b *jobBus) Start(kind jobKind, runner jobRunner) tea.Cmd {
	id := b.nextID(kind)
	started := time.Now()
	startSnapshot := jobSnapshot{ID: id, Kind: kind, Status: jobStatusRunning, StartedAt: started}
	startCmd := func() tea.Msg {
		return jobSignalMsg{Snapshot: startSnapshot}
	}

	runCmd := func() tea.Msg {
		ctx := context.Background()
		payload, err := runner(ctx)
		snapshot := jobSnapshot{
			ID:          id,
			Kind:        kind,
			StartedAt:   started,
			CompletedAt: time.Now(),
		}
		if err != nil {
			snapshot.Status = jobStatusFailed
			snapshot.Err = err.Error()
		} else {
			snapshot.Status = jobStatusSucceeded
		}
		snapshot.Duration = snapshot.CompletedAt.Sub(started)
		if err != nil {
			b.log.Warn("job finished", "id", id, "status", snapshot.Status, "duration", snapshot.Duration, "err", err)
		} else {
			b.log.Debug("job finished", "id", id, "status", snapshot.Status, "duration", snapshot.Duration)
		}
		return jobResultEnvelope{Snapshot: snapshot, Payload: payload}
	}

	return tea.Sequence(startCmd, runCmd)
}

// jobTracker keeps the latest snapshot per kind for the status bar.
type jobTracker struct {
	running map[string]jobSnapshot
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]jobSnapshot)}
}

func (t *jobTracker) Observe(s jobSnapshot) {
	if s.Status == jobStatusRunning {
		t.running[s.ID] = s
		return
	}
	delete(t.running, s.ID)
}

func (t *jobTracker) Running(kind jobKind) int {
	n := 0
	for _, s := range t.running {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

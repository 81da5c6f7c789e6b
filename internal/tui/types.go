package tui

import (
	"github.com/csheth/studyflow/internal/annotations"
	"github.com/csheth/studyflow/internal/api"
	"github.com/csheth/studyflow/internal/document"
	"github.com/csheth/studyflow/internal/navigator"
	"github.com/csheth/studyflow/internal/render"
)

type stage int

const (
	stagePicker stage = iota
	stageLoading
	stageDisplay
)

type panelTab int

const (
	tabSummary panelTab = iota
	tabQA
	tabNotes
)

var tabSequence = []panelTab{tabSummary, tabQA, tabNotes}

func (t panelTab) String() string {
	switch t {
	case tabQA:
		return "Q&A"
	case tabNotes:
		return "Notes"
	default:
		return "Summary"
	}
}

type composerMode int

const (
	composerModeIdle composerMode = iota
	composerModeUpload
	composerModeAddPage
	composerModeQuestion
	composerModeJump
)

const (
	composerUploadPlaceholder   = "Path to a PDF or image to upload…"
	composerAddPagePlaceholder  = "Path to a file whose pages should be appended…"
	composerQuestionPlaceholder = "Ask about this page…"
	composerJumpPlaceholder     = "Page number…"
)

const heroTagline = "Study a document page by page."

const (
	minViewportWidth          = 40
	viewportHorizontalPadding = 2
	railWidth                 = 22
	panelMinWidth             = 30
	thumbnailPreviewWidth     = railWidth - 3
)

type filesResultMsg struct {
	files []api.FileSummary
	err   error
}

type documentLoadedMsg struct {
	doc      *document.Document
	catalog  api.ModelCatalog
	model    string
	uploaded bool
	err      error
}

type documentRefreshedMsg struct {
	docID   string
	doc     *document.Document
	attempt int
	poll    bool
	err     error
}

type refreshTickMsg struct {
	docID   string
	attempt int
}

type renderResultMsg struct {
	req     navigator.RenderRequest
	source  navigator.Source
	surface *render.Surface
	err     error
}

type answerResultMsg struct {
	handle annotations.Handle
	resp   api.AskResponse
	err    error
}

type notesSavedMsg struct {
	docID string
	page  int
	text  string
	err   error
}

type pageEditedMsg struct {
	docID   string
	removed int
	summary string
	err     error
}

type frameTickMsg struct{}

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/csheth/studyflow/internal/annotations"
	"github.com/csheth/studyflow/internal/api"
	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/document"
	"github.com/csheth/studyflow/internal/navigator"
	"github.com/csheth/studyflow/internal/render"
)

func listFilesJob(client *api.Client) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		files, err := client.ListFiles(parent)
		return filesResultMsg{files: files, err: err}, err
	}
}

// uploadJob validates, uploads and starts analysis, then loads the result like
// any other document.
func uploadJob(client *api.Client, cache *annotations.Cache, path string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.UploadTimeout)
		defer cancel()
		if err := api.ValidateUpload(path); err != nil {
			err = &api.Error{Op: api.OpUpload, Err: err}
			return documentLoadedMsg{err: err}, err
		}
		fileID, err := client.Upload(ctx, path)
		if err != nil {
			return documentLoadedMsg{err: err}, err
		}
		model, _ := cache.PreferredModel(ctx)
		if err := client.Analyze(ctx, fileID, model); err != nil {
			// the upload itself worked; show whatever the server has
			logAnalysisFailure(fileID, err)
		}
		msg, err := loadDocument(ctx, client, cache, fileID)
		msg.uploaded = true
		return msg, err
	}
}

func loadDocumentJob(client *api.Client, cache *annotations.Cache, fileID string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.APITimeout)
		defer cancel()
		return loadDocument(ctx, client, cache, fileID)
	}
}

// loadDocument fetches the document, the model catalogue and the saved
// annotations concurrently. Only the document fetch is fatal.
func loadDocument(ctx context.Context, client *api.Client, cache *annotations.Cache, fileID string) (documentLoadedMsg, error) {
	var (
		doc     *document.Document
		catalog api.ModelCatalog
		model   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = client.FetchDocument(gctx, fileID)
		return err
	})
	g.Go(func() error {
		var err error
		if catalog, err = client.ListModels(gctx); err != nil {
			jobLog.Warn("model catalogue unavailable", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := cache.Open(gctx, fileID); err != nil {
			jobLog.Warn("annotations unavailable", "doc", fileID, "err", err)
		}
		var err error
		if model, err = cache.PreferredModel(gctx); err != nil {
			jobLog.Warn("model preference unavailable", "err", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return documentLoadedMsg{err: err}, err
	}
	return documentLoadedMsg{doc: doc, catalog: catalog, model: resolveModel(catalog, model)}, nil
}

func resolveModel(catalog api.ModelCatalog, preferred string) string {
	if preferred != "" && (len(catalog.Models) == 0 || catalog.Has(preferred)) {
		return preferred
	}
	if catalog.DefaultQAModel != "" {
		return catalog.DefaultQAModel
	}
	if len(catalog.Models) > 0 {
		return catalog.Models[0].Name
	}
	return preferred
}

func refreshDocumentJob(client *api.Client, fileID string, attempt int, poll bool) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.APITimeout)
		defer cancel()
		doc, err := client.FetchDocument(ctx, fileID)
		return documentRefreshedMsg{docID: fileID, doc: doc, attempt: attempt, poll: poll, err: err}, err
	}
}

func (m *model) scheduleRefresh(docID string, attempt int) tea.Cmd {
	return m.tick(config.RefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{docID: docID, attempt: attempt}
	})
}

func (m *model) frameTick() tea.Cmd {
	return m.tick(config.FrameInterval, func(time.Time) tea.Msg { return frameTickMsg{} })
}

// renderJob opens (or reuses) the handle for doc and paints one page.
func renderJob(engine *render.Engine, doc *document.Document, req navigator.RenderRequest, source navigator.Source, vp render.Viewport) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.RenderTimeout)
		defer cancel()
		handle, err := engine.Open(ctx, doc)
		if err != nil {
			err = &render.RenderError{Page: req.Page, Err: err}
			return renderResultMsg{req: req, source: source, err: err}, err
		}
		surface, err := engine.Render(ctx, handle, req.Page, req.Zoom, vp)
		return renderResultMsg{req: req, source: source, surface: surface, err: err}, err
	}
}

func askJob(client *api.Client, h annotations.Handle, req api.AskRequest) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		resp, err := client.Ask(parent, req)
		return answerResultMsg{handle: h, resp: resp, err: err}, err
	}
}

func saveNotesJob(client *api.Client, docID string, page int, text string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.APITimeout)
		defer cancel()
		err := client.SaveNotes(ctx, page, text)
		return notesSavedMsg{docID: docID, page: page, text: text, err: err}, err
	}
}

func addPageJob(client *api.Client, docID, path string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.UploadTimeout)
		defer cancel()
		if err := api.ValidateUpload(path); err != nil {
			err = &api.Error{Op: api.OpAddPage, Err: err}
			return pageEditedMsg{docID: docID, err: err}, err
		}
		added, err := client.AddPage(ctx, docID, path)
		if err != nil {
			return pageEditedMsg{docID: docID, err: err}, err
		}
		return pageEditedMsg{docID: docID, summary: fmt.Sprintf("Added %s.", pluralize(added, "page"))}, nil
	}
}

func removePageJob(client *api.Client, docID string, page int) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, config.APITimeout)
		defer cancel()
		if err := client.RemovePage(ctx, docID, page); err != nil {
			return pageEditedMsg{docID: docID, err: err}, err
		}
		return pageEditedMsg{docID: docID, removed: page, summary: fmt.Sprintf("Removed page %d.", page)}, nil
	}
}

func logAnalysisFailure(fileID string, err error) {
	jobLog.Warn("analysis request failed", "doc", fileID, "err", err)
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// describeError turns the error taxonomy into a one-line message for the user.
func describeError(err error) string {
	var apiErr *api.Error
	var renderErr *render.RenderError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		switch apiErr.Op {
		case api.OpUpload:
			return "Upload failed: " + messageOf(apiErr)
		case api.OpAnalyze:
			return "Analysis failed: " + messageOf(apiErr)
		case api.OpAsk:
			return "Question failed: " + messageOf(apiErr)
		case api.OpSaveNotes:
			return "Saving notes failed: " + messageOf(apiErr)
		case api.OpFetch:
			if errors.Is(err, document.ErrMalformedDocument) {
				return "The server returned a document without pages."
			}
			return "Loading the document failed: " + messageOf(apiErr)
		default:
			return err.Error()
		}
	case errors.As(err, &renderErr):
		return fmt.Sprintf("Page %d could not be rendered. Press r to retry.", renderErr.Page)
	case errors.Is(err, document.ErrMalformedDocument):
		return "The server returned a document without pages."
	default:
		return err.Error()
	}
}

func messageOf(e *api.Error) string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return "unknown error"
}

func trimmedTitle(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

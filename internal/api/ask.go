package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/csheth/studyflow/internal/config"
)

// AskRequest is one question about a document, optionally scoped to a page.
type AskRequest struct {
	Question string
	FileID   string
	PageID   int
	Model    string
}

// AskResponse is the normalised answer.
type AskResponse struct {
	Answer     string
	ModelUsed  string
	References []string
}

type askWire struct {
	Question string `json:"question"`
	FileID   string `json:"file_id"`
	PageID   string `json:"page_id,omitempty"`
	Model    string `json:"model,omitempty"`
}

type askResponseWire struct {
	Answer         string   `json:"answer"`
	ModelUsed      string   `json:"model_used"`
	ModelUsedCamel string   `json:"modelUsed"`
	References     []string `json:"references"`
}

// Ask posts a question. Calls are paced by the client's limiter; waiting for a
// token respects ctx.
func (c *Client) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return AskResponse{}, &Error{Op: OpAsk, Err: errors.New("question cannot be empty")}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return AskResponse{}, &Error{Op: OpAsk, Err: err}
	}
	payload := askWire{Question: req.Question, FileID: req.FileID, Model: req.Model}
	if req.PageID > 0 {
		payload.PageID = strconv.Itoa(req.PageID)
	}
	var out askResponseWire
	if err := c.doJSON(ctx, OpAsk, http.MethodPost, "/api/ask", payload, &out, config.AskTimeout); err != nil {
		return AskResponse{}, err
	}
	model := out.ModelUsed
	if model == "" {
		model = out.ModelUsedCamel
	}
	return AskResponse{Answer: out.Answer, ModelUsed: model, References: out.References}, nil
}

// SaveNotes stores the user's notes for a page.
func (c *Client) SaveNotes(ctx context.Context, pageID int, notes string) error {
	payload := map[string]string{"userNotes": notes}
	path := "/api/notes/" + url.PathEscape(strconv.Itoa(pageID))
	return c.doJSON(ctx, OpSaveNotes, http.MethodPut, path, payload, nil, config.APITimeout)
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	Name        string
	Description string
	CostPer1K   float64
}

// ModelCatalog is the server's model list plus its defaults.
type ModelCatalog struct {
	Models              []ModelInfo
	DefaultSummaryModel string
	DefaultQAModel      string
}

// Has reports whether name is in the catalog.
func (m ModelCatalog) Has(name string) bool {
	for _, info := range m.Models {
		if info.Name == name {
			return true
		}
	}
	return false
}

// ListModels fetches the model catalog, sorted by name.
func (c *Client) ListModels(ctx context.Context) (ModelCatalog, error) {
	var out struct {
		Models map[string]struct {
			Description string  `json:"description"`
			CostPer1K   float64 `json:"cost_per_1k"`
		} `json:"models"`
		DefaultSummaryModel string `json:"default_summary_model"`
		DefaultQAModel      string `json:"default_qa_model"`
	}
	if err := c.doJSON(ctx, OpModels, http.MethodGet, "/api/models", nil, &out, config.APITimeout); err != nil {
		return ModelCatalog{}, err
	}
	catalog := ModelCatalog{
		DefaultSummaryModel: out.DefaultSummaryModel,
		DefaultQAModel:      out.DefaultQAModel,
	}
	for name, m := range out.Models {
		catalog.Models = append(catalog.Models, ModelInfo{Name: name, Description: m.Description, CostPer1K: m.CostPer1K})
	}
	sort.Slice(catalog.Models, func(i, j int) bool { return catalog.Models[i].Name < catalog.Models[j].Name })
	return catalog, nil
}

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/csheth/studyflow/internal/config"
)

// AllowedExtensions lists what the backend accepts for upload.
var AllowedExtensions = []string{"pdf", "png", "jpg", "jpeg"}

var (
	ErrUnsupportedUpload = errors.New("file type not allowed")
	ErrUploadTooLarge    = errors.New("file exceeds upload limit")
	ErrEmptyUpload       = errors.New("file is empty")
)

// ValidateUpload checks a local file before it is sent. PDFs are parsed with pdfcpu
// in relaxed mode so obviously broken files fail fast and locally.
func ValidateUpload(path string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	allowed := false
	for _, a := range AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedUpload)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyUpload)
	}
	if info.Size() > config.MaxUploadBytes {
		return fmt.Errorf("%s (%d bytes): %w", filepath.Base(path), info.Size(), ErrUploadTooLarge)
	}
	if ext == "pdf" {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := pdfapi.ValidateFile(path, conf); err != nil {
			return fmt.Errorf("invalid pdf: %w", err)
		}
	}
	return nil
}

type uploadResponse struct {
	FileID      string `json:"file_id"`
	FileIDCamel string `json:"fileId"`
	ID          string `json:"id"`
	Status      string `json:"status"`
}

func (r uploadResponse) fileID() string {
	for _, v := range []string{r.FileID, r.FileIDCamel, r.ID} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Upload sends a local file and returns the server's file id.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	if err := ValidateUpload(path); err != nil {
		return "", &Error{Op: OpUpload, Err: err}
	}
	req, err := c.multipartRequest(ctx, "/api/upload", path, nil)
	if err != nil {
		return "", &Error{Op: OpUpload, Err: err}
	}
	ctx, cancel := context.WithTimeout(req.Context(), config.UploadTimeout)
	defer cancel()

	var out uploadResponse
	if err := c.send(OpUpload, req.WithContext(ctx), &out); err != nil {
		return "", err
	}
	id := out.fileID()
	if id == "" {
		return "", &Error{Op: OpUpload, Message: "response carried no file id"}
	}
	return id, nil
}

// AddPage appends the pages of a local file to an existing document.
func (c *Client) AddPage(ctx context.Context, documentID, path string) (int, error) {
	if err := ValidateUpload(path); err != nil {
		return 0, &Error{Op: OpAddPage, Err: err}
	}
	req, err := c.multipartRequest(ctx, "/api/add-page", path, map[string]string{"documentId": documentID})
	if err != nil {
		return 0, &Error{Op: OpAddPage, Err: err}
	}
	ctx, cancel := context.WithTimeout(req.Context(), config.UploadTimeout)
	defer cancel()

	var out struct {
		PagesAdded int `json:"pages_added"`
	}
	if err := c.send(OpAddPage, req.WithContext(ctx), &out); err != nil {
		return 0, err
	}
	return out.PagesAdded, nil
}

func (c *Client) multipartRequest(ctx context.Context, path, filePath string, fields map[string]string) (*http.Request, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/logging"
	"github.com/csheth/studyflow/internal/metrics"
)

// Operation names carried by Error.Op. The UI branches on them to decide whether a
// failure aborts a flow or is shown inline.
const (
	OpUpload     = "upload"
	OpAnalyze    = "analyze"
	OpFetch      = "fetch"
	OpAsk        = "ask"
	OpSaveNotes  = "save-notes"
	OpModels     = "models"
	OpAddPage    = "add-page"
	OpRemovePage = "remove-page"
	OpListFiles  = "list-files"
)

// Error describes a failed remote call. Status is zero for transport and local
// validation failures.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsOp reports whether err is an *Error for the given operation.
func IsOp(err error, op string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Op == op
}

// Options tunes a Client. Zero values pick sensible defaults.
type Options struct {
	HTTPClient *http.Client
	AskLimiter *rate.Limiter
}

// Client talks to the study backend. It holds no session state.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *logging.Logger
}

func New(baseURL string, opts Options) *Client {
	limiter := opts.AskLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(config.AskRatePerSecond), config.AskBurst)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    pickHTTPClient(opts.HTTPClient),
		limiter: limiter,
		log:     logging.New("api"),
	}
}

// BaseURL is the server root, used to resolve relative file URLs.
func (c *Client) BaseURL() string { return c.baseURL }

// ResolveURL turns a server-relative path such as /uploads/x.pdf into an absolute URL.
func (c *Client) ResolveURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func pickHTTPClient(custom *http.Client) *http.Client {
	if custom != nil {
		return custom
	}
	// Uploads and asks can run for minutes; per-call contexts bound them instead.
	return &http.Client{}
}

// envelope holds the fields every endpoint may use to report failure.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, out any, timeout time.Duration) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		body = bytes.NewReader(buf)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(op, req, out)
}

// send executes req and decodes a JSON body into out, converting non-2xx statuses
// and success:false envelopes into *Error.
func (c *Client) send(op string, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAPI(op, err != nil, time.Since(start))
		if err != nil {
			c.log.Warn("request failed", "op", op, "path", req.URL.Path, "err", err)
		} else {
			c.log.Debug("request ok", "op", op, "path", req.URL.Path, "duration", time.Since(start))
		}
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: err}
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(clip(raw, config.MaxErrorBodyBytes)))
		}
		if msg == "" {
			msg = resp.Status
		}
		return &Error{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = "server reported failure"
		}
		return &Error{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func clip(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

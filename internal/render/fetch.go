package render

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/csheth/studyflow/internal/config"
)

const (
	partialSuffix = ".part"
	metaSuffix    = ".meta"
)

// fileCache keeps downloaded document files on disk so reopening a document, or
// the same document in a later session, does not download it again.
type fileCache struct {
	dir    string
	client *http.Client
	ttl    time.Duration
}

type fileCacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"lastModified"`
	CachedAt     time.Time `json:"cachedAt"`
	Size         int64     `json:"size"`
}

func newFileCache(dir string, client *http.Client) (*fileCache, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "studyflow-cache", "documents")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: config.RenderTimeout * 3}
	}
	return &fileCache{dir: dir, client: client, ttl: config.DocumentCacheTTL}, nil
}

// Fetch returns a local path for fileURL. Local paths and file:// URLs are used
// directly; http(s) URLs are downloaded, revalidated after the TTL and resumed
// from a partial download when possible. A stale copy is served if the server
// cannot be reached.
func (c *fileCache) Fetch(ctx context.Context, key, fileURL string) (string, error) {
	if local, ok := localPath(fileURL); ok {
		if _, err := os.Stat(local); err != nil {
			return "", err
		}
		return local, nil
	}

	docPath, metaPath, partialPath := c.pathsFor(cacheKey(key, fileURL), extensionOf(fileURL))

	if info, err := os.Stat(docPath); err == nil && time.Since(info.ModTime()) < c.ttl && info.Size() > 0 {
		return docPath, nil
	}

	meta, _ := readMeta(metaPath)
	info, _ := os.Stat(docPath)
	path, err := c.download(ctx, fileURL, docPath, metaPath, partialPath, meta, info)
	if err == nil {
		return path, nil
	}
	if info != nil && info.Size() > 0 {
		return docPath, nil
	}
	return "", err
}

// Expire makes the next Fetch of fileURL revalidate with the server even if the
// cached copy is younger than the TTL.
func (c *fileCache) Expire(key, fileURL string) {
	if _, ok := localPath(fileURL); ok {
		return
	}
	docPath, _, _ := c.pathsFor(cacheKey(key, fileURL), extensionOf(fileURL))
	epoch := time.Unix(0, 0)
	_ = os.Chtimes(docPath, epoch, epoch)
}

func (c *fileCache) download(ctx context.Context, fileURL, docPath, metaPath, partialPath string, meta fileCacheMeta, current os.FileInfo) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	if current != nil && current.Size() > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	var partialSize int64
	if info, err := os.Stat(partialPath); err == nil && info.Size() > 0 {
		partialSize = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", partialSize))
		if meta.ETag != "" {
			req.Header.Set("If-Range", meta.ETag)
		} else if meta.LastModified != "" {
			req.Header.Set("If-Range", meta.LastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if current != nil && current.Size() > 0 {
			meta.CachedAt = time.Now().UTC()
			now := time.Now()
			_ = os.Chtimes(docPath, now, now)
			_ = writeMeta(metaPath, meta)
			return docPath, nil
		}
		return c.download(ctx, fileURL, docPath, metaPath, partialPath, fileCacheMeta{}, nil)
	case http.StatusOK:
		return c.saveBody(resp, docPath, metaPath, partialPath, false)
	case http.StatusPartialContent:
		return c.saveBody(resp, docPath, metaPath, partialPath, partialSize > 0)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyBytes))
		return "", fmt.Errorf("document download failed: %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
}

func (c *fileCache) saveBody(resp *http.Response, docPath, metaPath, partialPath string, appendExisting bool) (string, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendExisting {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(partialPath, docPath); err != nil {
		return "", err
	}

	meta := fileCacheMeta{
		URL:          resp.Request.URL.String(),
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		CachedAt:     time.Now().UTC(),
	}
	if info, err := os.Stat(docPath); err == nil {
		meta.Size = info.Size()
	}
	if err := writeMeta(metaPath, meta); err != nil {
		return "", err
	}
	return docPath, nil
}

func (c *fileCache) pathsFor(key, ext string) (string, string, string) {
	return filepath.Join(c.dir, key+ext), filepath.Join(c.dir, key+metaSuffix), filepath.Join(c.dir, key+partialSuffix)
}

func localPath(fileURL string) (string, bool) {
	switch {
	case strings.HasPrefix(fileURL, "file://"):
		return strings.TrimPrefix(fileURL, "file://"), true
	case strings.HasPrefix(fileURL, "http://"), strings.HasPrefix(fileURL, "https://"):
		return "", false
	default:
		return fileURL, true
	}
}

func extensionOf(fileURL string) string {
	if i := strings.IndexAny(fileURL, "?#"); i >= 0 {
		fileURL = fileURL[:i]
	}
	ext := strings.ToLower(filepath.Ext(fileURL))
	if len(ext) > 6 {
		return ""
	}
	return ext
}

func cacheKey(documentID, fileURL string) string {
	if key := sanitizeKey(documentID); key != "" {
		return key
	}
	sum := sha1.Sum([]byte(fileURL))
	return hex.EncodeToString(sum[:])
}

func sanitizeKey(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "/", "-")
	value = strings.ReplaceAll(value, ":", "-")
	value = strings.ReplaceAll(value, "..", "-")
	return value
}

func readMeta(path string) (fileCacheMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileCacheMeta{}, err
	}
	var meta fileCacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fileCacheMeta{}, err
	}
	return meta, nil
}

func writeMeta(path string, meta fileCacheMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package render

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileCacheReusesFreshFile(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Etag", `"v1"`)
		_, _ = w.Write([]byte("plain text page"))
	}))
	t.Cleanup(server.Close)

	cache, err := newFileCache(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("newFileCache: %v", err)
	}
	ctx := context.Background()

	path, err := cache.Fetch(ctx, "doc-1", server.URL+"/uploads/doc-1.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if filepath.Ext(path) != ".txt" {
		t.Fatalf("cached path should keep the extension, got %s", path)
	}
	path2, err := cache.Fetch(ctx, "doc-1", server.URL+"/uploads/doc-1.txt")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if path != path2 || hits != 1 {
		t.Fatalf("expected one download and same path, hits=%d %s vs %s", hits, path, path2)
	}
}

func TestFileCacheRevalidatesStaleFile(t *testing.T) {
	var conditional bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v2"` {
			conditional = true
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v2"`)
		_, _ = w.Write([]byte("body"))
	}))
	t.Cleanup(server.Close)

	cache, err := newFileCache(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("newFileCache: %v", err)
	}
	ctx := context.Background()
	path, err := cache.Fetch(ctx, "doc-2", server.URL+"/doc-2.pdf")
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	old := time.Now().Add(-(cache.ttl + time.Hour))
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := cache.Fetch(ctx, "doc-2", server.URL+"/doc-2.pdf"); err != nil {
		t.Fatalf("conditional fetch: %v", err)
	}
	if !conditional {
		t.Fatal("expected a conditional request for the stale copy")
	}
}

func TestFileCacheExpireForcesRevalidation(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Etag", fmt.Sprintf(`"v%d"`, requests))
		_, _ = fmt.Fprintf(w, "version %d", requests)
	}))
	t.Cleanup(server.Close)

	cache, err := newFileCache(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("newFileCache: %v", err)
	}
	ctx := context.Background()
	url := server.URL + "/uploads/doc-4.txt"
	if _, err := cache.Fetch(ctx, "doc-4", url); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	cache.Expire("doc-4", url)
	path, err := cache.Fetch(ctx, "doc-4", url)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	body, _ := os.ReadFile(path)
	if requests != 2 || string(body) != "version 2" {
		t.Fatalf("requests=%d body=%q", requests, body)
	}
}

func TestFileCacheResumesPartialDownload(t *testing.T) {
	var rangeHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader = r.Header.Get("Range")
		w.Header().Set("Etag", `"resume"`)
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("world"))
	}))
	t.Cleanup(server.Close)

	cache, err := newFileCache(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("newFileCache: %v", err)
	}
	docPath, metaPath, partPath := cache.pathsFor(cacheKey("doc-3", ""), ".txt")
	if err := os.WriteFile(partPath, []byte("hello "), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	if err := writeMeta(metaPath, fileCacheMeta{ETag: `"resume"`}); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	path, err := cache.Fetch(context.Background(), "doc-3", server.URL+"/doc-3.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != docPath {
		t.Fatalf("unexpected path: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("resume failed, got %q", string(data))
	}
	if rangeHeader != fmt.Sprintf("bytes=%d-", len("hello ")) {
		t.Fatalf("expected range header, got %q", rangeHeader)
	}
}

func TestFileCacheUsesLocalPaths(t *testing.T) {
	t.Parallel()
	cache, err := newFileCache(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("newFileCache: %v", err)
	}
	local := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := cache.Fetch(context.Background(), "any", "file://"+local)
	if err != nil || got != local {
		t.Fatalf("Fetch(file://) = %q, %v", got, err)
	}
	if _, err := cache.Fetch(context.Background(), "any", filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatal("expected error for missing local file")
	}
}

func TestCacheKeyFallsBackToHash(t *testing.T) {
	t.Parallel()
	if key := cacheKey("a/b:c", "x"); strings.ContainsAny(key, "/:") {
		t.Fatalf("cache key should be sanitized, got %q", key)
	}
	if key := cacheKey("", "https://example.com/foo.pdf"); len(key) != 40 {
		t.Fatalf("expected sha1 hex fallback, got %q", key)
	}
}

// Package fileup implements the file-upload subprotocol (SPEC_FULL.md §4.6):
// local paths are uploaded once per run and cached by absolute path; URL
// references pass through untouched. Concurrent requests for the same local
// path collapse onto a single upload via golang.org/x/sync/singleflight.
package fileup

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cortadolabs/tabsync/internal/catalog"
)

// Uploader is the subset of remote.Client needed to run the subprotocol.
type Uploader interface {
	CreateFileUploadSlot(ctx context.Context, filename string) (uploadURL, assetID string, err error)
	PutFileBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error
	FinalizeFileUpload(ctx context.Context, assetID string) (handle string, err error)
}

// Cache is a per-run, concurrency-safe, content-addressed cache of local
// file uploads (§3 "FileAsset", §4.6 "at-most-once guarantee", §5 "File
// upload cache"). The zero value is not usable; use NewCache.
type Cache struct {
	client  Uploader
	group   singleflight.Group
	baseDir string // resolves relative local paths, per §4.4 "resolved against the input file's directory"

	mu    sync.RWMutex
	cache map[string]catalog.FileRef // absolute path -> resolved asset
}

// NewCache builds a Cache that resolves relative local paths against
// baseDir and uploads through client.
func NewCache(client Uploader, baseDir string) *Cache {
	return &Cache{client: client, baseDir: baseDir, cache: make(map[string]catalog.FileRef)}
}

// Resolve takes one raw file fragment (§4.4 "for each fragment, if it parses
// as an absolute URL, keep as URL reference; else treat as a path") and
// returns the resolved FileRef: unchanged for a URL, uploaded-and-cached for
// a local path.
func (c *Cache) Resolve(ctx context.Context, raw string, isURL func(string) bool) (catalog.FileRef, error) {
	if isURL(raw) {
		return catalog.FileRef{Name: filepath.Base(raw), ExternalURL: raw}, nil
	}

	absPath := raw
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(c.baseDir, raw)
	}

	c.mu.RLock()
	if ref, ok := c.cache[absPath]; ok {
		c.mu.RUnlock()
		return ref, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(absPath, func() (any, error) {
		// Re-check under the singleflight key: another goroutine may have
		// populated the cache between the RUnlock above and this call.
		c.mu.RLock()
		if ref, ok := c.cache[absPath]; ok {
			c.mu.RUnlock()
			return ref, nil
		}
		c.mu.RUnlock()

		ref, err := c.upload(ctx, absPath)
		if err != nil {
			return catalog.FileRef{}, err
		}

		c.mu.Lock()
		c.cache[absPath] = ref
		c.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return catalog.FileRef{}, err
	}
	return v.(catalog.FileRef), nil
}

func (c *Cache) upload(ctx context.Context, absPath string) (catalog.FileRef, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return catalog.FileRef{}, fmt.Errorf("read local file %s: %w", absPath, err)
	}

	name := filepath.Base(absPath)
	uploadURL, assetID, err := c.client.CreateFileUploadSlot(ctx, name)
	if err != nil {
		return catalog.FileRef{}, fmt.Errorf("create upload slot for %s: %w", name, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if err := c.client.PutFileBytes(ctx, uploadURL, data, contentType); err != nil {
		return catalog.FileRef{}, fmt.Errorf("upload %s: %w", name, err)
	}

	handle, err := c.client.FinalizeFileUpload(ctx, assetID)
	if err != nil {
		return catalog.FileRef{}, fmt.Errorf("finalize upload %s: %w", name, err)
	}

	return catalog.FileRef{Name: name, AssetID: handle}, nil
}

// UploadCount exposes how many distinct local paths have been uploaded this
// run, for the at-most-once property test (§8.1 property 3).
func (c *Cache) UploadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

package fileup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeUploader struct {
	slots  int32
	bytes  map[string][]byte
	mu     sync.Mutex
	nextID int32
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{bytes: make(map[string][]byte)}
}

func (f *fakeUploader) CreateFileUploadSlot(ctx context.Context, filename string) (string, string, error) {
	atomic.AddInt32(&f.slots, 1)
	id := atomic.AddInt32(&f.nextID, 1)
	return "upload://" + filename, "asset-" + string(rune('0'+id)), nil
}

func (f *fakeUploader) PutFileBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytes[uploadURL] = data
	return nil
}

func (f *fakeUploader) FinalizeFileUpload(ctx context.Context, assetID string) (string, error) {
	return "handle:" + assetID, nil
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func TestCache_URLPassesThroughUnchanged(t *testing.T) {
	up := newFakeUploader()
	cache := NewCache(up, t.TempDir())

	ref, err := cache.Resolve(context.Background(), "https://example.com/img.png", isAbsoluteURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ref.ExternalURL != "https://example.com/img.png" || ref.AssetID != "" {
		t.Errorf("ref = %+v, want untouched URL reference", ref)
	}
	if up.slots != 0 {
		t.Errorf("expected no upload slots for a URL, got %d", up.slots)
	}
}

func TestCache_LocalPathUploadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("fake jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	up := newFakeUploader()
	cache := NewCache(up, dir)

	const n = 20
	var wg sync.WaitGroup
	refs := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := cache.Resolve(context.Background(), "photo.jpg", isAbsoluteURL)
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			refs[i] = ref.AssetID
		}(i)
	}
	wg.Wait()

	if up.slots != 1 {
		t.Errorf("CreateFileUploadSlot called %d times, want exactly 1", up.slots)
	}
	for i, r := range refs {
		if r == "" || r != refs[0] {
			t.Errorf("ref[%d] = %q, want all equal to %q", i, r, refs[0])
		}
	}
	if cache.UploadCount() != 1 {
		t.Errorf("UploadCount = %d, want 1", cache.UploadCount())
	}
}

func TestCache_RelativePathResolvedAgainstBaseDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "icon.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	up := newFakeUploader()
	cache := NewCache(up, dir)

	ref, err := cache.Resolve(context.Background(), "icon.png", isAbsoluteURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ref.AssetID == "" {
		t.Error("expected an uploaded asset handle")
	}
}

func TestCache_MissingFileErrors(t *testing.T) {
	up := newFakeUploader()
	cache := NewCache(up, t.TempDir())

	if _, err := cache.Resolve(context.Background(), "nope.png", isAbsoluteURL); err == nil {
		t.Error("expected an error for a missing local file")
	}
}

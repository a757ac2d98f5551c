// Package uploader implements the Row Uploader (SPEC_FULL.md §4.5): for each
// converted row it decides insert vs. update under merge semantics, attaches
// cover/icon/image-block decoration, and issues a single atomic write.
package uploader

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/convertrow"
	"github.com/cortadolabs/tabsync/internal/remote"
)

// KeyIndex is the merge-mode lookup from key-column value to remote page
// ID. It is built once before the pipeline starts and is safe for
// concurrent lookups and inserts (§5 "RemoteRow index for merge").
type KeyIndex struct {
	mu    sync.RWMutex
	byKey map[string]string
}

// NewKeyIndex builds an index from the rows fetched during schema load.
func NewKeyIndex(rows []remote.RemoteRow) *KeyIndex {
	idx := &KeyIndex{byKey: make(map[string]string, len(rows))}
	for _, r := range rows {
		idx.byKey[r.KeyValue] = r.PageID
	}
	return idx
}

// Lookup returns the page ID for a key value, if known.
func (k *KeyIndex) Lookup(key string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, ok := k.byKey[key]
	return id, ok
}

// Insert records a newly created row's page ID under its key value, so a
// later row in the same run with the same key updates it instead of
// inserting again (§5 "last-writer-wins within the run").
func (k *KeyIndex) Insert(key, pageID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byKey[key] = pageID
}

// Options controls merge behavior (§6 --merge, --merge-only-column,
// --merge-skip-new).
type Options struct {
	Merge            bool
	MergeOnlyColumns []string // empty means "all effective-schema columns"
	MergeSkipNew     bool

	// KeyColumn is the input name of the key/title column. §4.5: "the key
	// column itself is not rewritten" on a merge update, so Upload drops it
	// from the update payload even though its converted value is present in
	// row.Properties.
	KeyColumn string
}

// Uploader issues the final create/update request for one converted row.
type Uploader struct {
	client remote.Client
	index  *KeyIndex
	opts   Options
}

// NewUploader builds an Uploader. index may be nil when opts.Merge is false.
func NewUploader(client remote.Client, index *KeyIndex, opts Options) *Uploader {
	return &Uploader{client: client, index: index, opts: opts}
}

// Outcome reports what actually happened to one row, for RunReport counters.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

// Upload writes one converted row, keyed by keyValue (the row's key-column
// cell, already cleaned). It returns the page ID written to (empty if
// skipped) and the resulting Outcome.
func (u *Uploader) Upload(ctx context.Context, keyValue string, row convertrow.ConvertedRow) (string, Outcome, error) {
	if u.opts.Merge {
		if pageID, ok := u.index.Lookup(keyValue); ok {
			req := remote.WriteRequest{
				PageID:     pageID,
				Properties: restrictColumns(row.Properties, u.opts.MergeOnlyColumns, u.opts.KeyColumn),
				Cover:      row.Cover,
				Icon:       toRemoteIcon(row.Icon),
				ImageBlock: toRemoteImageBlock(row.ImageBlock),
			}
			if err := u.client.UpdateRow(ctx, req); err != nil {
				return "", "", fmt.Errorf("update row for key %q: %w", keyValue, err)
			}
			return pageID, OutcomeUpdated, nil
		}
		if u.opts.MergeSkipNew {
			return "", OutcomeSkipped, nil
		}
	}

	req := remote.WriteRequest{
		Properties: row.Properties,
		Cover:      row.Cover,
		Icon:       toRemoteIcon(row.Icon),
		ImageBlock: toRemoteImageBlock(row.ImageBlock),
	}
	pageID, err := u.client.CreateRow(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("create row for key %q: %w", keyValue, err)
	}
	if u.opts.Merge {
		u.index.Insert(keyValue, pageID)
	}
	return pageID, OutcomeInserted, nil
}

// restrictColumns builds the property set for a merge update: limited to
// `only` when set (empty means every effective-schema column), and always
// excluding keyColumn (§4.5 "the key column itself is not rewritten").
func restrictColumns(props map[string]catalog.Value, only []string, keyColumn string) map[string]catalog.Value {
	if len(only) == 0 {
		out := make(map[string]catalog.Value, len(props))
		for name, v := range props {
			if name == keyColumn {
				continue
			}
			out[name] = v
		}
		return out
	}
	allowed := make(map[string]bool, len(only))
	for _, name := range only {
		if name == keyColumn {
			continue
		}
		allowed[name] = true
	}
	out := make(map[string]catalog.Value, len(only))
	for name, v := range props {
		if allowed[name] {
			out[name] = v
		}
	}
	return out
}

func toRemoteIcon(icon *convertrow.Icon) *remote.Icon {
	if icon == nil {
		return nil
	}
	return &remote.Icon{Emoji: icon.Emoji, File: icon.File}
}

func toRemoteImageBlock(block *convertrow.ImageBlockValue) *remote.ImageBlock {
	if block == nil {
		return nil
	}
	return &remote.ImageBlock{File: block.File, Caption: block.Caption}
}

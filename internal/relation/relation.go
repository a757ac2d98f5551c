// Package relation resolves relation-column fragments against linked
// databases: direct page URLs are used as-is, everything else is looked up
// (and optionally inserted) in a per-linked-database title index
// (SPEC_FULL.md §3 "LinkedDatabase", §4.4 relation conversion rule, §5
// "Linked-DB indices").
package relation

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/remote"
)

// Client is the subset of remote.Client the resolver needs. remote.Client
// satisfies it directly.
type Client interface {
	DatabaseAccessible(ctx context.Context, databaseID string) bool
	QueryDatabaseRows(ctx context.Context, databaseID string, pageSize int) ([]remote.RemoteRow, error)
	CreateRowIn(ctx context.Context, databaseID string, properties map[string]catalog.Value) (pageID string, err error)
}

// Options controls how relation misses are handled (§4.4, §6 flags).
type Options struct {
	AddMissing bool // --add-missing-relations
	Strict     bool // --fail-on-relation-duplicate: an ambiguous title is an error
	TitleProperty string // the linked database's title property name, used when inserting
}

// linkedIndex is the lazily-loaded title->pageID index for one linked
// database, with copy-on-write insertion guarded by its own lock (§5).
type linkedIndex struct {
	mu      sync.RWMutex
	byTitle map[string][]string // title -> page IDs (may have duplicates)
	loaded  bool
}

// Resolver caches one linkedIndex per linked database and resolves relation
// fragments against it.
type Resolver struct {
	client Client
	opts   Options

	mu      sync.Mutex
	indices map[string]*linkedIndex
}

// NewResolver builds a Resolver backed by client.
func NewResolver(client Client, opts Options) *Resolver {
	return &Resolver{
		client:  client,
		opts:    opts,
		indices: make(map[string]*linkedIndex),
	}
}

// Accessible satisfies reconcile.RelationChecker (§4.3 step 5).
func (r *Resolver) Accessible(ctx context.Context, databaseID string) bool {
	return r.client.DatabaseAccessible(ctx, databaseID)
}

func (r *Resolver) indexFor(databaseID string) *linkedIndex {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.indices[databaseID]
	if !ok {
		idx = &linkedIndex{byTitle: make(map[string][]string)}
		r.indices[databaseID] = idx
	}
	return idx
}

func (idx *linkedIndex) ensureLoaded(ctx context.Context, client Client, databaseID string) error {
	idx.mu.RLock()
	loaded := idx.loaded
	idx.mu.RUnlock()
	if loaded {
		return nil
	}

	rows, err := client.QueryDatabaseRows(ctx, databaseID, 100)
	if err != nil {
		return fmt.Errorf("load linked database %s: %w", databaseID, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.loaded {
		return nil
	}
	for _, row := range rows {
		idx.byTitle[row.KeyValue] = append(idx.byTitle[row.KeyValue], row.PageID)
	}
	idx.loaded = true
	return nil
}

// isPageURL reports whether fragment is a direct page reference rather than
// a title to look up, and extracts the page ID. Page URLs share the hosted
// service's domain but resolve under /pages/<id> rather than /databases/<id>.
func isPageURL(fragment string) (pageID string, ok bool) {
	u, err := url.Parse(fragment)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "pages" || segments[1] == "" {
		return "", false
	}
	return segments[1], true
}

// Resolve resolves a single relation fragment to a page ID within
// databaseID, per §4.4: direct page URL wins outright; otherwise the
// fragment is looked up (and optionally inserted) in the title index.
// Duplicate titles in the linked database resolve to the alphabetically-first
// page ID unless Options.Strict is set, in which case a duplicate match
// returns an error.
func (r *Resolver) Resolve(ctx context.Context, databaseID, fragment string) (string, error) {
	if pageID, ok := isPageURL(fragment); ok {
		return pageID, nil
	}

	idx := r.indexFor(databaseID)
	if err := idx.ensureLoaded(ctx, r.client, databaseID); err != nil {
		return "", err
	}

	idx.mu.RLock()
	candidates := append([]string(nil), idx.byTitle[fragment]...)
	idx.mu.RUnlock()

	switch {
	case len(candidates) == 1:
		return candidates[0], nil
	case len(candidates) > 1:
		if r.opts.Strict {
			return "", fmt.Errorf("relation target %q is ambiguous in linked database %s (%d matches)", fragment, databaseID, len(candidates))
		}
		sort.Strings(candidates)
		return candidates[0], nil
	}

	// No match: add, or report a miss for the caller to drop/fail per §4.4.
	if !r.opts.AddMissing {
		return "", ErrNotFound
	}

	titleProp := r.opts.TitleProperty
	if titleProp == "" {
		titleProp = "Name"
	}
	pageID, err := r.client.CreateRowIn(ctx, databaseID, map[string]catalog.Value{
		titleProp: {Type: catalog.Text, Text: fragment, HasValue: true},
	})
	if err != nil {
		return "", fmt.Errorf("create missing relation target %q in %s: %w", fragment, databaseID, err)
	}

	idx.mu.Lock()
	idx.byTitle[fragment] = append(idx.byTitle[fragment], pageID)
	idx.mu.Unlock()

	return pageID, nil
}

// ErrNotFound is returned by Resolve when a fragment has no match in the
// linked database and Options.AddMissing is false. Callers drop the
// fragment (warning) or fail the row, per the conversion rule in §4.4.
var ErrNotFound = fmt.Errorf("relation target not found")

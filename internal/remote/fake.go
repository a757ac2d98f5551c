package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cortadolabs/tabsync/internal/catalog"
)

// FakeClient is an in-memory Client used by tests across the pipeline
// packages (reconcile, relation, convertrow, uploader, pipeline) so they can be
// exercised without a live hosted-service account.
type FakeClient struct {
	mu sync.Mutex

	Schema Schema
	Rows   map[string]*RemoteRow // pageID -> row
	Order  []string              // insertion order, for deterministic pagination

	ArchivedCount int
	Uploaded      map[string][]byte // assetID -> bytes (simulates the blob store)
	UploadCount   int               // number of CreateFileUploadSlot calls, for the at-most-once property test

	// Linked simulates other databases reachable through the same client,
	// keyed by database ID. A nil entry for a given ID means "inaccessible".
	Linked map[string]*FakeClient
}

// NewFakeClient builds a FakeClient seeded with the given schema.
func NewFakeClient(schema Schema) *FakeClient {
	return &FakeClient{
		Schema:   schema,
		Rows:     make(map[string]*RemoteRow),
		Uploaded: make(map[string][]byte),
		Linked:   make(map[string]*FakeClient),
	}
}

func (f *FakeClient) FetchSchema(ctx context.Context) (Schema, error) {
	return f.Schema, nil
}

func (f *FakeClient) QueryAllRows(ctx context.Context, pageSize int) ([]RemoteRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pageSize < 100 {
		pageSize = 100
	}
	out := make([]RemoteRow, 0, len(f.Order))
	for _, id := range f.Order {
		out = append(out, *f.Rows[id])
	}
	return out, nil
}

func (f *FakeClient) CreateRow(ctx context.Context, req WriteRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New().String()
	title, _ := f.Schema.Title()
	row := &RemoteRow{PageID: id, Properties: cloneProps(req.Properties)}
	if v, ok := req.Properties[title.Name]; ok {
		row.KeyValue = v.Text
		if v.SelectValue != "" {
			row.KeyValue = v.SelectValue
		}
	}
	f.Rows[id] = row
	f.Order = append(f.Order, id)
	return id, nil
}

func (f *FakeClient) UpdateRow(ctx context.Context, req WriteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.Rows[req.PageID]
	if !ok {
		return fmt.Errorf("no such row: %s", req.PageID)
	}
	for name, v := range req.Properties {
		row.Properties[name] = v
	}
	return nil
}

func (f *FakeClient) ArchiveRow(ctx context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.Rows[pageID]; !ok {
		return fmt.Errorf("no such row: %s", pageID)
	}
	delete(f.Rows, pageID)
	for i, id := range f.Order {
		if id == pageID {
			f.Order = append(f.Order[:i], f.Order[i+1:]...)
			break
		}
	}
	f.ArchivedCount++
	return nil
}

func (f *FakeClient) RenameProperty(ctx context.Context, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, p := range f.Schema.Properties {
		if p.Name == oldName {
			f.Schema.Properties[i].Name = newName
			return nil
		}
	}
	return fmt.Errorf("no such property: %s", oldName)
}

// DatabaseAccessible reports whether databaseID is this client's own
// database or a registered linked database.
func (f *FakeClient) DatabaseAccessible(ctx context.Context, databaseID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if databaseID == f.Schema.DatabaseID {
		return true
	}
	target, ok := f.Linked[databaseID]
	return ok && target != nil
}

func (f *FakeClient) QueryDatabaseRows(ctx context.Context, databaseID string, pageSize int) ([]RemoteRow, error) {
	f.mu.Lock()
	target := f.Linked[databaseID]
	f.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("database %s is not accessible", databaseID)
	}
	return target.QueryAllRows(ctx, pageSize)
}

func (f *FakeClient) CreateRowIn(ctx context.Context, databaseID string, properties map[string]catalog.Value) (string, error) {
	f.mu.Lock()
	target := f.Linked[databaseID]
	f.mu.Unlock()

	if target == nil {
		return "", fmt.Errorf("database %s is not accessible", databaseID)
	}
	return target.CreateRow(ctx, WriteRequest{DatabaseID: databaseID, Properties: properties})
}

func (f *FakeClient) CreateProperty(ctx context.Context, name string, t catalog.Type) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.Schema.ByName(name); ok {
		return p, nil
	}
	prop := Property{ID: uuid.New().String(), Name: name, Type: t}
	f.Schema.Properties = append(f.Schema.Properties, prop)
	return prop, nil
}

func (f *FakeClient) CreateSelectOption(ctx context.Context, propertyName, optionName, color string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, p := range f.Schema.Properties {
		if p.Name == propertyName {
			for _, o := range p.Options {
				if o.Name == optionName {
					return nil
				}
			}
			f.Schema.Properties[i].Options = append(p.Options, catalog.SelectOption{Name: optionName, Color: color})
			return nil
		}
	}
	return fmt.Errorf("no such property: %s", propertyName)
}

func (f *FakeClient) CreateFileUploadSlot(ctx context.Context, filename string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.UploadCount++
	assetID := uuid.New().String()
	return "fake://" + assetID, assetID, nil
}

func (f *FakeClient) PutFileBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	assetID := uploadURL[len("fake://"):]
	f.Uploaded[assetID] = data
	return nil
}

func (f *FakeClient) FinalizeFileUpload(ctx context.Context, assetID string) (string, error) {
	return "handle:" + assetID, nil
}

func cloneProps(m map[string]catalog.Value) map[string]catalog.Value {
	out := make(map[string]catalog.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SortedPageIDs returns row IDs sorted lexically, useful for deterministic
// assertions in tests.
func (f *FakeClient) SortedPageIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.Order...)
	sort.Strings(out)
	return out
}

var _ Client = (*FakeClient)(nil)

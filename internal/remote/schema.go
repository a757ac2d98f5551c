// Package remote models the hosted database API (§6): schema retrieval,
// paginated row queries, row writes, file uploads, and the property-level
// mutations the schema reconciler needs (rename, create options).
//
// Client is an interface so the concurrent pipeline (dispatch, convertrow,
// relation) can depend on an abstraction instead of a concrete HTTP type —
// this is the cut that breaks the cyclic reference called out in
// SPEC_FULL.md §9 ("the converter depends on an abstract RelationResolver
// that the client implements").
package remote

import (
	"context"
	"time"

	"github.com/cortadolabs/tabsync/internal/catalog"
)

// Property is one column of the remote schema.
type Property struct {
	ID       string
	Name     string
	Type     catalog.Type
	Options  []catalog.SelectOption // select/multi_select/status
	LinkedDB string                 // relation: identifier of the linked database
}

// Schema is the ordered list of remote properties. The first entry is always
// the title property (§4.3 step 1).
type Schema struct {
	DatabaseID string
	Properties []Property
}

// Title returns the schema's title property, which is always index 0.
func (s Schema) Title() (Property, bool) {
	if len(s.Properties) == 0 {
		return Property{}, false
	}
	return s.Properties[0], true
}

// ByName looks up a property by exact (case-sensitive) name, per §4.3 step 2.
func (s Schema) ByName(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// RemoteRow is a fetched row: its identifier, key-column value, and current
// property values (§3 "RemoteRow").
type RemoteRow struct {
	PageID       string
	KeyValue     string
	Properties   map[string]catalog.Value
}

// WriteRequest is the payload for a create or update (§6 "Create/update a
// row: payload is a mapping from property identifier to typed value").
type WriteRequest struct {
	DatabaseID string // set only for create
	PageID     string // set only for update
	Properties map[string]catalog.Value
	Cover      *catalog.FileRef
	Icon       *Icon
	ImageBlock *ImageBlock
}

// Icon is either an emoji grapheme, a URL, or an uploaded file handle.
type Icon struct {
	Emoji string
	File  *catalog.FileRef
}

// ImageBlock describes the inline image block appended in "block" decoration
// mode (§4.5), with an optional caption sourced from the image-caption
// column or the AI caption provider (§4.4).
type ImageBlock struct {
	File    catalog.FileRef
	Caption string
}

// Client is the full capability set §6 requires of the hosted database API.
type Client interface {
	FetchSchema(ctx context.Context) (Schema, error)
	QueryAllRows(ctx context.Context, pageSize int) ([]RemoteRow, error)

	CreateRow(ctx context.Context, req WriteRequest) (pageID string, err error)
	UpdateRow(ctx context.Context, req WriteRequest) error
	ArchiveRow(ctx context.Context, pageID string) error

	RenameProperty(ctx context.Context, oldName, newName string) error
	CreateProperty(ctx context.Context, name string, t catalog.Type) (Property, error)
	CreateSelectOption(ctx context.Context, propertyName, optionName, color string) error

	// The three methods below target an arbitrary linked database, not the
	// run's primary databaseID, so internal/relation can build and query a
	// LinkedDatabase index (§3, §4.4 relation resolution) through the same
	// Client the rest of the pipeline already holds — this is the interface
	// cut that breaks the cyclic reference described in SPEC_FULL.md §9.
	DatabaseAccessible(ctx context.Context, databaseID string) bool
	QueryDatabaseRows(ctx context.Context, databaseID string, pageSize int) ([]RemoteRow, error)
	CreateRowIn(ctx context.Context, databaseID string, properties map[string]catalog.Value) (pageID string, err error)

	CreateFileUploadSlot(ctx context.Context, filename string) (uploadURL, assetID string, err error)
	PutFileBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error
	FinalizeFileUpload(ctx context.Context, assetID string) (handle string, err error)
}

// RequestTimeout is the per-request deadline every Client implementation
// must honour (§5 "in-flight HTTP requests honour a 60-second per-request
// deadline").
const RequestTimeout = 60 * time.Second

package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/cortadolabs/tabsync/internal/catalog"
)

// wireSchema/wireProperty/wireRow mirror the hosted service's JSON wire
// shapes; they exist only at this package's boundary so the rest of the
// codebase works against the catalog/Schema/RemoteRow types instead.
type wireProperty struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Type     string                `json:"type"`
	Options  []wireSelectOption    `json:"options,omitempty"`
	Relation *wireRelationMetadata `json:"relation,omitempty"`
}

type wireSelectOption struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type wireRelationMetadata struct {
	DatabaseID string `json:"database_id"`
}

type wireSchema struct {
	DatabaseID string         `json:"database_id"`
	Properties []wireProperty `json:"properties"`
}

// FetchSchema retrieves the database schema (§6).
func (c *HTTPClient) FetchSchema(ctx context.Context) (Schema, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/databases/"+c.databaseID, nil, false)
	if err != nil {
		return Schema{}, fmt.Errorf("fetch schema: %w", err)
	}
	ws, err := decodeJSON[wireSchema](resp)
	if err != nil {
		return Schema{}, err
	}

	schema := Schema{DatabaseID: ws.DatabaseID, Properties: make([]Property, len(ws.Properties))}
	for i, p := range ws.Properties {
		prop := Property{ID: p.ID, Name: p.Name, Type: typeFromWire(p.Type)}
		for _, o := range p.Options {
			prop.Options = append(prop.Options, selectOptionFromWire(o))
		}
		if p.Relation != nil {
			prop.LinkedDB = p.Relation.DatabaseID
		}
		schema.Properties[i] = prop
	}
	return schema, nil
}

type wireRowPage struct {
	Results    []wireRow `json:"results"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

type wireRow struct {
	ID         string                    `json:"id"`
	KeyValue   string                    `json:"key_value"`
	Properties map[string]wirePropValue `json:"properties"`
}

// QueryAllRows paginates through the full database (§6 "return all rows
// across all pages without omission"), requesting at least 100 rows per
// page as required by §6.
func (c *HTTPClient) QueryAllRows(ctx context.Context, pageSize int) ([]RemoteRow, error) {
	if pageSize < 100 {
		pageSize = 100
	}

	var all []RemoteRow
	cursor := ""
	for {
		body := map[string]any{"page_size": pageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		resp, err := c.do(ctx, http.MethodPost, "/v1/databases/"+c.databaseID+"/query", body, false)
		if err != nil {
			return nil, fmt.Errorf("query rows: %w", err)
		}
		page, err := decodeJSON[wireRowPage](resp)
		if err != nil {
			return nil, err
		}

		for _, wr := range page.Results {
			all = append(all, RemoteRow{
				PageID:     wr.ID,
				KeyValue:   wr.KeyValue,
				Properties: propertiesFromWire(wr.Properties),
			})
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// DatabaseAccessible reports whether databaseID can be fetched, for the
// reconciler's relation-accessibility check (§4.3 step 5).
func (c *HTTPClient) DatabaseAccessible(ctx context.Context, databaseID string) bool {
	resp, err := c.do(ctx, http.MethodGet, "/v1/databases/"+databaseID, nil, false)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// QueryDatabaseRows pages through an arbitrary linked database, used to
// build the LinkedDatabase key index (§3 "LinkedDatabase").
func (c *HTTPClient) QueryDatabaseRows(ctx context.Context, databaseID string, pageSize int) ([]RemoteRow, error) {
	if pageSize < 100 {
		pageSize = 100
	}

	var all []RemoteRow
	cursor := ""
	for {
		body := map[string]any{"page_size": pageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		resp, err := c.do(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", body, false)
		if err != nil {
			return nil, fmt.Errorf("query linked database %s: %w", databaseID, err)
		}
		page, err := decodeJSON[wireRowPage](resp)
		if err != nil {
			return nil, err
		}

		for _, wr := range page.Results {
			all = append(all, RemoteRow{
				PageID:     wr.ID,
				KeyValue:   wr.KeyValue,
				Properties: propertiesFromWire(wr.Properties),
			})
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// CreateRowIn inserts a row into an arbitrary linked database, used when
// --add-missing-relations creates the missing referent (§4.4).
func (c *HTTPClient) CreateRowIn(ctx context.Context, databaseID string, properties map[string]catalog.Value) (string, error) {
	body := wireWriteRequest{DatabaseID: databaseID, Properties: make(map[string]wirePropValue, len(properties))}
	for name, v := range properties {
		body.Properties[name] = valueToWire(v)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/pages", body, true)
	if err != nil {
		return "", fmt.Errorf("create row in linked database %s: %w", databaseID, err)
	}
	out, err := decodeJSON[wireCreateResponse](resp)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

type wireWriteRequest struct {
	DatabaseID string                    `json:"database_id,omitempty"`
	Properties map[string]wirePropValue `json:"properties"`
	Cover      *wireFileRef              `json:"cover,omitempty"`
	Icon       *wireIcon                 `json:"icon,omitempty"`
	Children   []wireBlock               `json:"children,omitempty"`
}

type wireCreateResponse struct {
	ID string `json:"id"`
}

// CreateRow issues an insert (§4.5 insert path).
func (c *HTTPClient) CreateRow(ctx context.Context, req WriteRequest) (string, error) {
	body := writeRequestToWire(req)
	body.DatabaseID = c.databaseID

	resp, err := c.do(ctx, http.MethodPost, "/v1/pages", body, true)
	if err != nil {
		return "", fmt.Errorf("create row: %w", err)
	}
	out, err := decodeJSON[wireCreateResponse](resp)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdateRow issues an update for only the properties present in req (§4.5
// merge path: "issue an update for only the properties present in the
// effective schema").
func (c *HTTPClient) UpdateRow(ctx context.Context, req WriteRequest) error {
	body := writeRequestToWire(req)
	_, err := c.do(ctx, http.MethodPatch, "/v1/pages/"+req.PageID, body, true)
	if err != nil {
		return fmt.Errorf("update row %s: %w", req.PageID, err)
	}
	return nil
}

// ArchiveRow soft-deletes a row (§6), used by --delete-all-database-entries.
func (c *HTTPClient) ArchiveRow(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": true}
	_, err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, body, true)
	if err != nil {
		return fmt.Errorf("archive row %s: %w", pageID, err)
	}
	return nil
}

// RenameProperty renames the title property during a key-column rename
// (§4.3 step 1, §6 "Rename a property").
func (c *HTTPClient) RenameProperty(ctx context.Context, oldName, newName string) error {
	body := map[string]any{
		"properties": map[string]any{
			oldName: map[string]any{"name": newName},
		},
	}
	_, err := c.do(ctx, http.MethodPatch, "/v1/databases/"+c.databaseID, body, true)
	if err != nil {
		return fmt.Errorf("rename property %q to %q: %w", oldName, newName, err)
	}
	return nil
}

type wireCreatePropertyResponse struct {
	Property wireProperty `json:"property"`
}

// CreateProperty adds a new property to the remote schema (§4.3 step 3,
// "add it (with declared or inferred type)").
func (c *HTTPClient) CreateProperty(ctx context.Context, name string, t catalog.Type) (Property, error) {
	body := map[string]any{
		"properties": map[string]any{
			name: map[string]any{"type": string(t)},
		},
	}
	resp, err := c.do(ctx, http.MethodPatch, "/v1/databases/"+c.databaseID, body, true)
	if err != nil {
		return Property{}, fmt.Errorf("create property %q: %w", name, err)
	}
	out, err := decodeJSON[wireCreatePropertyResponse](resp)
	if err != nil {
		return Property{}, err
	}
	p := out.Property
	prop := Property{ID: p.ID, Name: p.Name, Type: typeFromWire(p.Type)}
	for _, o := range p.Options {
		prop.Options = append(prop.Options, selectOptionFromWire(o))
	}
	if p.Relation != nil {
		prop.LinkedDB = p.Relation.DatabaseID
	}
	return prop, nil
}

// CreateSelectOption adds an option to a select/multi_select property (§4.3
// step 3, §6 "Create options on select/multi_select").
func (c *HTTPClient) CreateSelectOption(ctx context.Context, propertyName, optionName, color string) error {
	body := map[string]any{
		"properties": map[string]any{
			propertyName: map[string]any{
				"options": []map[string]any{{"name": optionName, "color": color}},
			},
		},
	}
	_, err := c.do(ctx, http.MethodPatch, "/v1/databases/"+c.databaseID, body, true)
	if err != nil {
		return fmt.Errorf("create option %q on %q: %w", optionName, propertyName, err)
	}
	return nil
}

type wireUploadSlot struct {
	UploadURL string `json:"upload_url"`
	AssetID   string `json:"asset_id"`
}

// CreateFileUploadSlot begins the file-upload subprotocol (§4.6, §6).
func (c *HTTPClient) CreateFileUploadSlot(ctx context.Context, filename string) (string, string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/file_uploads", map[string]any{"filename": filename}, true)
	if err != nil {
		return "", "", fmt.Errorf("create file upload slot: %w", err)
	}
	slot, err := decodeJSON[wireUploadSlot](resp)
	if err != nil {
		return "", "", err
	}
	return slot.UploadURL, slot.AssetID, nil
}

// PutFileBytes streams the asset bytes to the signed upload URL (§4.6).
func (c *HTTPClient) PutFileBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload file bytes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload file bytes: server returned %d", resp.StatusCode)
	}
	return nil
}

type wireFinalizeResponse struct {
	Handle string `json:"handle"`
}

// FinalizeFileUpload completes the subprotocol and returns a stable handle
// (§4.6 "finalize to obtain a stable handle").
func (c *HTTPClient) FinalizeFileUpload(ctx context.Context, assetID string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/file_uploads/"+assetID+"/finalize", nil, true)
	if err != nil {
		return "", fmt.Errorf("finalize file upload %s: %w", assetID, err)
	}
	out, err := decodeJSON[wireFinalizeResponse](resp)
	if err != nil {
		return "", err
	}
	return out.Handle, nil
}

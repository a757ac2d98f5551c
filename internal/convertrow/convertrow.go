// Package convertrow orchestrates per-row conversion (SPEC_FULL.md §4.4):
// for each row, it produces a catalog.Value per effective-schema entry,
// resolving relation fragments, uploading/resolving file and icon columns,
// and optionally invoking the AI caption provider. Every exported entry
// point is a total function over one row: it never panics, and a single
// cell's failure degrades to an empty value (or a structured per-row error
// when a --fail-on-conversion-error-equivalent flag is set by the caller).
package convertrow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/cortadolabs/tabsync/internal/caption"
	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/convert"
	"github.com/cortadolabs/tabsync/internal/fileup"
	"github.com/cortadolabs/tabsync/internal/reconcile"
	"github.com/cortadolabs/tabsync/internal/relation"
)

// OptionCreator creates a named option on a select/multi_select property.
// Satisfied structurally by remote.Client (§9 "interface cut").
type OptionCreator interface {
	CreateSelectOption(ctx context.Context, propertyName, optionName, color string) error
}

// selectColors is the palette --randomize-select-colors draws from. Named
// after the hosted service's documented option colors.
var selectColors = []string{
	"default", "gray", "brown", "orange", "yellow", "green", "blue", "purple", "pink", "red",
}

// ImageMode selects how a resolved image is attached to the page (§4.5).
type ImageMode string

const (
	ImageCover ImageMode = "cover"
	ImageBlock ImageMode = "block"
)

// ImageBinding names the input columns that feed the page's cover/inline
// image, its caption, and its icon (§4.4 "Image source column", "Icon
// source column").
type ImageBinding struct {
	ImageColumns      []string
	ImageKeep         bool
	ImageMode         ImageMode
	CaptionColumn     string
	CaptionKeep       bool
	IconColumn        string
	IconKeep          bool
	DefaultIcon       string
	AICaptionImageCol string // image-source column feeding the caption provider
	AICaptionTarget   string // text column the caption is written into
}

// Converter ties catalog/convert/relation/fileup/caption together to turn
// one raw row into a fully-resolved write request.
type Converter struct {
	schema    []reconcile.Column
	binding   ImageBinding
	relations *relation.Resolver
	files     *fileup.Cache
	captioner *caption.Provider
	options   OptionCreator

	failOnConversionError bool
	failOnBadStatus       bool
	addMissingRelations   bool
	randomizeSelectColors bool

	createdOptionsMu sync.Mutex
	createdOptions   map[string]bool // "propertyName\x00optionName" already created this run
}

// Options configures a Converter beyond the effective schema and image
// binding (the per-row strict-mode flags of §6/§7).
type Options struct {
	FailOnConversionError bool
	FailOnBadStatus       bool

	// RandomizeSelectColors assigns a random color (via OptionCreator) to any
	// select/multi_select value not already an existing option, instead of
	// leaving color assignment to the hosted service's own default
	// (--randomize-select-colors).
	RandomizeSelectColors bool
}

// NewConverter builds a Converter for one run. relations/files/captioner/
// options may be nil when the corresponding column roles are unused by this
// input (options is only needed when opts.RandomizeSelectColors is set).
func NewConverter(schema []reconcile.Column, binding ImageBinding, relations *relation.Resolver, files *fileup.Cache, captioner *caption.Provider, options OptionCreator, opts Options) *Converter {
	return &Converter{
		schema:                schema,
		binding:               binding,
		relations:             relations,
		files:                 files,
		captioner:             captioner,
		options:               options,
		failOnConversionError: opts.FailOnConversionError,
		failOnBadStatus:       opts.FailOnBadStatus,
		randomizeSelectColors: opts.RandomizeSelectColors,
		createdOptions:        make(map[string]bool),
	}
}

// ConvertedRow is one row's fully-resolved write payload.
type ConvertedRow struct {
	Properties map[string]catalog.Value
	Cover      *catalog.FileRef
	Icon       *Icon
	ImageBlock *ImageBlockValue
}

// Icon mirrors remote.Icon without importing the remote package, so this
// package stays free of the HTTP client dependency.
type Icon struct {
	Emoji string
	File  *catalog.FileRef
}

// ImageBlockValue mirrors remote.ImageBlock for the same reason.
type ImageBlockValue struct {
	File    catalog.FileRef
	Caption string
}

// RowError reports the column at fault alongside the underlying cause, for
// the dispatcher's structured per-row error log (§7 "Per-row write errors").
type RowError struct {
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("column %q: %v", e.Column, e.Err)
}
func (e *RowError) Unwrap() error { return e.Err }

// Convert converts one row's cells (indexed the same way as the input
// header) into a ConvertedRow. cellByColumn maps each effective-schema
// column's InputName to its raw cell value for this row.
func (c *Converter) Convert(ctx context.Context, cellByColumn map[string]string) (ConvertedRow, error) {
	out := ConvertedRow{Properties: make(map[string]catalog.Value, len(c.schema))}

	imageColumnSet := make(map[string]bool, len(c.binding.ImageColumns))
	for _, name := range c.binding.ImageColumns {
		imageColumnSet[name] = true
	}

	for _, col := range c.schema {
		raw := cellByColumn[col.InputName]

		// Image/icon/caption-target source columns are consumed into page
		// decoration rather than written as ordinary properties, unless the
		// caller asked to keep them (§4.4 "keep semantics").
		switch {
		case imageColumnSet[col.InputName] && !c.binding.ImageKeep:
			continue
		case col.InputName == c.binding.CaptionColumn && !c.binding.CaptionKeep:
			continue
		case col.InputName == c.binding.IconColumn && !c.binding.IconKeep:
			continue
		}

		val, err := c.convertCell(ctx, col, raw)
		if err != nil {
			if c.failOnConversionError || (c.failOnBadStatus && col.Type == catalog.Status) {
				return ConvertedRow{}, &RowError{Column: col.InputName, Err: err}
			}
			val = catalog.Empty(col.Type)
		}
		out.Properties[col.InputName] = val
	}

	if err := c.resolveDecoration(ctx, cellByColumn, &out); err != nil {
		return ConvertedRow{}, err
	}

	return out, nil
}

func (c *Converter) convertCell(ctx context.Context, col reconcile.Column, raw string) (catalog.Value, error) {
	switch col.Type {
	case catalog.Text, catalog.CreatedTime, catalog.LastEditedTime:
		if col.Type == catalog.Text {
			return convert.ToText(raw), nil
		}
		return c.checkScalar(convert.ToTimestamp(col.Type, raw), raw)
	case catalog.Number:
		return c.checkScalar(convert.ToNumber(raw), raw)
	case catalog.Checkbox:
		return c.checkScalar(convert.ToCheckbox(raw), raw)
	case catalog.URL:
		return convert.ToURL(raw), nil
	case catalog.Email:
		return convert.ToEmail(raw), nil
	case catalog.Phone:
		return convert.ToPhone(raw), nil
	case catalog.Date:
		return c.checkScalar(convert.ToDate(raw), raw)
	case catalog.Select, catalog.Status:
		return c.convertSelect(ctx, col, raw)
	case catalog.MultiSelect:
		fragments := convert.SplitFragments(raw)
		for _, f := range fragments {
			c.ensureOption(ctx, col.PropertyName, f, col.Options)
		}
		return catalog.Value{Type: col.Type, MultiValues: fragments, HasValue: len(fragments) > 0}, nil
	case catalog.Person:
		fragments := convert.SplitFragments(raw)
		return catalog.Value{Type: col.Type, MultiValues: fragments, HasValue: len(fragments) > 0}, nil
	case catalog.File:
		return c.convertFile(ctx, raw)
	case catalog.Relation:
		return c.convertRelation(ctx, col, raw)
	default:
		return catalog.Empty(col.Type), nil
	}
}

// checkScalar catches the scalar converters (number/checkbox/date/timestamp)
// degrading silently to an empty Value on a failed parse. Those converters
// are total functions with no error return, so a cleaned, non-empty raw cell
// that still comes back with HasValue false means the input didn't parse —
// under --fail-on-conversion-error that must surface as a per-row error
// instead of disappearing into an empty cell (§7).
func (c *Converter) checkScalar(val catalog.Value, raw string) (catalog.Value, error) {
	if c.failOnConversionError && !val.HasValue && convert.CleanCell(raw) != "" {
		return catalog.Value{}, fmt.Errorf("value %q is not a valid %s", raw, val.Type)
	}
	return val, nil
}

func (c *Converter) convertSelect(ctx context.Context, col reconcile.Column, raw string) (catalog.Value, error) {
	s := convert.NormalizeFragment(raw)
	if s == "" {
		return catalog.Value{Type: col.Type}, nil
	}
	if col.Type == catalog.Select {
		c.ensureOption(ctx, col.PropertyName, s, col.Options)
		return catalog.Value{Type: col.Type, SelectValue: s, HasValue: true}, nil
	}

	for _, opt := range col.Options {
		if opt.Name == s {
			return catalog.Value{Type: catalog.Status, SelectValue: s, HasValue: true}, nil
		}
	}
	if c.failOnBadStatus {
		return catalog.Value{}, fmt.Errorf("status %q is not a known option", s)
	}
	return catalog.Value{Type: catalog.Status}, nil
}

// ensureOption creates optionName on propertyName with a random color the
// first time this run sees a value not already listed in existing, when
// --randomize-select-colors is set. Status options are fixed by the hosted
// service and never reach here; only plain select/multi_select do.
func (c *Converter) ensureOption(ctx context.Context, propertyName, optionName string, existing []catalog.SelectOption) {
	if !c.randomizeSelectColors || c.options == nil {
		return
	}
	for _, opt := range existing {
		if opt.Name == optionName {
			return
		}
	}

	key := propertyName + "\x00" + optionName
	c.createdOptionsMu.Lock()
	if c.createdOptions[key] {
		c.createdOptionsMu.Unlock()
		return
	}
	c.createdOptions[key] = true
	c.createdOptionsMu.Unlock()

	color := selectColors[rand.Intn(len(selectColors))]
	// Best-effort: a failure here just leaves color assignment to the
	// hosted service's own default when the value is written.
	_ = c.options.CreateSelectOption(ctx, propertyName, optionName, color)
}

func (c *Converter) convertFile(ctx context.Context, raw string) (catalog.Value, error) {
	fragments := convert.SplitFragments(raw)
	if len(fragments) == 0 {
		return catalog.Value{Type: catalog.File}, nil
	}
	if c.files == nil {
		return catalog.Value{}, fmt.Errorf("file column present but no file uploader configured")
	}

	refs := make([]catalog.FileRef, 0, len(fragments))
	for _, f := range fragments {
		ref, err := c.files.Resolve(ctx, f, convert.IsURL)
		if err != nil {
			return catalog.Value{}, fmt.Errorf("resolve file %q: %w", f, err)
		}
		refs = append(refs, ref)
	}
	return catalog.Value{Type: catalog.File, Files: refs, HasValue: true}, nil
}

func (c *Converter) convertRelation(ctx context.Context, col reconcile.Column, raw string) (catalog.Value, error) {
	fragments := convert.SplitFragments(raw)
	if len(fragments) == 0 {
		return catalog.Value{Type: catalog.Relation}, nil
	}
	if c.relations == nil {
		return catalog.Value{}, fmt.Errorf("relation column present but no relation resolver configured")
	}

	var refs []catalog.RelationRef
	for _, f := range fragments {
		pageID, err := c.relations.Resolve(ctx, col.LinkedDB, f)
		if err == relation.ErrNotFound {
			if c.failOnConversionError {
				return catalog.Value{}, fmt.Errorf("relation %q did not resolve to any row in %s", f, col.LinkedDB)
			}
			continue // dropped, per §4.4 "On miss: drop"
		}
		if err != nil {
			return catalog.Value{}, fmt.Errorf("resolve relation %q: %w", f, err)
		}
		refs = append(refs, catalog.RelationRef{PageID: pageID})
	}
	return catalog.Value{Type: catalog.Relation, Relations: refs, HasValue: len(refs) > 0}, nil
}

func (c *Converter) resolveDecoration(ctx context.Context, cellByColumn map[string]string, out *ConvertedRow) error {
	var imageRef *catalog.FileRef
	for _, colName := range c.binding.ImageColumns {
		raw := cellByColumn[colName]
		fragments := convert.SplitFragments(raw)
		if len(fragments) == 0 {
			continue
		}
		if c.files == nil {
			return &RowError{Column: colName, Err: fmt.Errorf("image column present but no file uploader configured")}
		}
		ref, err := c.files.Resolve(ctx, fragments[0], convert.IsURL)
		if err != nil {
			return &RowError{Column: colName, Err: err}
		}
		imageRef = &ref
		break
	}

	captionText := ""
	if c.binding.CaptionColumn != "" {
		captionText = convert.CleanCell(cellByColumn[c.binding.CaptionColumn])
	}
	captionRef := imageRef
	if col := c.binding.AICaptionImageCol; col != "" && c.files != nil {
		captionRef = nil
		if fragments := convert.SplitFragments(cellByColumn[col]); len(fragments) > 0 {
			if ref, err := c.files.Resolve(ctx, fragments[0], convert.IsURL); err == nil {
				captionRef = &ref
			}
		}
	}
	if captionText == "" && captionRef != nil && c.binding.AICaptionTarget != "" && c.captioner != nil {
		if generated, err := c.caption(ctx, captionRef); err == nil {
			captionText = generated
			out.Properties[c.binding.AICaptionTarget] = catalog.Value{Type: catalog.Text, Text: generated, HasValue: true}
		}
		// AI caption failure is non-fatal (§4.4): leave the target empty.
	}

	if imageRef != nil {
		switch c.binding.ImageMode {
		case ImageBlock:
			out.ImageBlock = &ImageBlockValue{File: *imageRef, Caption: captionText}
		default:
			out.Cover = imageRef
		}
	}

	if c.binding.IconColumn != "" {
		raw := convert.CleanCell(cellByColumn[c.binding.IconColumn])
		if raw != "" {
			if convert.IsURL(raw) && c.files != nil {
				ref, err := c.files.Resolve(ctx, raw, convert.IsURL)
				if err != nil {
					return &RowError{Column: c.binding.IconColumn, Err: err}
				}
				out.Icon = &Icon{File: &ref}
			} else {
				out.Icon = &Icon{Emoji: raw}
			}
		} else if c.binding.DefaultIcon != "" {
			out.Icon = &Icon{Emoji: c.binding.DefaultIcon}
		}
	} else if c.binding.DefaultIcon != "" {
		out.Icon = &Icon{Emoji: c.binding.DefaultIcon}
	}

	return nil
}

func (c *Converter) caption(ctx context.Context, ref *catalog.FileRef) (string, error) {
	if ref.ExternalURL != "" {
		return c.captioner.CaptionURL(ctx, ref.ExternalURL)
	}
	return "", fmt.Errorf("no URL available to caption for uploaded asset %q", ref.Name)
}

// Package reconcile aligns an input header against a remote database schema
// and produces the effective write schema every downstream row conversion
// targets (SPEC_FULL.md §4.3).
package reconcile

import (
	"context"
	"fmt"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/remote"
)

// KeyRename renames the remote title property as part of reconciliation,
// atomically with mapping the input's first column onto it (§4.3 step 1).
type KeyRename struct {
	NewName string
}

// Options controls how missing, unsettable, and relation columns are
// handled, mirroring the --add-missing-columns / --fail-on-... CLI flags
// of §6.
type Options struct {
	DeclaredTypes map[string]catalog.Type // from --column-types, optional
	InferredTypes map[string]catalog.Type // computed by the caller via convert.DetectType, used when no declared type

	RenameKeyColumn *KeyRename

	AddMissingColumns    bool
	FailOnMissingColumn  bool
	FailOnUnsettableColumn bool
	AddMissingRelations  bool
	FailOnInaccessibleRelation bool
}

// Column is one entry of the effective write schema: an input column bound
// to a resolved remote property.
type Column struct {
	InputName    string
	PropertyID   string
	PropertyName string
	Type         catalog.Type
	Options      []catalog.SelectOption
	LinkedDB     string
	IsKey        bool
}

// Result is the reconciler's output: the effective write schema plus any
// non-fatal warnings accumulated along the way (§4.3 "Output").
type Result struct {
	Columns  []Column
	Warnings []string
}

// RelationChecker reports whether a linked database is reachable. It is
// satisfied by internal/relation's resolver; passing nil skips the check
// (assumes every relation target is accessible), which is useful in tests
// that don't exercise relation columns.
type RelationChecker interface {
	Accessible(ctx context.Context, databaseID string) bool
}

// fatalError marks a reconciliation failure that should abort the run before
// dispatch (exit code 2, per §6).
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Reconcile implements §4.3 in full: title mapping (with optional key-column
// rename), per-column lookup, missing-column add/drop, unsettable-type
// dropping, and relation-accessibility checking.
func Reconcile(ctx context.Context, client remote.Client, header []string, schema remote.Schema, opts Options, relations RelationChecker) (Result, error) {
	if len(header) == 0 {
		return Result{}, &fatalError{fmt.Errorf("input has no columns")}
	}
	title, ok := schema.Title()
	if !ok {
		return Result{}, &fatalError{fmt.Errorf("remote schema has no properties")}
	}

	var res Result

	// Step 1: title mapping, with optional atomic rename.
	if opts.RenameKeyColumn != nil && opts.RenameKeyColumn.NewName != title.Name {
		if err := client.RenameProperty(ctx, title.Name, opts.RenameKeyColumn.NewName); err != nil {
			return Result{}, &fatalError{fmt.Errorf("rename key column: %w", err)}
		}
		title.Name = opts.RenameKeyColumn.NewName
	}
	res.Columns = append(res.Columns, Column{
		InputName:    header[0],
		PropertyID:   title.ID,
		PropertyName: title.Name,
		Type:         catalog.Text,
		IsKey:        true,
	})

	// Step 2-5: remaining columns.
	for _, name := range header[1:] {
		col, warning, err := reconcileColumn(ctx, client, name, schema, opts, relations)
		if err != nil {
			return Result{}, err
		}
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
		if col != nil {
			res.Columns = append(res.Columns, *col)
		}
	}

	return res, nil
}

func reconcileColumn(ctx context.Context, client remote.Client, name string, schema remote.Schema, opts Options, relations RelationChecker) (*Column, string, error) {
	prop, found := schema.ByName(name)

	if !found {
		return addOrDropMissing(ctx, client, name, opts)
	}

	// Step 4: unsettable types are always dropped from the write set.
	if prop.Type.Unsettable() {
		if opts.FailOnUnsettableColumn {
			return nil, "", &fatalError{fmt.Errorf("column %q targets unsettable remote type %q", name, prop.Type)}
		}
		return nil, fmt.Sprintf("column %q targets unsettable type %q, dropped from write set", name, prop.Type), nil
	}

	col := &Column{
		InputName:    name,
		PropertyID:   prop.ID,
		PropertyName: prop.Name,
		Type:         prop.Type,
		Options:      prop.Options,
		LinkedDB:     prop.LinkedDB,
	}

	// Step 5: relation accessibility.
	if prop.Type == catalog.Relation {
		if relations != nil && prop.LinkedDB != "" && !relations.Accessible(ctx, prop.LinkedDB) {
			if opts.FailOnInaccessibleRelation {
				return nil, "", &fatalError{fmt.Errorf("column %q targets inaccessible linked database %q", name, prop.LinkedDB)}
			}
			return nil, fmt.Sprintf("column %q targets inaccessible linked database %q, dropped", name, prop.LinkedDB), nil
		}
	}

	return col, "", nil
}

func addOrDropMissing(ctx context.Context, client remote.Client, name string, opts Options) (*Column, string, error) {
	if !opts.AddMissingColumns {
		if opts.FailOnMissingColumn {
			return nil, "", &fatalError{fmt.Errorf("column %q has no matching remote property", name)}
		}
		return nil, fmt.Sprintf("column %q has no matching remote property, dropped", name), nil
	}

	t, ok := opts.DeclaredTypes[name]
	if !ok {
		t, ok = opts.InferredTypes[name]
	}
	if !ok {
		t = catalog.Text
	}

	prop, err := client.CreateProperty(ctx, name, t)
	if err != nil {
		return nil, "", &fatalError{fmt.Errorf("add missing column %q: %w", name, err)}
	}

	return &Column{
		InputName:    name,
		PropertyID:   prop.ID,
		PropertyName: prop.Name,
		Type:         prop.Type,
		Options:      prop.Options,
		LinkedDB:     prop.LinkedDB,
	}, fmt.Sprintf("column %q added to remote schema as %q", name, t), nil
}

// IsFatal reports whether err is a reconciliation failure that should abort
// the run before dispatch begins (exit code 2, per §6).
func IsFatal(err error) bool {
	_, ok := err.(*fatalError)
	return ok
}

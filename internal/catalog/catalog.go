// Package catalog defines the closed set of remote column types the importer
// understands, and the tagged-union value that carries a single cell's
// converted payload for one of those types.
package catalog

import "fmt"

// Type is one of the closed set of remote property types.
type Type string

const (
	Text           Type = "text" // also used for the title property
	Number         Type = "number"
	Select         Type = "select"
	MultiSelect    Type = "multi_select"
	Status         Type = "status"
	Date           Type = "date"
	Person         Type = "person"
	File           Type = "file"
	Checkbox       Type = "checkbox"
	URL            Type = "url"
	Email          Type = "email"
	Phone          Type = "phone_number"
	CreatedTime    Type = "created_time"
	LastEditedTime Type = "last_edited_time"
	Relation       Type = "relation"
	Formula        Type = "formula"
	Rollup         Type = "rollup"
	CreatedBy      Type = "created_by"
	LastEditedBy   Type = "last_edited_by"
)

// Unsettable reports whether the remote API rejects writes to this type.
// These types are always dropped from the effective write schema (§4.3 step 4).
func (t Type) Unsettable() bool {
	switch t {
	case Formula, Rollup, CreatedBy, LastEditedBy:
		return true
	default:
		return false
	}
}

// Multi reports whether the type accepts a comma-separated list of values.
func (t Type) Multi() bool {
	switch t {
	case MultiSelect, Date, Person, File, Relation:
		return true
	default:
		return false
	}
}

// Valid reports whether t is one of the closed catalogue values.
func (t Type) Valid() bool {
	switch t {
	case Text, Number, Select, MultiSelect, Status, Date, Person, File, Checkbox,
		URL, Email, Phone, CreatedTime, LastEditedTime, Relation,
		Formula, Rollup, CreatedBy, LastEditedBy:
		return true
	default:
		return false
	}
}

// ParseType validates a user-supplied type code from --column-types.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown column type %q", s)
	}
	return t, nil
}

// DateRange is a resolved date or date..date range.
type DateRange struct {
	Start string // ISO-8601, always set if Valid
	End   string // ISO-8601, set only for a range
	Valid bool
}

// SelectOption is one option of a select/multi_select/status property.
type SelectOption struct {
	Name  string
	Color string
}

// FileRef is either a bare URL reference or an uploaded asset handle.
type FileRef struct {
	Name       string
	ExternalURL string // set when the file is referenced, not uploaded
	AssetID    string // set once uploaded via the file-upload subprotocol (§4.6)
}

// RelationRef is a resolved reference to a row in a linked database.
type RelationRef struct {
	PageID string
}

// Value is the tagged union of a single property's converted payload.
// Exactly one field group is meaningful, selected by Type.
type Value struct {
	Type Type

	Text     string // text, url, email, phone_number, created_time, last_edited_time (as string)
	Number   float64
	HasValue bool // false means "empty" (NULL-equivalent); always write bool fields regardless

	Bool bool // checkbox

	SelectValue string         // select
	MultiValues []string       // multi_select, person (emails/usernames), relation fragments (pre-resolution)
	Dates       []DateRange    // date (len 1, or more if a future multi-date type is added)
	Files       []FileRef      // file
	Relations   []RelationRef  // relation (post-resolution)
}

// Empty returns an empty, valid Value of the given type (the "NULL-equivalent"
// result conversion rules fall back to on parse failure, per §4.4).
func Empty(t Type) Value {
	return Value{Type: t}
}

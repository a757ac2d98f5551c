package catalog

import "testing"

func TestType_Unsettable(t *testing.T) {
	for _, tt := range []struct {
		typ  Type
		want bool
	}{
		{Formula, true},
		{Rollup, true},
		{CreatedBy, true},
		{LastEditedBy, true},
		{Text, false},
		{Number, false},
		{CreatedTime, false},
	} {
		if got := tt.typ.Unsettable(); got != tt.want {
			t.Errorf("Type(%q).Unsettable() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestType_Multi(t *testing.T) {
	for _, tt := range []struct {
		typ  Type
		want bool
	}{
		{MultiSelect, true},
		{Date, true},
		{Person, true},
		{File, true},
		{Relation, true},
		{Select, false},
		{Text, false},
		{Number, false},
	} {
		if got := tt.typ.Multi(); got != tt.want {
			t.Errorf("Type(%q).Multi() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestType_Valid(t *testing.T) {
	if !Text.Valid() {
		t.Error("Text should be valid")
	}
	if Type("bogus").Valid() {
		t.Error("bogus type should not be valid")
	}
}

func TestParseType(t *testing.T) {
	got, err := ParseType("number")
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if got != Number {
		t.Errorf("ParseType(\"number\") = %q, want %q", got, Number)
	}

	if _, err := ParseType("not_a_type"); err == nil {
		t.Error("expected an error for an unknown type")
	}
}

func TestEmpty(t *testing.T) {
	v := Empty(Select)
	if v.Type != Select {
		t.Errorf("Empty(Select).Type = %q, want %q", v.Type, Select)
	}
	if v.HasValue {
		t.Error("Empty value should have HasValue == false")
	}
}

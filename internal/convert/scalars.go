// Package convert implements the per-cell conversion rules of §4.2/§4.4: the
// total functions that turn a raw string cell into a catalog.Value, and the
// predicates used for type auto-detection.
//
// Parsing tolerances (two-digit year pivoting, yes/no/t/f boolean forms)
// follow the same conventions as a hand-rolled CSV-to-database import path;
// here they target catalog.Value instead of a driver-native numeric type.
// Numbers get no currency or thousands-separator cleanup.
package convert

import (
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/cortadolabs/tabsync/internal/catalog"
)

// numericPattern validates a trimmed string as a plain decimal literal.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot: years parsed from a 2-digit layout are assumed to belong
// to the previous century once they would land more than this many years
// in the future relative to now.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006", "2 January 2006", "January 2, 2006",
		"20060102",
	}
)

// CleanCell trims whitespace, strips an Excel formula-literal wrapper
// (="value"), and removes surrounding quotes left over from some CSV
// exporters.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// NormalizeFragment is applied to every comma-split fragment of a
// select/multi_select/file/person/relation cell: it trims whitespace and
// applies Unicode NFC normalization so values differing only in combining
// character decomposition compare equal. This is the normalization referenced
// by the idempotence carve-out in SPEC_FULL.md §8.1.
func NormalizeFragment(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// SplitFragments splits a raw cell on commas (no escaping, per §4.4),
// normalizes and trims each fragment, and drops empty fragments.
func SplitFragments(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = NormalizeFragment(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsCheckbox reports whether s parses as one of the accepted boolean forms.
func IsCheckbox(s string) bool {
	_, ok := ParseBool(s)
	return ok
}

// ParseBool accepts true/false, yes/no, t/f, y/n, 1/0 (case-insensitive).
// Empty input is not a valid boolean for auto-detection purposes, but the
// scalar conversion rule treats empty as false (§4.2).
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// ToCheckbox converts a cell to a checkbox Value. Empty cells are false,
// per §4.2 ("empty -> false").
func ToCheckbox(raw string) catalog.Value {
	s := CleanCell(raw)
	if s == "" {
		return catalog.Value{Type: catalog.Checkbox, Bool: false, HasValue: true}
	}
	b, ok := ParseBool(s)
	if !ok {
		return catalog.Value{Type: catalog.Checkbox, Bool: false, HasValue: false}
	}
	return catalog.Value{Type: catalog.Checkbox, Bool: b, HasValue: true}
}

// IsNumber reports whether s parses as a decimal literal under the catalogue's
// rules: commas and underscores are NOT stripped (§4.2), the same rule
// ToNumber applies.
func IsNumber(s string) bool {
	_, ok := ParseNumber(s)
	return ok
}

// ParseNumber parses a decimal literal. Per §4.2, thousands separators and
// underscores are significant characters, not noise to strip: "1,234" and
// "1_234" are not valid numbers here.
func ParseNumber(raw string) (float64, bool) {
	s := CleanCell(raw)
	if s == "" {
		return 0, false
	}
	if !numericPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToNumber converts a cell to a number Value.
func ToNumber(raw string) catalog.Value {
	s := CleanCell(raw)
	if s == "" {
		return catalog.Value{Type: catalog.Number}
	}
	f, ok := ParseNumber(s)
	if !ok {
		return catalog.Value{Type: catalog.Number}
	}
	return catalog.Value{Type: catalog.Number, Number: f, HasValue: true}
}

// IsURL reports whether s parses as an absolute http(s) URL.
func IsURL(s string) bool {
	s = CleanCell(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// IsEmail reports whether s parses as a single RFC 5322 address.
func IsEmail(s string) bool {
	s = CleanCell(s)
	if s == "" {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}

// ToText, ToURL, ToEmail, ToPhone all share the same "keep as trimmed string,
// empty is empty" scalar rule (§4.4).
func ToText(raw string) catalog.Value     { return scalarString(catalog.Text, raw) }
func ToURL(raw string) catalog.Value      { return scalarString(catalog.URL, raw) }
func ToEmail(raw string) catalog.Value    { return scalarString(catalog.Email, raw) }
func ToPhone(raw string) catalog.Value    { return scalarString(catalog.Phone, raw) }

func scalarString(t catalog.Type, raw string) catalog.Value {
	s := CleanCell(raw)
	if s == "" {
		return catalog.Value{Type: t}
	}
	return catalog.Value{Type: t, Text: s, HasValue: true}
}

// IsDate reports whether s parses as a date, date-time, or "A .. B" range.
func IsDate(s string) bool {
	_, ok := ParseDate(s)
	return ok
}

// ParseDate parses a single date/date-time under the layouts above, or an
// "A .. B" range (used directly by ToDate).
func ParseDate(raw string) (catalog.DateRange, bool) {
	s := CleanCell(raw)
	if s == "" {
		return catalog.DateRange{}, false
	}
	if start, end, ok := splitRange(s); ok {
		st, stOK := parseOneDate(start)
		if !stOK {
			return catalog.DateRange{}, false
		}
		en, enOK := parseOneDate(end)
		if !enOK {
			return catalog.DateRange{}, false
		}
		return catalog.DateRange{Start: st, End: en, Valid: true}, true
	}
	d, ok := parseOneDate(s)
	if !ok {
		return catalog.DateRange{}, false
	}
	return catalog.DateRange{Start: d, Valid: true}, true
}

// splitRange recognizes the "A .. B" range syntax (§4.2 date multi-value form).
func splitRange(s string) (start, end string, ok bool) {
	const sep = ".."
	idx := strings.Index(s, sep)
	if idx < 0 {
		return "", "", false
	}
	start = strings.TrimSpace(s[:idx])
	end = strings.TrimSpace(s[idx+len(sep):])
	if start == "" || end == "" {
		return "", "", false
	}
	return start, end, true
}

func parseOneDate(s string) (string, bool) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.RFC3339), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t.Format(time.RFC3339), true
		}
	}
	return "", false
}

// ToDate converts a cell to a date Value, accepting the "A .. B" range form.
func ToDate(raw string) catalog.Value {
	s := CleanCell(raw)
	if s == "" {
		return catalog.Value{Type: catalog.Date}
	}
	dr, ok := ParseDate(s)
	if !ok {
		return catalog.Value{Type: catalog.Date}
	}
	return catalog.Value{Type: catalog.Date, Dates: []catalog.DateRange{dr}, HasValue: true}
}

// ToTimestamp converts a cell to created_time/last_edited_time. These types
// are unsettable (catalog.Type.Unsettable) but conversion still needs a total
// function for round-trip testing and for reading existing remote rows.
func ToTimestamp(t catalog.Type, raw string) catalog.Value {
	s := CleanCell(raw)
	if s == "" {
		return catalog.Value{Type: t}
	}
	dr, ok := ParseDate(s)
	if !ok || dr.End != "" {
		return catalog.Value{Type: t}
	}
	return catalog.Value{Type: t, Text: dr.Start, HasValue: true}
}

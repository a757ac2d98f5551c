package convert

import "github.com/cortadolabs/tabsync/internal/catalog"

// DetectType runs the auto-detection predicates of §4.2 over every non-empty
// cell in a column. Predicates are tried in order (checkbox, number, url,
// email, date); the first predicate every non-empty cell satisfies wins.
// Auto-detection never proposes select, multi_select, relation, or file —
// those require an explicit declaration or schema lookup.
func DetectType(cells []string) catalog.Type {
	nonEmpty := make([]string, 0, len(cells))
	for _, c := range cells {
		if CleanCell(c) != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) == 0 {
		return catalog.Text
	}

	type predicate struct {
		t    catalog.Type
		test func(string) bool
	}
	predicates := []predicate{
		{catalog.Checkbox, IsCheckbox},
		{catalog.Number, IsNumber},
		{catalog.URL, IsURL},
		{catalog.Email, IsEmail},
		{catalog.Date, IsDate},
	}

	for _, p := range predicates {
		if allMatch(nonEmpty, p.test) {
			return p.t
		}
	}
	return catalog.Text
}

func allMatch(cells []string, test func(string) bool) bool {
	for _, c := range cells {
		if !test(c) {
			return false
		}
	}
	return true
}

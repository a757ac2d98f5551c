// Package report renders a pipeline.RunReport as a standalone HTML file for
// --html-report PATH (SPEC_FULL.md §6, §2.1).
package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/cortadolabs/tabsync/internal/pipeline"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// viewModel adapts a pipeline.RunReport with the one extra field the
// template needs (a generation timestamp) that RunReport itself has no
// reason to carry.
type viewModel struct {
	pipeline.RunReport
	GeneratedAt time.Time
}

// Write renders report as HTML to w.
func Write(w io.Writer, r pipeline.RunReport, generatedAt time.Time) error {
	vm := viewModel{RunReport: r, GeneratedAt: generatedAt}
	if err := page.Execute(w, vm); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// WriteFile renders report as HTML to a new file at path, truncating any
// existing file.
func WriteFile(path string, r pipeline.RunReport, generatedAt time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report %s: %w", path, err)
	}
	defer f.Close()
	return Write(f, r, generatedAt)
}

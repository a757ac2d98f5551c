// Package reader implements the Input Reader (§4.1): parsing one CSV or JSON
// file by extension into an ordered header and a lazy row stream, with no
// type coercion. It runs every file through the streaming BOM/UTF-8
// sanitization chain in streaming.go. CSV rows are parsed one at a time as
// the stream is consumed; a JSON array is decoded whole before its rows are
// yielded.
package reader

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Row is an ordered mapping from column name to raw cell value, matching the
// header's column order (§3 "Row" invariant: every row has the same column
// set as its header).
type Row struct {
	LineNumber int // 1-based, for error reporting
	Values     []string
}

// Options controls reader behavior, sourced from CLI flags (§6).
type Options struct {
	Delimiter         rune   // CSV only, default ','
	PayloadKeyColumn  string // required for JSON (§4.1)
	FailOnDuplicates  bool   // CSV duplicate-column strict flag
	MandatoryColumns  []string
}

// Result is the reader's output: the resolved column order plus a function
// that streams rows one at a time. Rows is only valid to call once.
type Result struct {
	Dir    string // directory containing the input file, for resolving relative file/image paths (§4.4)
	Header []string
	Rows   func(yield func(Row, error) bool)
}

// Read dispatches to readCSV or readJSON based on the file extension.
func Read(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}

	dir := filepath.Dir(path)
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".csv", ".tsv":
		return readCSV(f, dir, opts)
	case ".json":
		return readJSON(f, dir, opts)
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported input extension %q (expected .csv, .tsv or .json)", ext)
	}
}

func readCSV(f *os.File, dir string, opts Options) (*Result, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}

	sanitized := WrapForStreaming(f, fileSize(f))
	r := csv.NewReader(bufio.NewReader(sanitized))
	r.Comma = delim
	r.FieldsPerRecord = -1 // duplicate/variable columns handled by us below
	r.LazyQuotes = true

	var rawHeader []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			f.Close()
			return nil, fmt.Errorf("input file has no header row")
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read CSV header: %w", err)
		}
		if !allEmpty(rec) {
			rawHeader = rec
			break
		}
	}

	header, colForRaw, err := dedupeColumns(rawHeader, opts.FailOnDuplicates)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := requireMandatory(header, opts.MandatoryColumns); err != nil {
		f.Close()
		return nil, err
	}

	lineNum := 1
	sawDataRow := false
	return &Result{
		Dir:    dir,
		Header: header,
		Rows: func(yield func(Row, error) bool) {
			defer f.Close()
			for {
				rec, err := r.Read()
				lineNum++
				if err == io.EOF {
					if !sawDataRow {
						yield(Row{}, fmt.Errorf("input file has no data rows"))
					}
					return
				}
				if err != nil {
					if !yield(Row{}, fmt.Errorf("read CSV row %d: %w", lineNum, err)) {
						return
					}
					continue
				}
				sawDataRow = true
				values := projectRow(rec, colForRaw, len(header))
				if !yield(Row{LineNumber: lineNum, Values: values}, nil) {
					return
				}
			}
		},
	}, nil
}

// dedupeColumns applies the non-strict "last occurrence wins, first-occurrence
// position kept" policy documented in SPEC_FULL.md's resolved open question,
// or fails fast when strict duplicate checking is requested (§4.1).
func dedupeColumns(rawHeader []string, strict bool) (header []string, colForRaw []int, err error) {
	firstIndex := make(map[string]int, len(rawHeader))
	header = make([]string, 0, len(rawHeader))
	colForRaw = make([]int, len(rawHeader))
	var dupes []string

	for i, name := range rawHeader {
		if idx, seen := firstIndex[name]; seen {
			dupes = append(dupes, name)
			colForRaw[i] = idx
			continue
		}
		firstIndex[name] = len(header)
		colForRaw[i] = len(header)
		header = append(header, name)
	}

	if len(dupes) > 0 && strict {
		return nil, nil, fmt.Errorf("duplicate CSV columns: %s", strings.Join(dupes, ", "))
	}
	return header, colForRaw, nil
}

// projectRow maps a raw CSV record onto the deduplicated header width,
// letting a later duplicate occurrence's value win (per dedupeColumns).
func projectRow(rec []string, colForRaw []int, width int) []string {
	out := make([]string, width)
	for i, v := range rec {
		if i >= len(colForRaw) {
			break
		}
		out[colForRaw[i]] = v
	}
	return out
}

func requireMandatory(header []string, mandatory []string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	var missing []string
	for _, m := range mandatory {
		if !have[m] {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing mandatory columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func allEmpty(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func fileSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// orderedObj is a JSON object decoded with its key order preserved, since
// map[string]any would discard the first-occurrence order §4.1 requires for
// JSON header construction.
type orderedObj struct {
	keys   []string
	values map[string]any
}

func (o *orderedObj) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	o.values = make(map[string]any)

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected JSON object key, got %v", keyTok)
		}

		var val any
		if err := dec.Decode(&val); err != nil {
			return err
		}

		if _, exists := o.values[key]; !exists {
			o.keys = append(o.keys, key)
		}
		o.values[key] = val
	}
	return nil
}

// readJSON implements the JSON branch of §4.1: the input must be an array of
// objects; the header is the payload-key column followed by the union of
// keys in first-occurrence order (first-occurrence across the whole file,
// scanning objects in file order, then scanning each object's own keys in
// the order they appear in its source text).
func readJSON(f *os.File, dir string, opts Options) (*Result, error) {
	if opts.PayloadKeyColumn == "" {
		f.Close()
		return nil, fmt.Errorf("--payload-key-column is required for JSON input")
	}

	sanitized := WrapForStreaming(f, fileSize(f))
	dec := json.NewDecoder(sanitized)

	var raw []orderedObj
	if err := dec.Decode(&raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("input JSON must be an array of objects: %w", err)
	}
	f.Close()

	if len(raw) == 0 {
		return nil, fmt.Errorf("input file has no data rows")
	}

	header, err := jsonHeader(raw, opts.PayloadKeyColumn)
	if err != nil {
		return nil, err
	}
	if err := requireMandatory(header, opts.MandatoryColumns); err != nil {
		return nil, err
	}

	idx := 0
	return &Result{
		Dir:    dir,
		Header: header,
		Rows: func(yield func(Row, error) bool) {
			for idx < len(raw) {
				obj := raw[idx]
				idx++
				values := make([]string, len(header))
				for i, key := range header {
					values[i] = jsonScalarString(obj.values[key])
				}
				if !yield(Row{LineNumber: idx + 1, Values: values}, nil) {
					return
				}
			}
		},
	}, nil
}

func jsonHeader(rows []orderedObj, payloadKeyColumn string) ([]string, error) {
	seenKey := false
	header := []string{payloadKeyColumn}
	seen := map[string]bool{payloadKeyColumn: true}

	for _, obj := range rows {
		if _, ok := obj.values[payloadKeyColumn]; ok {
			seenKey = true
		}
		for _, key := range obj.keys {
			if !seen[key] {
				seen[key] = true
				header = append(header, key)
			}
		}
	}
	if !seenKey {
		return nil, fmt.Errorf("payload key column %q not present in any JSON object", payloadKeyColumn)
	}
	return header, nil
}

// jsonScalarString renders a JSON scalar or array cell as the raw string the
// conversion engine expects, joining arrays with commas so the usual
// comma-split fragment rule (§4.4) applies uniformly to CSV and JSON input.
func jsonScalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return formatJSONNumber(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := jsonScalarString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func formatJSONNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

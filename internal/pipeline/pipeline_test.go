package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/reader"
	"github.com/cortadolabs/tabsync/internal/remote"
)

func writeCSV(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_InsertsNewRows(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "Name,Amount\nAcme,10\nGlobex,20\n")

	schema := remote.Schema{
		DatabaseID: "db1",
		Properties: []remote.Property{
			{ID: "p0", Name: "Name", Type: catalog.Text},
			{ID: "p1", Name: "Amount", Type: catalog.Number},
		},
	}
	client := remote.NewFakeClient(schema)

	cfg := RunConfig{
		InputPath:   path,
		Reader:      reader.Options{},
		Concurrency: 2,
	}

	report, err := Run(context.Background(), cfg, client, silentLogger())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", report.Inserted)
	}
	if report.Failed != 0 {
		t.Errorf("Failed = %d, want 0", report.Failed)
	}
	if report.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", report.ExitCode)
	}
	if len(client.Rows) != 2 {
		t.Errorf("remote has %d rows, want 2", len(client.Rows))
	}
}

func TestRun_MergeUpdatesMatchingKey(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "Name,Amount\nAcme,99\n")

	schema := remote.Schema{
		DatabaseID: "db1",
		Properties: []remote.Property{
			{ID: "p0", Name: "Name", Type: catalog.Text},
			{ID: "p1", Name: "Amount", Type: catalog.Number},
		},
	}
	client := remote.NewFakeClient(schema)
	ctx := context.Background()
	existingID, _ := client.CreateRow(ctx, remote.WriteRequest{Properties: map[string]catalog.Value{
		"Name": {Type: catalog.Text, Text: "Acme", HasValue: true},
	}})
	client.Rows[existingID].KeyValue = "Acme"

	cfg := RunConfig{
		InputPath:   path,
		Reader:      reader.Options{},
		Concurrency: 2,
		Merge:       true,
	}

	report, err := Run(ctx, cfg, client, silentLogger())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Updated != 1 {
		t.Errorf("Updated = %d, want 1", report.Updated)
	}
	if client.Rows[existingID].Properties["Amount"].Number != 99 {
		t.Errorf("Amount = %+v, want 99", client.Rows[existingID].Properties["Amount"])
	}
}

func TestRun_UnknownColumnDroppedByDefaultDoesNotFailRun(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "Name,Ghost\nAcme,whatever\n")

	schema := remote.Schema{
		DatabaseID: "db1",
		Properties: []remote.Property{{ID: "p0", Name: "Name", Type: catalog.Text}},
	}
	client := remote.NewFakeClient(schema)

	cfg := RunConfig{InputPath: path, Reader: reader.Options{}, Concurrency: 1}
	report, err := Run(context.Background(), cfg, client, silentLogger())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", report.Inserted)
	}
}

func TestRun_MissingColumnFatalFailsBeforeDispatch(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "Name,Ghost\nAcme,whatever\n")

	schema := remote.Schema{
		DatabaseID: "db1",
		Properties: []remote.Property{{ID: "p0", Name: "Name", Type: catalog.Text}},
	}
	client := remote.NewFakeClient(schema)

	cfg := RunConfig{
		InputPath:           path,
		Reader:              reader.Options{},
		Concurrency:         1,
		FailOnMissingColumn: true,
	}
	_, err := Run(context.Background(), cfg, client, silentLogger())
	if err == nil {
		t.Fatal("expected a fatal pre-dispatch error")
	}
}

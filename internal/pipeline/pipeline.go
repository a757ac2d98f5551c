// Package pipeline wires the six components (Reader, Remote Client,
// Reconciler, Converter, Dispatcher, Uploader) into the single Run entry
// point a CLI invocation drives (SPEC_FULL.md §2, §3.1 "RunConfig /
// RunReport").
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/caption"
	"github.com/cortadolabs/tabsync/internal/convert"
	"github.com/cortadolabs/tabsync/internal/convertrow"
	"github.com/cortadolabs/tabsync/internal/dispatch"
	"github.com/cortadolabs/tabsync/internal/fileup"
	"github.com/cortadolabs/tabsync/internal/reader"
	"github.com/cortadolabs/tabsync/internal/reconcile"
	"github.com/cortadolabs/tabsync/internal/relation"
	"github.com/cortadolabs/tabsync/internal/remote"
	"github.com/cortadolabs/tabsync/internal/uploader"
)

// RunConfig is the fully merged, validated configuration for one invocation
// (flags ⊕ env ⊕ TOML ⊕ defaults), threaded explicitly through every stage
// constructor (§3.1). It is immutable once Run starts.
type RunConfig struct {
	InputPath string
	Reader    reader.Options

	DeclaredTypes map[string]catalog.Type

	AddMissingColumns          bool
	FailOnMissingColumn        bool
	FailOnUnsettableColumn     bool
	AddMissingRelations        bool
	FailOnInaccessibleRelation bool
	FailOnRelationDuplicate    bool
	RenameKeyColumn            *reconcile.KeyRename

	Merge            bool
	MergeOnlyColumns []string
	MergeSkipNew     bool

	// DeleteAllBeforeImport archives every existing row before the new rows
	// are dispatched (--delete-all-database-entries). It runs pre-dispatch,
	// so a failure here is fatal (§7) rather than a row failure.
	DeleteAllBeforeImport bool

	// RandomizeSelectColors assigns a random color to any select/multi_select
	// option this run creates (--randomize-select-colors), rather than
	// letting the hosted service pick its own default.
	RandomizeSelectColors bool

	ImageBinding convertrow.ImageBinding

	FailOnConversionError bool
	FailOnBadStatus       bool

	Concurrency int

	// OnProgress, if set, receives a Progress snapshot after every row and a
	// final snapshot once the run ends. The diagnostics server's /progress
	// endpoint is fed by a callback that stores the latest snapshot (§2.1).
	OnProgress dispatch.ProgressCallback

	CaptionProviderURL   string
	CaptionProviderModel string
	CaptionProviderKey   string
}

// RunReport is the aggregate outcome of one run: counters, the failed-row
// list with causes, and wall-clock duration (§3.1). It is consumed by the
// terminal summary printer and the optional HTML report renderer.
type RunReport struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
	Total    int
	Duration time.Duration
	Failures []dispatch.RowFailure

	// ExitCode follows §6: 0 clean, 1 at least one row error, 2 fatal
	// pre-dispatch error (never set here; Run returns a Go error for that
	// case instead, and the caller maps it to exit code 2).
	ExitCode int
}

// fatalRowError marks a per-row error that cancels the whole run when work
// returns it (isFatal recognises it); the work function in Run wraps no row
// error in it, so every row error counts as a row failure.
type fatalRowError struct{ err error }

func (e *fatalRowError) Error() string { return e.err.Error() }
func (e *fatalRowError) Unwrap() error { return e.err }

// Run executes the full A→F pipeline for one invocation.
func Run(ctx context.Context, cfg RunConfig, client remote.Client, logger *slog.Logger) (RunReport, error) {
	start := time.Now()

	result, err := reader.Read(cfg.InputPath, cfg.Reader)
	if err != nil {
		return RunReport{}, fmt.Errorf("read input: %w", err)
	}

	schema, err := client.FetchSchema(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("fetch remote schema: %w", err)
	}

	if cfg.DeleteAllBeforeImport {
		if err := deleteAllRows(ctx, client, logger); err != nil {
			return RunReport{}, fmt.Errorf("delete existing rows: %w", err)
		}
	}

	var rows []reader.Row
	var headerSamples map[string][]string
	if needsInference(cfg) {
		headerSamples = make(map[string][]string, len(result.Header))
	}
	for row, rowErr := range result.Rows {
		if rowErr != nil {
			return RunReport{}, fmt.Errorf("read input rows: %w", rowErr)
		}
		rows = append(rows, row)
		if headerSamples != nil {
			for i, name := range result.Header {
				if i < len(row.Values) {
					headerSamples[name] = append(headerSamples[name], row.Values[i])
				}
			}
		}
	}

	inferred := map[string]catalog.Type{}
	for name, cells := range headerSamples {
		inferred[name] = convert.DetectType(cells)
	}

	relationResolver := relation.NewResolver(client, relation.Options{
		AddMissing: cfg.AddMissingRelations,
		Strict:     cfg.FailOnRelationDuplicate,
	})

	reconcileResult, err := reconcile.Reconcile(ctx, client, result.Header, schema, reconcile.Options{
		DeclaredTypes:              cfg.DeclaredTypes,
		InferredTypes:              inferred,
		RenameKeyColumn:            cfg.RenameKeyColumn,
		AddMissingColumns:          cfg.AddMissingColumns,
		FailOnMissingColumn:        cfg.FailOnMissingColumn,
		FailOnUnsettableColumn:     cfg.FailOnUnsettableColumn,
		AddMissingRelations:        cfg.AddMissingRelations,
		FailOnInaccessibleRelation: cfg.FailOnInaccessibleRelation,
	}, relationResolver)
	if err != nil {
		return RunReport{}, fmt.Errorf("reconcile schema: %w", err)
	}
	for _, w := range reconcileResult.Warnings {
		logger.Warn(w)
	}

	files := fileup.NewCache(client, result.Dir)
	var captioner *caption.Provider
	if cfg.CaptionProviderURL != "" {
		captioner = caption.NewProvider(cfg.CaptionProviderURL, cfg.CaptionProviderModel, cfg.CaptionProviderKey)
	}

	conv := convertrow.NewConverter(reconcileResult.Columns, cfg.ImageBinding, relationResolver, files, captioner, client, convertrow.Options{
		FailOnConversionError: cfg.FailOnConversionError,
		FailOnBadStatus:       cfg.FailOnBadStatus,
		RandomizeSelectColors: cfg.RandomizeSelectColors,
	})

	var keyIndex *uploader.KeyIndex
	if cfg.Merge {
		remoteRows, err := client.QueryAllRows(ctx, 100)
		if err != nil {
			return RunReport{}, fmt.Errorf("query existing rows for merge: %w", err)
		}
		keyIndex = uploader.NewKeyIndex(remoteRows)
	}
	up := uploader.NewUploader(client, keyIndex, uploader.Options{
		Merge:            cfg.Merge,
		MergeOnlyColumns: cfg.MergeOnlyColumns,
		MergeSkipNew:     cfg.MergeSkipNew,
		KeyColumn:        reconcileResult.Columns[0].InputName,
	})

	jobs := make([]dispatch.Job[reader.Row], len(rows))
	for i, r := range rows {
		jobs[i] = dispatch.Job[reader.Row]{Index: i, Item: r}
	}

	var report RunReport
	work := func(ctx context.Context, job dispatch.Job[reader.Row]) (dispatch.Outcome, error) {
		cellByColumn := make(map[string]string, len(result.Header))
		for i, name := range result.Header {
			if i < len(job.Item.Values) {
				cellByColumn[name] = job.Item.Values[i]
			}
		}

		converted, err := conv.Convert(ctx, cellByColumn)
		if err != nil {
			// A conversion error (a cell under cfg.FailOnConversionError, an
			// unknown status under cfg.FailOnBadStatus, or an image/icon that
			// cannot be resolved) fails this row only; the remaining rows are
			// still processed and the run exits 1 (§7).
			return dispatch.OutcomeNone, err
		}

		keyValue := convert.CleanCell(cellByColumn[result.Header[0]])
		_, outcome, err := up.Upload(ctx, keyValue, converted)
		if err != nil {
			return dispatch.OutcomeNone, err
		}

		switch outcome {
		case uploader.OutcomeInserted:
			return dispatch.OutcomeInserted, nil
		case uploader.OutcomeUpdated:
			return dispatch.OutcomeUpdated, nil
		case uploader.OutcomeSkipped:
			return dispatch.OutcomeSkipped, nil
		}
		return dispatch.OutcomeNone, nil
	}

	isFatal := func(err error) bool {
		_, ok := err.(*fatalRowError)
		return ok
	}

	dispatchResult, err := dispatch.Run(ctx, jobs, cfg.Concurrency, work, isFatal, cfg.OnProgress)
	report.Total = len(rows)
	report.Inserted = dispatchResult.Progress.Inserted
	report.Updated = dispatchResult.Progress.Updated
	report.Skipped = dispatchResult.Progress.Skipped
	report.Failed = len(dispatchResult.Failures)
	report.Failures = dispatchResult.Failures
	report.Duration = time.Since(start)

	if err != nil {
		return report, fmt.Errorf("dispatch cancelled: %w", err)
	}

	if report.Failed > 0 {
		report.ExitCode = 1
	}
	return report, nil
}

// deleteAllRows archives every existing row in the target database before
// new rows are dispatched (--delete-all-database-entries). It runs
// sequentially: this is a rare, destructive, one-shot operation, not a hot
// path worth a worker pool.
func deleteAllRows(ctx context.Context, client remote.Client, logger *slog.Logger) error {
	rows, err := client.QueryAllRows(ctx, 100)
	if err != nil {
		return fmt.Errorf("query existing rows: %w", err)
	}
	for _, row := range rows {
		if err := client.ArchiveRow(ctx, row.PageID); err != nil {
			return fmt.Errorf("archive row %s: %w", row.PageID, err)
		}
	}
	logger.Info("archived existing rows before import", "count", len(rows))
	return nil
}

func needsInference(cfg RunConfig) bool {
	// Only worth pre-scanning every cell when at least one column might end up
	// auto-detected: either no types were declared at all, or missing columns
	// may be added without a declared type.
	return len(cfg.DeclaredTypes) == 0 || cfg.AddMissingColumns
}

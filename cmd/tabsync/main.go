// Command tabsync imports a CSV or JSON file into a hosted database view,
// reconciling its schema and uploading rows concurrently (SPEC_FULL.md §6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cortadolabs/tabsync/internal/catalog"
	"github.com/cortadolabs/tabsync/internal/config"
	"github.com/cortadolabs/tabsync/internal/convertrow"
	"github.com/cortadolabs/tabsync/internal/dispatch"
	"github.com/cortadolabs/tabsync/internal/logging"
	"github.com/cortadolabs/tabsync/internal/pipeline"
	"github.com/cortadolabs/tabsync/internal/reader"
	"github.com/cortadolabs/tabsync/internal/reconcile"
	"github.com/cortadolabs/tabsync/internal/remote"
	"github.com/cortadolabs/tabsync/internal/report"
	"github.com/cortadolabs/tabsync/internal/web"
)

// flags mirrors every CLI surface of §6 as one flat struct, matching how
// other single-command tools in the ecosystem carry their flags alongside
// the cobra.Command that populates them.
type flags struct {
	token     string
	targetURL string
	workspace string

	maxThreads int
	logPath    string
	verbose    bool
	configPath string

	columnTypes           string
	addMissingColumns     bool
	renameKeyFrom         string
	renameKeyTo           string
	randomizeSelectColors bool

	merge            bool
	mergeOnlyColumns []string
	mergeSkipNew     bool

	addMissingRelations bool

	imageColumns        []string
	imageColumnKeep     bool
	imageColumnMode     string
	imageCaptionColumn  string
	imageCaptionKeep    bool
	iconColumn          string
	iconColumnKeep      bool
	defaultIcon         string
	mandatoryColumns    []string
	payloadKeyColumn    string
	deleteAllEntries    bool
	diagnosticsAddr     string
	htmlReportPath      string

	aiCaptionColumn string
	aiCaptionTarget string

	captionProviderURL   string
	captionProviderModel string
	captionProviderKey   string

	failOnDuplicateColumns     bool
	failOnConversionError      bool
	failOnInaccessibleRelation bool
	failOnMissingColumn        bool
	failOnUnsettableColumn     bool
	failOnBadStatus            bool
	failOnRelationDuplicate    bool
}

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Overload(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}

	f := &flags{}
	cmd := &cobra.Command{
		Use:     "tabsync <input-file>",
		Short:   "Import a CSV or JSON file into a hosted database view",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], f)
		},
	}

	bindFlags(cmd, f)

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}

func bindFlags(cmd *cobra.Command, f *flags) {
	fl := cmd.Flags()

	fl.StringVar(&f.token, "token", os.Getenv("TABSYNC_TOKEN"), "integration token for the hosted service")
	fl.StringVar(&f.targetURL, "url", "", "target database view URL")
	fl.StringVar(&f.workspace, "workspace", "", "workspace name, for logging only")

	fl.IntVar(&f.maxThreads, "max-threads", 0, "worker concurrency (0 uses the configured default)")
	fl.StringVar(&f.logPath, "log", "", "write logs to this file instead of stdout")
	fl.BoolVar(&f.verbose, "verbose", false, "enable debug-level logging")
	fl.StringVar(&f.configPath, "config", "", "path to a TOML config file")

	fl.StringVar(&f.columnTypes, "column-types", "", "comma-separated Name=type overrides, e.g. Age=number,Tags=multi_select")
	fl.BoolVar(&f.addMissingColumns, "add-missing-columns", false, "create remote properties for input columns the schema lacks")
	fl.StringVar(&f.renameKeyFrom, "rename-key-column", "", "rename the remote title property: old name (paired with the value below)")
	fl.StringVar(&f.renameKeyTo, "rename-key-column-to", "", "rename the remote title property: new name")
	fl.BoolVar(&f.randomizeSelectColors, "randomize-select-colors", false, "assign a random color to any select/multi_select option this run creates")

	fl.BoolVar(&f.merge, "merge", false, "upsert by key column instead of always inserting")
	fl.StringSliceVar(&f.mergeOnlyColumns, "merge-only-column", nil, "restrict merge updates to this column (repeatable)")
	fl.BoolVar(&f.mergeSkipNew, "merge-skip-new", false, "skip input rows whose key has no existing match instead of inserting them")

	fl.BoolVar(&f.addMissingRelations, "add-missing-relations", false, "create a linked row when a relation value has no match")

	fl.StringSliceVar(&f.imageColumns, "image-column", nil, "column holding a local image path or URL (repeatable)")
	fl.BoolVar(&f.imageColumnKeep, "image-column-keep", false, "keep image columns as ordinary properties in addition to binding them")
	fl.StringVar(&f.imageColumnMode, "image-column-mode", "cover", "how an image column is bound: cover or block")
	fl.StringVar(&f.imageCaptionColumn, "image-caption-column", "", "column holding a caption for the bound image")
	fl.BoolVar(&f.imageCaptionKeep, "image-caption-column-keep", false, "keep the caption column as an ordinary property too")
	fl.StringVar(&f.iconColumn, "icon-column", "", "column holding a page icon: a URL is used as an external icon, any other value as emoji text (local files are not uploaded)")
	fl.BoolVar(&f.iconColumnKeep, "icon-column-keep", false, "keep the icon column as an ordinary property too")
	fl.StringVar(&f.defaultIcon, "default-icon", "", "icon to use when the icon column is empty")
	fl.StringSliceVar(&f.mandatoryColumns, "mandatory-column", nil, "fail before importing when this column is missing from the input header (repeatable); empty cells are not checked")
	fl.StringVar(&f.payloadKeyColumn, "payload-key-column", "", "JSON object key that supplies the title column, ordered first")
	fl.BoolVar(&f.deleteAllEntries, "delete-all-database-entries", false, "archive every existing row before importing")
	fl.StringVar(&f.diagnosticsAddr, "diagnostics-addr", "", "serve /healthz and /progress on this address during the run")
	fl.StringVar(&f.htmlReportPath, "html-report", "", "write an HTML summary of the run to this path")

	fl.StringVar(&f.aiCaptionColumn, "ai-caption-column", "", "image-source column to caption via the captioning provider")
	fl.StringVar(&f.aiCaptionTarget, "ai-caption-target", "", "text column the generated caption is written into")

	fl.StringVar(&f.captionProviderURL, "caption-provider-url", "", "endpoint of an image captioning provider")
	fl.StringVar(&f.captionProviderModel, "caption-provider-model", "", "model name passed to the captioning provider")
	fl.StringVar(&f.captionProviderKey, "caption-provider-key", os.Getenv("TABSYNC_CAPTION_KEY"), "API key for the captioning provider")

	fl.BoolVar(&f.failOnDuplicateColumns, "fail-on-duplicate-columns", false, "fail instead of de-duplicating repeated CSV header names")
	fl.BoolVar(&f.failOnConversionError, "fail-on-conversion-error", false, "fail a row whose cell cannot be converted, instead of writing an empty value")
	fl.BoolVar(&f.failOnInaccessibleRelation, "fail-on-inaccessible-relation", false, "fail when a relation column's linked database can't be read")
	fl.BoolVar(&f.failOnMissingColumn, "fail-on-missing-column", false, "fail when an input column has no matching remote property")
	fl.BoolVar(&f.failOnUnsettableColumn, "fail-on-unsettable-column", false, "fail when an input column maps to a read-only remote property")
	fl.BoolVar(&f.failOnBadStatus, "fail-on-wrong-status-value", false, "fail a row whose status value isn't one of the property's options")
	fl.BoolVar(&f.failOnRelationDuplicate, "fail-on-relation-duplicate", false, "fail when a relation value matches more than one linked row")
}

func run(inputPath string, f *flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if f.verbose {
		level = "debug"
	}
	logging.Setup(level, cfg.Logging.Format)
	logger := slog.Default()
	if f.logPath != "" {
		logFile, err := os.OpenFile(f.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		logger = slog.New(slog.NewTextHandler(logFile, nil))
	}

	declaredTypes, err := parseColumnTypes(f.columnTypes)
	if err != nil {
		return fmt.Errorf("--column-types: %w", err)
	}

	var rename *reconcile.KeyRename
	if f.renameKeyFrom != "" || f.renameKeyTo != "" {
		if f.renameKeyTo == "" {
			return fmt.Errorf("--rename-key-column requires --rename-key-column-to")
		}
		rename = &reconcile.KeyRename{NewName: f.renameKeyTo}
	}

	imageMode := convertrow.ImageCover
	if f.imageColumnMode == "block" {
		imageMode = convertrow.ImageBlock
	} else if f.imageColumnMode != "" && f.imageColumnMode != "cover" {
		return fmt.Errorf("--image-column-mode must be cover or block, got %q", f.imageColumnMode)
	}

	retry := remote.DefaultRetryConfig()
	retry.MaxRetries = cfg.HTTP.MaxRetries
	retry.WritesPerSecond = cfg.HTTP.RateLimitPerSecond

	client, err := remote.NewHTTPClient(f.targetURL, f.token, retry)
	if err != nil {
		return fmt.Errorf("connect to target: %w", err)
	}
	logger.Info("starting import", "input", inputPath, "workspace", f.workspace)

	concurrency := f.maxThreads
	if concurrency <= 0 {
		concurrency = cfg.Run.MaxThreads
	}

	var progress *web.ProgressSnapshot
	var diagServer *web.Server
	diagAddr := f.diagnosticsAddr
	if diagAddr == "" {
		diagAddr = cfg.Diagnostics.Addr
	}
	if diagAddr != "" {
		progress = web.NewProgressSnapshot()
		diagServer = web.NewServer(progress, cfg.Diagnostics.TrustedProxies)
		go func() {
			if err := diagServer.Start(diagAddr); err != nil {
				logger.Error("diagnostics server stopped", "error", err)
			}
		}()
		logger.Info("diagnostics server listening", "addr", diagAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("received interrupt, cancelling run")
		cancel()
	}()

	var onProgress dispatch.ProgressCallback
	if progress != nil {
		onProgress = func(p dispatch.Progress) { progress.Store(p) }
	}

	runCfg := pipeline.RunConfig{
		InputPath: inputPath,
		Reader: reader.Options{
			PayloadKeyColumn: f.payloadKeyColumn,
			FailOnDuplicates: f.failOnDuplicateColumns,
			MandatoryColumns: f.mandatoryColumns,
		},
		DeclaredTypes:              declaredTypes,
		AddMissingColumns:          f.addMissingColumns,
		FailOnMissingColumn:        f.failOnMissingColumn,
		FailOnUnsettableColumn:     f.failOnUnsettableColumn,
		AddMissingRelations:        f.addMissingRelations,
		FailOnInaccessibleRelation: f.failOnInaccessibleRelation,
		FailOnRelationDuplicate:    f.failOnRelationDuplicate,
		RenameKeyColumn:            rename,
		Merge:                      f.merge,
		MergeOnlyColumns:           f.mergeOnlyColumns,
		MergeSkipNew:               f.mergeSkipNew,
		DeleteAllBeforeImport:      f.deleteAllEntries,
		RandomizeSelectColors:      f.randomizeSelectColors,
		ImageBinding: convertrow.ImageBinding{
			ImageColumns:      f.imageColumns,
			ImageKeep:         f.imageColumnKeep,
			ImageMode:         imageMode,
			CaptionColumn:     f.imageCaptionColumn,
			CaptionKeep:       f.imageCaptionKeep,
			IconColumn:        f.iconColumn,
			IconKeep:          f.iconColumnKeep,
			DefaultIcon:       f.defaultIcon,
			AICaptionImageCol: f.aiCaptionColumn,
			AICaptionTarget:   f.aiCaptionTarget,
		},
		FailOnConversionError: f.failOnConversionError,
		FailOnBadStatus:        f.failOnBadStatus,
		Concurrency:            concurrency,
		OnProgress:             onProgress,
		CaptionProviderURL:     f.captionProviderURL,
		CaptionProviderModel:   f.captionProviderModel,
		CaptionProviderKey:     f.captionProviderKey,
	}

	runReport, runErr := pipeline.Run(ctx, runCfg, client, logger)

	if diagServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Diagnostics.ShutdownTimeout)
		if err := diagServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("diagnostics server shutdown error", "error", err)
		}
		shutdownCancel()
	}

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		return runErr
	}

	logger.Info("run complete",
		"total", runReport.Total, "inserted", runReport.Inserted, "updated", runReport.Updated,
		"skipped", runReport.Skipped, "failed", runReport.Failed, "duration", runReport.Duration)

	if f.htmlReportPath != "" {
		if err := report.WriteFile(f.htmlReportPath, runReport, time.Now()); err != nil {
			logger.Warn("failed to write html report", "error", err)
		}
	}

	if runReport.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

// parseColumnTypes parses --column-types as comma-separated Name=type pairs,
// a format invented for this flag since no prior art for it exists to
// ground against: a list of assignments is the simplest thing a single
// string flag can carry for a map of this shape.
func parseColumnTypes(list string) (map[string]catalog.Type, error) {
	if list == "" {
		return nil, nil
	}
	types := make(map[string]catalog.Type)
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, typeStr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, expected Name=type", pair)
		}
		t, err := catalog.ParseType(strings.TrimSpace(typeStr))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		types[strings.TrimSpace(name)] = t
	}
	return types, nil
}

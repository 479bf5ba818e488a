// Package loader ingests dataset files from a directory through the bulk ingestion service.
package loader

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/coder/quartz"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/smallbiznis/cloudunify/internal/ingest/normalize"
	"github.com/smallbiznis/cloudunify/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 4
	// maxReportedRowErrors bounds the row errors kept per file in the report.
	maxReportedRowErrors = 50
)

var (
	ErrInputRequired        = errors.New("input directory is required")
	ErrOrganizationRequired = errors.New("organization id is required")
)

// Options configures one loader run.
type Options struct {
	Input          string
	OrganizationID string
	// CloudAccountID applies to every provider unless Accounts names one for it.
	CloudAccountID string
	Accounts       map[string]string
	DryRun         bool
	Concurrency    int
}

type Loader struct {
	svc   domain.Service
	rules *config.IngestRulesHolder
	clock quartz.Clock
	log   *zap.Logger
}

func New(svc domain.Service, rules *config.IngestRulesHolder, clock quartz.Clock, log *zap.Logger) *Loader {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{svc: svc, rules: rules, clock: clock, log: log.Named("loader")}
}

type parsedFile struct {
	rows []map[string]any
	err  error
}

// Run parses every dataset concurrently, then ingests them one file at a time in kind order.
// File-level failures are recorded in the report and do not stop the run.
func (l *Loader) Run(ctx context.Context, opts Options) (*Report, error) {
	if strings.TrimSpace(opts.Input) == "" {
		return nil, ErrInputRequired
	}
	if strings.TrimSpace(opts.OrganizationID) == "" {
		return nil, ErrOrganizationRequired
	}

	files, err := Discover(opts.Input)
	if err != nil {
		return nil, err
	}
	log := logger.WithOrg(l.log, opts.OrganizationID)

	report := newReport(opts, l.clock.Now().UTC())
	if len(files) == 0 {
		log.Warn("no dataset files found", zap.String("input", opts.Input))
		report.FinishedAt = l.clock.Now().UTC()
		return report, nil
	}

	parsed := make([]parsedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(opts.Concurrency))
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := ReadRows(file.Path)
			parsed[i] = parsedFile{rows: rows, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = l.clock.Now().UTC()
			return report, err
		}
		report.add(l.ingestFile(ctx, log, file, parsed[i], opts))
	}

	report.FinishedAt = l.clock.Now().UTC()
	log.Info("dataset load finished",
		zap.Int("files", len(report.Files)),
		zap.Int("failed_files", report.FailedFiles()),
		zap.Bool("dry_run", opts.DryRun),
	)
	return report, nil
}

func (l *Loader) ingestFile(ctx context.Context, log *zap.Logger, file File, parsed parsedFile, opts Options) FileReport {
	log = log.With(zap.String("file", file.Name), zap.String("kind", string(file.Kind)))
	fr := FileReport{
		Name: file.Name,
		Kind: file.Kind,
		Rows: len(parsed.rows),
	}

	if parsed.err != nil {
		fr.Error = parsed.err.Error()
		log.Error("dataset could not be read", zap.Error(parsed.err))
		return fr
	}
	if len(parsed.rows) == 0 {
		log.Info("dataset has no rows")
		return fr
	}

	fr.Provider = l.inferProvider(file.Name, parsed.rows)
	if fr.Provider == "" && file.Kind == domain.KindResources {
		fr.Skipped = len(parsed.rows)
		log.Warn("provider not inferred from file name or rows; skipping file")
		return fr
	}

	result, err := l.svc.Ingest(ctx, domain.BulkRequest{
		Kind:           file.Kind,
		Items:          parsed.rows,
		Source:         SourceLabel(file.Name),
		DryRun:         opts.DryRun,
		ProviderHint:   fr.Provider,
		OrganizationID: opts.OrganizationID,
		CloudAccountID: opts.CloudAccountID,
		CloudAccounts:  opts.Accounts,
	})
	if err != nil {
		var rejected *domain.RejectedBatchError
		if errors.As(err, &rejected) {
			fr.BatchID = rejected.BatchID
			fr.Skipped = len(parsed.rows)
			fr.RowErrors = truncateRowErrors(rejected.Errors)
			log.Warn("every row rejected", zap.Int("rows", len(parsed.rows)))
			return fr
		}
		var aborted *domain.AbortedBatchError
		if errors.As(err, &aborted) {
			fr.BatchID = aborted.BatchID
		}
		fr.Error = err.Error()
		log.Error("dataset ingestion failed", zap.Error(err))
		return fr
	}

	fr.BatchID = result.BatchID
	fr.Inserted = result.Inserted
	fr.Updated = result.Updated
	fr.Skipped = len(result.Errors)
	fr.RowErrors = truncateRowErrors(result.Errors)
	log.Info("dataset ingested",
		zap.String("batch_id", result.BatchID),
		zap.Int("inserted", fr.Inserted),
		zap.Int("updated", fr.Updated),
		zap.Int("skipped", fr.Skipped),
	)
	return fr
}

// inferProvider prefers the file name, then the first row naming a recognisable provider.
func (l *Loader) inferProvider(name string, rows []map[string]any) string {
	if provider := normalize.ProviderFromName(name); provider != "" {
		return provider
	}
	aliases := l.rules.Get().ProviderAliases
	for _, raw := range rows {
		row := normalize.Keys(raw)
		for _, field := range []string{"provider", "cloud_provider"} {
			value, ok := row[field]
			if !ok {
				continue
			}
			if provider, err := normalize.Provider(field, value, aliases); err == nil && provider != "" {
				return provider
			}
		}
	}
	return ""
}

// SourceLabel names a file-originated batch in events and logs.
func SourceLabel(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	label := slug.Make(base)
	if label == "" {
		label = "file"
	}
	return "loader:" + label
}

func truncateRowErrors(errs []domain.RowError) []domain.RowError {
	if len(errs) > maxReportedRowErrors {
		return errs[:maxReportedRowErrors]
	}
	return errs
}

func concurrency(n int) int {
	if n <= 0 {
		return DefaultConcurrency
	}
	return n
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/smallbiznis/cloudunify/internal/clock"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/idgen"
	"github.com/smallbiznis/cloudunify/internal/ingest"
	"github.com/smallbiznis/cloudunify/internal/jobmetrics"
	"github.com/smallbiznis/cloudunify/internal/loader"
	"github.com/smallbiznis/cloudunify/internal/migration"
	"github.com/smallbiznis/cloudunify/internal/observability"
	"github.com/smallbiznis/cloudunify/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type loadOptions struct {
	input          string
	org            string
	cloudAccountID string
	accountAWS     string
	accountAzure   string
	accountGCP     string
	dryRun         bool
	reportJSON     string
	reportMD       string
	reportPDF      string
	concurrency    int
	maxItems       int
	nodeID         int64
	otel           bool
}

func newLoadCmd() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Ingest every .xlsx, .csv and .json dataset in a directory",
		Long: "Files whose name contains \"recommendation\" load as recommendations, names containing \"cost\" as costs,\n" +
			"everything else as resources. Resources load first so recommendations can link to them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.input, "input", "", "directory containing the dataset files (required)")
	flags.StringVar(&opts.org, "org", "", "organization id for rows that do not name one (required)")
	flags.StringVar(&opts.cloudAccountID, "cloud-account-id", "", "cloud account id for every provider without a specific account")
	flags.StringVar(&opts.accountAWS, "account-aws", "", "cloud account id for aws rows")
	flags.StringVar(&opts.accountAzure, "account-azure", "", "cloud account id for azure rows")
	flags.StringVar(&opts.accountGCP, "account-gcp", "", "cloud account id for gcp rows")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "run the full pipeline, report the counts and roll back")
	flags.StringVar(&opts.reportJSON, "report-json", "", "write a JSON report to this path")
	flags.StringVar(&opts.reportMD, "report-md", "", "write a Markdown report to this path")
	flags.StringVar(&opts.reportPDF, "report-pdf", "", "write a PDF report to this path")
	flags.IntVar(&opts.concurrency, "concurrency", loader.DefaultConcurrency, "files parsed in parallel")
	flags.IntVar(&opts.maxItems, "max-items", 0, "rows accepted per file (default INGEST_MAX_ITEMS)")
	flags.Int64Var(&opts.nodeID, "node-id", 2, "snowflake node id; keep distinct from running API servers")
	flags.BoolVar(&opts.otel, "otel", false, "export traces and metrics over OTLP")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func (o loadOptions) accounts() map[string]string {
	accounts := map[string]string{}
	for provider, id := range map[string]string{"aws": o.accountAWS, "azure": o.accountAzure, "gcp": o.accountGCP} {
		if id = strings.TrimSpace(id); id != "" {
			accounts[provider] = id
		}
	}
	return accounts
}

func runLoad(ctx context.Context, out io.Writer, opts loadOptions) error {
	if info, err := os.Stat(opts.input); err != nil || !info.IsDir() {
		return withCode(exitUsage, fmt.Errorf("--input %q is not a directory", opts.input))
	}
	if strings.TrimSpace(opts.org) == "" {
		return withCode(exitUsage, errors.New("--org is required"))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		ld     *loader.Loader
		pusher jobmetrics.Pusher
		log    *zap.Logger
	)
	app := fx.New(
		config.Module,
		observability.Module,
		clock.Module,
		idgen.Module,
		db.Module,
		migration.Module,
		ingest.Module,
		jobmetrics.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.NodeID = opts.nodeID
			if opts.maxItems > 0 {
				cfg.Ingest.MaxItems = opts.maxItems
			}
			return cfg
		}),
		fx.Decorate(func(cfg observability.Config) observability.Config {
			cfg.OtelEnabled = opts.otel
			return cfg
		}),
		fx.Provide(loader.New),
		fx.Populate(&ld, &pusher, &log),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return withCode(exitStartup, err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return withCode(exitStartup, err)
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancelStop()
		_ = app.Stop(stopCtx)
	}()

	report, err := ld.Run(ctx, loader.Options{
		Input:          opts.input,
		OrganizationID: opts.org,
		CloudAccountID: opts.cloudAccountID,
		Accounts:       opts.accounts(),
		DryRun:         opts.dryRun,
		Concurrency:    opts.concurrency,
	})
	if report == nil {
		return withCode(exitUsage, err)
	}

	fmt.Fprintln(out, report.RenderTable())
	jobmetrics.PushLoaderReport(ctx, pusher, report, log)
	if werr := writeReports(report, opts); werr != nil {
		return withCode(exitReport, werr)
	}
	if err != nil {
		return withCode(exitFileFailure, err)
	}
	if failed := report.FailedFiles(); failed > 0 {
		return withCode(exitFileFailure, fmt.Errorf("%d of %d files failed", failed, len(report.Files)))
	}
	return nil
}

func writeReports(report *loader.Report, opts loadOptions) error {
	outputs := []struct {
		path  string
		write func(io.Writer) error
	}{
		{opts.reportJSON, report.WriteJSON},
		{opts.reportMD, report.WriteMarkdown},
		{opts.reportPDF, report.WritePDF},
	}
	for _, output := range outputs {
		if strings.TrimSpace(output.path) == "" {
			continue
		}
		if err := writeReportFile(output.path, output.write); err != nil {
			return fmt.Errorf("write report %s: %w", output.path, err)
		}
	}
	return nil
}

func writeReportFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

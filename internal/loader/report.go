package loader

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
)

// Counts are row outcomes. Skipped rows were rejected or never sent.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (c *Counts) plus(o Counts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
}

type FileReport struct {
	Name     string      `json:"file"`
	Kind     domain.Kind `json:"kind"`
	Provider string      `json:"provider,omitempty"`
	BatchID  string      `json:"batch_id,omitempty"`
	Rows     int         `json:"rows"`
	Counts
	Error     string            `json:"error,omitempty"`
	RowErrors []domain.RowError `json:"row_errors,omitempty"`
}

type Report struct {
	Input          string                 `json:"input"`
	OrganizationID string                 `json:"organization_id"`
	DryRun         bool                   `json:"dry_run"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
	Files          []FileReport           `json:"files"`
	Totals         map[domain.Kind]Counts `json:"totals"`
}

func newReport(opts Options, started time.Time) *Report {
	totals := make(map[domain.Kind]Counts, len(kindOrder))
	for _, kind := range kindOrder {
		totals[kind] = Counts{}
	}
	return &Report{
		Input:          opts.Input,
		OrganizationID: opts.OrganizationID,
		DryRun:         opts.DryRun,
		StartedAt:      started,
		Files:          []FileReport{},
		Totals:         totals,
	}
}

func (r *Report) add(fr FileReport) {
	r.Files = append(r.Files, fr)
	total := r.Totals[fr.Kind]
	total.plus(fr.Counts)
	r.Totals[fr.Kind] = total
}

// FailedFiles counts files that could not be read or stored.
func (r *Report) FailedFiles() int {
	failed := 0
	for _, f := range r.Files {
		if f.Error != "" {
			failed++
		}
	}
	return failed
}

func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *Report) WriteMarkdown(w io.Writer) error {
	var b strings.Builder
	b.WriteString("# Dataset ingestion report\n\n")
	fmt.Fprintf(&b, "- Input: `%s`\n", r.Input)
	fmt.Fprintf(&b, "- Organization: `%s`\n", r.OrganizationID)
	fmt.Fprintf(&b, "- Dry run: %t\n", r.DryRun)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Finished: %s\n\n", r.FinishedAt.Format(time.RFC3339))

	b.WriteString("## Files\n\n")
	b.WriteString("| File | Kind | Provider | Rows | Inserted | Updated | Skipped | Error |\n")
	b.WriteString("|---|---|---|---:|---:|---:|---:|---|\n")
	for _, f := range r.Files {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d | %d | %s |\n",
			markdownCell(f.Name), f.Kind, f.Provider, f.Rows, f.Inserted, f.Updated, f.Skipped, markdownCell(f.Error))
	}

	b.WriteString("\n## Totals\n\n")
	b.WriteString("| Table | Inserted | Updated | Skipped |\n")
	b.WriteString("|---|---:|---:|---:|\n")
	for _, kind := range kindOrder {
		total := r.Totals[kind]
		fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", kind, total.Inserted, total.Updated, total.Skipped)
	}

	var withErrors []FileReport
	for _, f := range r.Files {
		if len(f.RowErrors) > 0 {
			withErrors = append(withErrors, f)
		}
	}
	if len(withErrors) > 0 {
		b.WriteString("\n## Row errors\n")
		for _, f := range withErrors {
			fmt.Fprintf(&b, "\n### %s\n\n", f.Name)
			for _, rowErr := range f.RowErrors {
				fmt.Fprintf(&b, "- row %d: %s\n", rowErr.Index, rowErr.Message)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func markdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", `\|`)
	return strings.ReplaceAll(value, "\n", " ")
}

// RenderTable formats the per-file summary for a terminal.
func (r *Report) RenderTable() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"file", "kind", "provider", "rows", "inserted", "updated", "skipped", "error"})
	for _, f := range r.Files {
		tw.AppendRow(table.Row{f.Name, f.Kind, f.Provider, f.Rows, f.Inserted, f.Updated, f.Skipped, f.Error})
	}
	tw.AppendSeparator()
	for _, kind := range kindOrder {
		total := r.Totals[kind]
		tw.AppendRow(table.Row{"total", kind, "", "", total.Inserted, total.Updated, total.Skipped, ""})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "rows", Align: text.AlignRight},
		{Name: "inserted", Align: text.AlignRight},
		{Name: "updated", Align: text.AlignRight},
		{Name: "skipped", Align: text.AlignRight},
		{Name: "error", WidthMax: 60},
	})
	return tw.Render()
}

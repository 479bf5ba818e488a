package loader

import (
	"fmt"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// WritePDF renders the report as a printable summary.
func (r *Report) WritePDF(w io.Writer) error {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, "Dataset ingestion report", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	dryRun := "no"
	if r.DryRun {
		dryRun = "yes (rolled back)"
	}
	m.AddRow(24,
		col.New(12).Add(
			text.New("Input: "+r.Input, props.Text{Size: 9}),
			text.New("Organization: "+r.OrganizationID, props.Text{Size: 9, Top: 5}),
			text.New("Dry run: "+dryRun, props.Text{Size: 9, Top: 10}),
			text.New("Finished: "+r.FinishedAt.Format(time.RFC3339), props.Text{Size: 9, Top: 15}),
		),
	)

	header := props.Text{Style: fontstyle.Bold, Size: 9}
	numberHeader := props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}
	cell := props.Text{Size: 8}
	numberCell := props.Text{Size: 8, Align: align.Right}

	m.AddRow(10,
		text.NewCol(4, "File", header),
		text.NewCol(2, "Kind", header),
		text.NewCol(1, "Provider", header),
		text.NewCol(1, "Rows", numberHeader),
		text.NewCol(1, "Inserted", numberHeader),
		text.NewCol(1, "Updated", numberHeader),
		text.NewCol(1, "Skipped", numberHeader),
		text.NewCol(1, "Status", header),
	)
	for _, f := range r.Files {
		status := "ok"
		if f.Error != "" {
			status = "failed"
		}
		m.AddRow(8,
			text.NewCol(4, f.Name, cell),
			text.NewCol(2, string(f.Kind), cell),
			text.NewCol(1, f.Provider, cell),
			text.NewCol(1, fmt.Sprintf("%d", f.Rows), numberCell),
			text.NewCol(1, fmt.Sprintf("%d", f.Inserted), numberCell),
			text.NewCol(1, fmt.Sprintf("%d", f.Updated), numberCell),
			text.NewCol(1, fmt.Sprintf("%d", f.Skipped), numberCell),
			text.NewCol(1, status, cell),
		)
	}

	m.AddRow(14,
		text.NewCol(12, "Totals", props.Text{Size: 12, Style: fontstyle.Bold, Top: 5}),
	)
	for _, kind := range kindOrder {
		total := r.Totals[kind]
		m.AddRow(8,
			text.NewCol(6, string(kind), cell),
			text.NewCol(2, fmt.Sprintf("%d inserted", total.Inserted), numberCell),
			text.NewCol(2, fmt.Sprintf("%d updated", total.Updated), numberCell),
			text.NewCol(2, fmt.Sprintf("%d skipped", total.Skipped), numberCell),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return err
	}
	_, err = w.Write(doc.GetBytes())
	return err
}

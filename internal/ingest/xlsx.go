package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/subletwatch/subletwatch/internal/model"
)

// ExtractPropertiesXLSX reads an Excel workbook and runs the first sheet's
// rows through the same extraction path as CSV text. Cells are joined with
// commas so the postcode scanner sees one line per row.
func ExtractPropertiesXLSX(path string) ([]model.Property, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			cells = append(cells, strings.TrimSpace(c.String()))
		}
		b.WriteString(strings.Join(cells, ", "))
		b.WriteByte('\n')
	}

	return ExtractProperties(b.String()), nil
}

package report

import (
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/xuri/excelize/v2"
)

const indexSheet = "Charts"

// IndexRow is one scanned stock in the spreadsheet index
type IndexRow struct {
	Name     string // company name, empty if the chart was not captured
	URL      string
	Included bool // chart made it into the pdf
}

// Index builds an XLSX workbook listing every scanned stock and whether its chart is in the report
func (a *Assembler) Index(rows []IndexRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("[WARN] failed to close workbook: %v", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", indexSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(indexSheet, "A1", &[]any{"#", "Company", "URL", "Included"}); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to make header style: %w", err)
	}
	if err := f.SetCellStyle(indexSheet, "A1", "D1", bold); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("bad cell for row %d: %w", i, err)
		}
		included := "no"
		if r.Included {
			included = "yes"
		}
		if err := f.SetSheetRow(indexSheet, cell, &[]any{i + 1, r.Name, r.URL, included}); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
		if r.URL == "" {
			continue
		}
		urlCell, _ := excelize.CoordinatesToCellName(3, i+2)
		if err := f.SetCellHyperLink(indexSheet, urlCell, r.URL, "External"); err != nil {
			log.Printf("[DEBUG] can't set hyperlink for %s: %v", r.URL, err)
		}
	}

	widths := map[string]float64{"A": 6, "B": 40, "C": 60, "D": 10}
	for col, w := range widths {
		if err := f.SetColWidth(indexSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set width of %s: %w", col, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Package workbook reads ingredient input sheets and writes published
// record sheets in XLSX format.
package workbook

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/dlsd-labs/evidence-cli/internal/model"
)

// Input sheet column layout. The first row is a header.
const (
	colName = iota
	colSynonyms
	colKingdom
	colLinks
)

// Options configures which sheet of the workbook to read.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // header rows to skip, default 1
}

// ReadIngredients loads ingredient rows from an XLSX workbook. Rows
// with a blank name column are skipped. Row numbers are 1-based sheet
// positions so results can be traced back to the workbook.
func ReadIngredients(path string, opts Options) ([]model.IngredientRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "workbook: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	skip := opts.SkipRows
	if skip == 0 {
		skip = 1
	}

	var rows []model.IngredientRow
	for i, row := range sheet.Rows {
		if i < skip {
			continue
		}
		cells := rowToStrings(row)
		name := cellAt(cells, colName)
		if name == "" {
			continue
		}
		rows = append(rows, model.IngredientRow{
			Row:           i + 1,
			Name:          name,
			Synonyms:      splitList(cellAt(cells, colSynonyms)),
			KingdomHint:   cellAt(cells, colKingdom),
			ExistingLinks: splitList(cellAt(cells, colLinks)),
		})
	}

	return rows, nil
}

// recordHeader is the output sheet column order.
var recordHeader = []string{
	"Name", "Localized Name", "Source Material", "Active Compounds",
	"Daily Dose", "Citations", "Evidence Level", "Completion %",
}

// WriteRecords writes published records to a new XLSX workbook.
func WriteRecords(path, sheetName string, records []model.PublishedRecord) error {
	if sheetName == "" {
		sheetName = "Records"
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "workbook: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range recordHeader {
		header.AddCell().Value = h
	}

	for _, r := range records {
		row := sheet.AddRow()
		for _, v := range []string{
			r.Name, r.LocalizedName, r.SourceMaterial, r.ActiveCompounds,
			r.DailyDose, r.Citations, r.EvidenceLevel,
			strconv.FormatFloat(r.Completion, 'f', 1, 64),
		} {
			row.AddCell().Value = v
		}
	}

	return eris.Wrap(f.Save(path), "workbook: save file")
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("workbook: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("workbook: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func cellAt(cells []string, idx int) string {
	if idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// splitList parses a semicolon-separated cell into trimmed entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

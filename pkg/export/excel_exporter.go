package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	excelMimeType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	excelSummarySheet   = "Summary"
	excelMaxSheetLength = 31
)

var sheetNameReplacer = strings.NewReplacer("[", "", "]", "", ":", "", "*", "", "?", "", "/", "-", "\\", "-")

// ExcelExporter renders a workbook with a Summary sheet followed by one sheet per
// non-empty section.
type ExcelExporter struct{}

// NewExcelExporter builds an Excel exporter.
func NewExcelExporter() *ExcelExporter {
	return &ExcelExporter{}
}

// Render produces xlsx bytes.
func (e *ExcelExporter) Render(data Dataset) ([]byte, string, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), excelSummarySheet); err != nil {
		return nil, "", fmt.Errorf("rename summary sheet: %w", err)
	}

	summary := [][]interface{}{
		{"Report", data.Title},
		{"Project", data.ProjectName()},
		{"Organization", data.Organization},
		{"Period", data.Period},
		{"Generated", formatGeneratedAt(data.GeneratedAt)},
		{},
		{"Statistics"},
		{"Diaries", data.Statistics.Diaries},
		{"Inspections", data.Statistics.Inspections},
		{"Failed inspections", data.Statistics.FailedInspections},
		{"NCRs", data.Statistics.NCRs},
		{"Open NCRs", data.Statistics.OpenNCRs},
	}
	if len(data.Totals) > 0 {
		summary = append(summary, []interface{}{}, []interface{}{"Totals"})
		for _, metric := range data.Totals {
			summary = append(summary, []interface{}{metric.Label, metric.Value})
		}
	}
	if err := writeSheetRows(f, excelSummarySheet, summary); err != nil {
		return nil, "", err
	}

	used := map[string]bool{excelSummarySheet: true}
	for _, section := range data.NonEmptySections() {
		name := uniqueSheetName(section.Title, used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, "", fmt.Errorf("create sheet %s: %w", name, err)
		}
		rows := make([][]interface{}, 0, len(section.Records)+1)
		header := make([]interface{}, len(section.Columns))
		for i, col := range section.Columns {
			header[i] = ColumnLabel(col)
		}
		rows = append(rows, header)
		for _, record := range section.Records {
			row := make([]interface{}, len(section.Columns))
			for i, col := range section.Columns {
				row[i] = excelValue(record[col])
			}
			rows = append(rows, row)
		}
		if err := writeSheetRows(f, name, rows); err != nil {
			return nil, "", err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), excelMimeType, nil
}

func writeSheetRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("resolve cell: %w", err)
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// SheetName sanitises a section title into a valid worksheet name.
func SheetName(title string) string {
	name := strings.TrimSpace(sheetNameReplacer.Replace(title))
	if name == "" {
		name = "Sheet"
	}
	runes := []rune(name)
	if len(runes) > excelMaxSheetLength {
		runes = runes[:excelMaxSheetLength]
	}
	return string(runes)
}

func uniqueSheetName(title string, used map[string]bool) string {
	base := SheetName(title)
	name := base
	for i := 2; used[name]; i++ {
		suffix := fmt.Sprintf(" %d", i)
		runes := []rune(base)
		if len(runes)+len(suffix) > excelMaxSheetLength {
			runes = runes[:excelMaxSheetLength-len(suffix)]
		}
		name = string(runes) + suffix
	}
	used[name] = true
	return name
}

func excelValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case string, float64, float32, int, int64, bool:
		return val
	default:
		return FormatValue(val)
	}
}

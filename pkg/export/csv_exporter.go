package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

const csvMimeType = "text/csv"

// CSVExporter renders a dataset as multi-section CSV: a metadata block, the
// statistics block, then one titled table per section.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	rows := [][]string{
		{"Report", data.Title},
		{"Project", data.ProjectName()},
		{"Organization", data.Organization},
	}
	if data.Period != "" {
		rows = append(rows, []string{"Period", data.Period})
	}
	rows = append(rows,
		[]string{"Generated", formatGeneratedAt(data.GeneratedAt)},
		[]string{},
		[]string{"Statistics"},
		[]string{"Diaries", strconv.Itoa(data.Statistics.Diaries)},
		[]string{"Inspections", strconv.Itoa(data.Statistics.Inspections)},
		[]string{"Failed inspections", strconv.Itoa(data.Statistics.FailedInspections)},
		[]string{"NCRs", strconv.Itoa(data.Statistics.NCRs)},
		[]string{"Open NCRs", strconv.Itoa(data.Statistics.OpenNCRs)},
	)
	if len(data.Totals) > 0 {
		rows = append(rows, []string{}, []string{"Totals"})
		for _, metric := range data.Totals {
			rows = append(rows, []string{metric.Label, metric.Value})
		}
	}
	if err := writeRows(writer, rows); err != nil {
		return nil, "", err
	}

	for _, section := range data.NonEmptySections() {
		if err := writeRows(writer, [][]string{{}, {section.Title}}); err != nil {
			return nil, "", err
		}
		if len(section.Columns) == 0 {
			continue
		}
		header := make([]string, len(section.Columns))
		for i, col := range section.Columns {
			header[i] = ColumnLabel(col)
		}
		if err := writer.Write(header); err != nil {
			return nil, "", fmt.Errorf("write csv headers: %w", err)
		}
		for _, record := range section.Records {
			line := make([]string, len(section.Columns))
			for i, col := range section.Columns {
				line[i] = flattenCell(FormatValue(record[col]))
			}
			if err := writer.Write(line); err != nil {
				return nil, "", fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), csvMimeType, nil
}

func writeRows(writer *csv.Writer, rows [][]string) error {
	for _, row := range rows {
		for i := range row {
			row[i] = flattenCell(row[i])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return nil
}

// flattenCell keeps every record on a single line.
func flattenCell(value string) string {
	value = strings.ReplaceAll(value, "\r\n", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "\r", " ")
}

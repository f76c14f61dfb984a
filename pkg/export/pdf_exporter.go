package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMimeType            = "application/pdf"
	defaultPDFPreviewLimit = 15
	pdfMaxPreviewColumns   = 5
	pdfContentWidth        = 180.0
)

// PDFExporter renders a fixed one-report template: title, metadata, statistics and
// a bounded preview of the primary section.
type PDFExporter struct {
	previewLimit int
}

// NewPDFExporter constructs a PDF exporter. previewLimit <= 0 selects the default.
func NewPDFExporter(previewLimit int) *PDFExporter {
	if previewLimit <= 0 {
		previewLimit = defaultPDFPreviewLimit
	}
	return &PDFExporter{previewLimit: previewLimit}
}

// Render creates the PDF document.
func (e *PDFExporter) Render(data Dataset) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle(data.Title, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(data.Title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	meta := [][2]string{
		{"Project", data.ProjectName()},
		{"Organization", data.Organization},
		{"Period", data.Period},
		{"Generated", formatGeneratedAt(data.GeneratedAt)},
	}
	for _, line := range meta {
		if line[1] == "" {
			continue
		}
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s: %s", line[0], line[1])), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Statistics", "B", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	stats := []string{
		fmt.Sprintf("Diaries: %d", data.Statistics.Diaries),
		fmt.Sprintf("Inspections: %d", data.Statistics.Inspections),
		fmt.Sprintf("Failed inspections: %d", data.Statistics.FailedInspections),
		fmt.Sprintf("NCRs: %d", data.Statistics.NCRs),
		fmt.Sprintf("Open NCRs: %d", data.Statistics.OpenNCRs),
	}
	for _, line := range stats {
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}

	if len(data.Totals) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, "Totals", "B", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, metric := range data.Totals {
			pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s: %s", metric.Label, metric.Value)), "", 1, "L", false, 0, "")
		}
	}

	if section, ok := data.Primary(); ok {
		e.renderPreview(pdf, tr, section)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, "", fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), pdfMimeType, nil
}

func (e *PDFExporter) renderPreview(pdf *gofpdf.Fpdf, tr func(string) string, section Section) {
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, tr(section.Title), "B", 1, "L", false, 0, "")
	if len(section.Records) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 6, "No records in this period.", "", 1, "L", false, 0, "")
		return
	}

	columns := previewColumns(section.Columns)
	colWidth := pdfContentWidth / float64(len(columns))

	pdf.SetFont("Arial", "B", 9)
	for _, col := range columns {
		pdf.CellFormat(colWidth, 7, tr(fitText(pdf, ColumnLabel(col), colWidth)), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	shown := section.Records
	if len(shown) > e.previewLimit {
		shown = shown[:e.previewLimit]
	}
	for _, record := range shown {
		for _, col := range columns {
			value := strings.ReplaceAll(FormatValue(record[col]), "\n", " ")
			pdf.CellFormat(colWidth, 6, tr(fitText(pdf, value, colWidth)), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if remaining := len(section.Records) - len(shown); remaining > 0 {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("... and %d more", remaining), "", 1, "L", false, 0, "")
	}
}

func previewColumns(columns []string) []string {
	out := make([]string, 0, pdfMaxPreviewColumns)
	for _, col := range columns {
		if col == "id" || col == "organization_id" || col == "project_id" || col == "diary_id" {
			continue
		}
		out = append(out, col)
		if len(out) == pdfMaxPreviewColumns {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, "id")
	}
	return out
}

// fitText truncates value so it fits within width at the current font.
func fitText(pdf *gofpdf.Fpdf, value string, width float64) string {
	limit := width - 2
	if pdf.GetStringWidth(value) <= limit {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

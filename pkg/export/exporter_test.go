package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	pdf "github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset(diaryCount int) Dataset {
	diaries := make([]map[string]interface{}, 0, diaryCount)
	for i := 0; i < diaryCount; i++ {
		diaries = append(diaries, map[string]interface{}{
			"id":         fmt.Sprintf("diary-%d", i),
			"diary_date": fmt.Sprintf("2024-03-%02d", i%28+1),
			"weather":    "Fine",
			"summary":    "Poured slab, level 2",
			"status":     "submitted",
		})
	}
	return Dataset{
		Kind:         "project_summary",
		Title:        "Project Summary",
		Organization: "org-1",
		Project:      map[string]interface{}{"id": "proj-1", "name": "Harbour Tower", "code": "HT-01"},
		Period:       "2024-03-01 to 2024-03-31",
		GeneratedAt:  time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
		Statistics:   Statistics{Diaries: diaryCount},
		Sections: []Section{
			{Key: "diaries", Title: "Daily Diaries", Columns: []string{"id", "diary_date", "weather", "summary", "status"}, Records: diaries},
			{Key: "ncrs", Title: "Non-Conformance Reports", Columns: []string{"ncr_number", "title"}, Records: []map[string]interface{}{}},
		},
		PrimarySection: "diaries",
	}
}

func extractPDFText(t *testing.T, data []byte) string {
	t.Helper()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var builder strings.Builder
	for page := 1; page <= doc.NumPage(); page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		require.NoError(t, err)
		builder.WriteString(content)
	}
	return strings.ReplaceAll(builder.String(), " ", "")
}

func TestPDFExporterEmptyProjectShowsZeroCounts(t *testing.T) {
	data, mime, err := NewPDFExporter(0).Render(sampleDataset(0))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", mime)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	text := extractPDFText(t, data)
	require.Contains(t, text, "Diaries:0")
	require.Contains(t, text, "Inspections:0")
	require.Contains(t, text, "NCRs:0")
}

func TestPDFExporterBoundsPreview(t *testing.T) {
	data, _, err := NewPDFExporter(15).Render(sampleDataset(20))
	require.NoError(t, err)

	text := extractPDFText(t, data)
	require.Contains(t, text, "Diaries:20")
	require.Contains(t, text, "...and5more")
	require.Contains(t, text, "2024-03-15")
	require.NotContains(t, text, "2024-03-16")
}

func TestCSVExporterWritesSectionsOnSingleLines(t *testing.T) {
	ds := sampleDataset(2)
	ds.Sections[0].Records[1]["summary"] = "Rain delay,\nno pour"

	data, mime, err := NewCSVExporter().Render(ds)
	require.NoError(t, err)
	require.Equal(t, "text/csv", mime)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	require.NoError(t, err)

	require.Equal(t, []string{"Report", "Project Summary"}, rows[0])
	require.Equal(t, []string{"Project", "Harbour Tower (HT-01)"}, rows[1])
	require.Contains(t, rows, []string{"Diaries", "2"})
	require.Contains(t, rows, []string{"ID", "Diary Date", "Weather", "Summary", "Status"})
	require.Contains(t, rows, []string{"diary-1", "2024-03-02", "Fine", "Rain delay, no pour", "submitted"})
	require.NotContains(t, rows, []string{"Non-Conformance Reports"})
	require.NotContains(t, rows, []string{"NCR Number", "Title"})
	require.NotContains(t, string(data), "\nno pour")
}

func TestExcelExporterSheets(t *testing.T) {
	ds := sampleDataset(3)
	ds.Sections = append(ds.Sections, Section{
		Key:     "inspections",
		Title:   "Inspection and Test Plan Results For The Period",
		Columns: []string{"template_name", "status"},
		Records: []map[string]interface{}{{"template_name": "Formwork", "status": "passed"}},
	})

	data, mime, err := NewExcelExporter().Render(ds)
	require.NoError(t, err)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", mime)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Equal(t, "Summary", sheets[0])
	require.Contains(t, sheets, "Daily Diaries")
	require.NotContains(t, sheets, "Non-Conformance Reports")
	for _, name := range sheets {
		require.LessOrEqual(t, len([]rune(name)), 31)
	}

	rows, err := f.GetRows("Daily Diaries")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "Diary Date", rows[0][1])

	title, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	require.Equal(t, "Project Summary", title)
}

func TestJSONExporterPreservesSectionCounts(t *testing.T) {
	ds := sampleDataset(4)
	data, mime, err := NewJSONExporter().Render(ds)
	require.NoError(t, err)
	require.Equal(t, "application/json", mime)

	var decoded Dataset
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, ds.Title, decoded.Title)
	require.Equal(t, ds.Statistics, decoded.Statistics)
	require.Len(t, decoded.Sections, len(ds.Sections))
	for i := range ds.Sections {
		require.Len(t, decoded.Sections[i].Records, len(ds.Sections[i].Records))
	}
}

func TestSheetName(t *testing.T) {
	require.Equal(t, "Labour - Plant", SheetName("Labour / Plant"))
	require.Len(t, []rune(SheetName(strings.Repeat("x", 40))), 31)
	require.Equal(t, "Sheet", SheetName("[]"))
}

func TestColumnLabel(t *testing.T) {
	require.Equal(t, "NCR Number", ColumnLabel("ncr_number"))
	require.Equal(t, "Template ID", ColumnLabel("template_id"))
}

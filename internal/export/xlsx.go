package export

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/model"
)

// Sheet names of the exported workbook.
const (
	SheetReport  = "Report"
	SheetSources = "Sources"
)

var sourceHeader = []string{"#", "Title", "URL", "Domain", "Type", "Reliability", "Published"}

// XLSXExporter writes a report workbook with a section sheet and a sources
// sheet.
type XLSXExporter struct {
	Dir string
	now func() time.Time
}

// NewXLSXExporter creates an XLSXExporter. An empty dir uses DefaultDir.
func NewXLSXExporter(dir string) *XLSXExporter {
	if dir == "" {
		dir = DefaultDir
	}
	return &XLSXExporter{Dir: dir, now: time.Now}
}

// Name identifies the exporter in events and logs.
func (e *XLSXExporter) Name() string {
	return "file:" + string(FormatXLSX)
}

// Export implements pipeline.Exporter and returns the workbook path.
func (e *XLSXExporter) Export(ctx context.Context, r *model.Report, sources []model.Source) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(e.Dir, FileName(r.Query, FormatXLSX, e.now()))
	if err := WriteWorkbook(r, sources, path); err != nil {
		return "", err
	}
	zap.L().Info("export: workbook written",
		zap.String("report_id", r.ID),
		zap.String("path", path),
	)
	return path, nil
}

// WriteWorkbook saves the report and its sources as an xlsx file at path.
func WriteWorkbook(r *model.Report, sources []model.Source, path string) error {
	if r == nil {
		return eris.New("export: report is required")
	}
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetReport)
	if err != nil {
		return eris.Wrap(err, "xlsx: add report sheet")
	}
	addRow(sheet, "Field", "Value")
	addRow(sheet, "Query", r.Query)
	addRow(sheet, "Mode", string(r.Mode))
	addRow(sheet, "Confidence", strconv.FormatFloat(r.ConfidenceScore, 'f', 2, 64))
	if !r.CreatedAt.IsZero() {
		addRow(sheet, "Created", r.CreatedAt.UTC().Format(time.RFC3339))
	}
	for _, s := range Sections(r) {
		addRow(sheet, s.Heading, s.Body)
	}

	sheet, err = f.AddSheet(SheetSources)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sources sheet")
	}
	addRow(sheet, sourceHeader...)
	for i, s := range sources {
		published := ""
		if s.PublishedAt != nil {
			published = s.PublishedAt.UTC().Format("2006-01-02")
		}
		addRow(sheet,
			strconv.Itoa(i+1),
			s.Title,
			s.URL,
			s.Domain,
			string(s.SourceType),
			strconv.FormatFloat(s.Reliability, 'f', 2, 64),
			published,
		)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/max-solo23/deeptrace/internal/model"
)

// Format is a file export format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatXLSX     Format = "xlsx"
)

// ParseFormat converts a configured format name into a Format.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatMarkdown, FormatJSON, FormatYAML, FormatXLSX:
		return f, nil
	case "markdown":
		return FormatMarkdown, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", eris.Errorf("export: unknown format %q", name)
}

// DefaultDir is the directory reports are exported to.
const DefaultDir = "exports"

const (
	slugMaxRunes    = 50
	timestampLayout = "20060102_150405"
)

// Document is the serialized shape of a report with its sources.
type Document struct {
	Report  *model.Report  `json:"report" yaml:"report"`
	Sources []model.Source `json:"sources" yaml:"sources"`
}

// FileExporter writes a report to a file under Dir in one text format.
type FileExporter struct {
	Dir    string
	Format Format
	now    func() time.Time
}

// NewFileExporter creates a FileExporter. An empty dir uses DefaultDir.
func NewFileExporter(dir string, format Format) *FileExporter {
	if dir == "" {
		dir = DefaultDir
	}
	return &FileExporter{Dir: dir, Format: format, now: time.Now}
}

// Name identifies the exporter in events and logs.
func (e *FileExporter) Name() string {
	return "file:" + string(e.Format)
}

// Export implements pipeline.Exporter and returns the written path.
func (e *FileExporter) Export(ctx context.Context, r *model.Report, sources []model.Source) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(e.Dir, FileName(r.Query, e.Format, e.now()))
	if err := e.ToFile(r, sources, path); err != nil {
		return "", err
	}
	zap.L().Info("export: report written",
		zap.String("report_id", r.ID),
		zap.String("path", path),
	)
	return path, nil
}

// ToFile writes the report to path, creating parent directories.
func (e *FileExporter) ToFile(r *model.Report, sources []model.Source, path string) error {
	data, err := Encode(e.Format, r, sources)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}

// Encode serializes the report in a text format.
func Encode(f Format, r *model.Report, sources []model.Source) ([]byte, error) {
	if r == nil {
		return nil, eris.New("export: report is required")
	}
	doc := Document{Report: r, Sources: sources}
	switch f {
	case FormatMarkdown:
		return []byte(RenderMarkdown(r, sources)), nil
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, eris.Wrap(err, "export: encode json")
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, eris.Wrap(err, "export: encode yaml")
		}
		return data, nil
	}
	return nil, eris.Errorf("export: format %q is not a text format", f)
}

// FileName returns research_<slug>_<timestamp>.<ext> for a query.
func FileName(query string, f Format, at time.Time) string {
	return "research_" + Slug(query) + "_" + at.Format(timestampLayout) + "." + string(f)
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Slug turns a query into a file-name-safe fragment: the first 50 runes with
// spaces and slashes as underscores, keeping only letters, digits, '_' and
// '-'. Accents are folded. An empty result becomes "report".
func Slug(query string) string {
	r := []rune(query)
	if len(r) > slugMaxRunes {
		r = r[:slugMaxRunes]
	}
	s := strings.NewReplacer(" ", "_", "/", "_").Replace(string(r))

	folded, _, err := transform.String(transform.Chain(norm.NFD, stripMarks, norm.NFC), s)
	if err == nil {
		s = folded
	}

	s = strings.Map(func(c rune) rune {
		if c == '_' || c == '-' || unicode.IsLetter(c) || unicode.IsDigit(c) {
			return c
		}
		return -1
	}, s)
	if s == "" {
		return "report"
	}
	return s
}

package export

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/pkg/notion"
)

// NotionExporter publishes a report as a page in a Notion database. A report
// already published (matched on its id) is not published twice.
type NotionExporter struct {
	client notion.Client
	dbID   string
}

// NewNotionExporter creates a NotionExporter for the database dbID.
func NewNotionExporter(client notion.Client, dbID string) *NotionExporter {
	return &NotionExporter{client: client, dbID: dbID}
}

// Name identifies the exporter in events and logs.
func (e *NotionExporter) Name() string {
	return "notion"
}

// Export implements pipeline.Exporter and returns the page URL.
func (e *NotionExporter) Export(ctx context.Context, r *model.Report, sources []model.Source) (string, error) {
	if e.client == nil || e.dbID == "" {
		return "", nil
	}
	log := zap.L().With(zap.String("report_id", r.ID), zap.String("database_id", e.dbID))

	if r.ID != "" {
		existing, err := notion.FindPageByRichText(ctx, e.client, e.dbID, notion.PropReportID, r.ID)
		if err != nil {
			return "", eris.Wrap(err, "export: notion lookup")
		}
		if existing != nil {
			log.Info("export: notion page already exists", zap.String("page_id", string(existing.ID)))
			return existing.URL, nil
		}
	}

	page := notion.ReportPage{
		ReportID:   r.ID,
		Query:      r.Query,
		Mode:       string(r.Mode),
		Confidence: r.ConfidenceScore,
		Sources:    len(sources),
		CreatedAt:  r.CreatedAt,
	}
	for _, s := range Sections(r) {
		page.Sections = append(page.Sections, notion.Section{Heading: s.Heading, Body: s.Body})
	}

	created, err := e.client.CreateReportPage(ctx, notion.NewReportPageRequest(e.dbID, page))
	if err != nil {
		return "", eris.Wrap(err, "export: notion create page")
	}
	log.Info("export: notion page created", zap.String("page_id", string(created.ID)))
	return created.URL, nil
}

package notion

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Property names expected in the target database.
const (
	PropTitle      = "Query"
	PropReportID   = "Report ID"
	PropMode       = "Mode"
	PropConfidence = "Confidence"
	PropCreated    = "Created"
	PropSources    = "Sources"
)

// maxRichText is Notion's limit on the content of one rich text object.
const maxRichText = 2000

// Section is a titled block of report text.
type Section struct {
	Heading string
	Body    string
}

// ReportPage describes a report page to publish.
type ReportPage struct {
	ReportID   string
	Query      string
	Mode       string
	Confidence float64
	Sources    int
	CreatedAt  time.Time
	Sections   []Section
}

// FindPageByRichText returns the first page whose rich text property equals
// value, or nil when none exists.
func FindPageByRichText(ctx context.Context, c Client, dbID, property, value string) (*notionapi.Page, error) {
	resp, err := c.QueryReports(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: property,
			RichText: &notionapi.TextFilterCondition{Equals: value},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find page by %s", property)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// NewReportPageRequest builds the create request for a report page.
func NewReportPageRequest(dbID string, p ReportPage) *notionapi.PageCreateRequest {
	props := notionapi.Properties{
		PropTitle: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(p.Query),
		},
		PropReportID: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(p.ReportID),
		},
		PropMode: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: p.Mode},
		},
		PropConfidence: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: p.Confidence,
		},
		PropSources: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(p.Sources),
		},
	}
	if !p.CreatedAt.IsZero() {
		created := notionapi.Date(p.CreatedAt)
		props[PropCreated] = notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &created},
		}
	}

	var children []notionapi.Block
	for _, s := range p.Sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		children = append(children, paragraph([]notionapi.RichText{{
			Type:        notionapi.ObjectTypeText,
			Text:        &notionapi.Text{Content: s.Heading},
			Annotations: &notionapi.Annotations{Bold: true},
		}}))
		for _, chunk := range chunk(s.Body, maxRichText) {
			children = append(children, paragraph(richText(chunk)))
		}
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   children,
	}
}

func richText(v string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: v},
	}}
}

func paragraph(rt []notionapi.RichText) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: rt},
	}
}

// chunk splits s into pieces of at most n runes.
func chunk(s string, n int) []string {
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	var out []string
	for len(runes) > 0 {
		end := min(n, len(runes))
		out = append(out, string(runes[:end]))
		runes = runes[end:]
	}
	return out
}

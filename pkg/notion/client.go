// Package notion publishes finished research reports as pages of a Notion
// database and looks up pages already published for a report.
package notion

import (
	"context"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRateLimit is Notion's documented average request rate per
// integration.
const DefaultRateLimit = 3

// Client is the slice of the Notion API the report exporter depends on.
type Client interface {
	// QueryReports filters the report database, e.g. by report id.
	QueryReports(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	// CreateReportPage adds one report page to its parent database.
	CreateReportPage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption configures a Client built by NewClient.
type ClientOption func(*apiClient)

// WithRateLimit throttles calls to rps requests per second. Zero or less
// disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *apiClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithHTTPClient sends API calls through hc.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *apiClient) {
		if hc != nil {
			c.apiOpts = append(c.apiOpts, notionapi.WithHTTPClient(hc))
		}
	}
}

type apiClient struct {
	api     *notionapi.Client
	apiOpts []notionapi.ClientOption
	limiter *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token and
// throttled to DefaultRateLimit unless overridden.
func NewClient(token string, opts ...ClientOption) Client {
	c := &apiClient{limiter: rate.NewLimiter(DefaultRateLimit, 1)}
	for _, opt := range opts {
		opt(c)
	}
	c.api = notionapi.NewClient(notionapi.Token(token), c.apiOpts...)
	return c
}

func (c *apiClient) throttle(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "notion: %s: waiting for rate limit", op)
	}
	return nil
}

func (c *apiClient) QueryReports(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.throttle(ctx, "query reports"); err != nil {
		return nil, err
	}
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query report database %s", dbID)
	}
	return resp, nil
}

func (c *apiClient) CreateReportPage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if err := c.throttle(ctx, "publish report"); err != nil {
		return nil, err
	}
	page, err := c.api.Page.Create(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: publish report page")
	}
	return page, nil
}

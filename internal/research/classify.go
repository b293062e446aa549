package research

import (
	"net/url"
	"strings"
	"time"

	"github.com/max-solo23/deeptrace/internal/model"
)

// Reliability assigned per source type.
var reliability = map[model.SourceType]float64{
	model.SourceGov:      0.9,
	model.SourceAcademic: 0.85,
	model.SourceMedia:    0.7,
	model.SourceBlog:     0.45,
	model.SourceForum:    0.35,
	model.SourceUnknown:  0.5,
}

var mediaDomains = []string{
	"reuters.com", "apnews.com", "bbc.co.uk", "bbc.com", "nytimes.com", "wsj.com",
	"ft.com", "bloomberg.com", "theguardian.com", "washingtonpost.com", "economist.com",
	"cnbc.com", "forbes.com", "techcrunch.com", "theverge.com", "wired.com",
	"arstechnica.com", "axios.com", "cnn.com", "npr.org",
}

var academicDomains = []string{
	"arxiv.org", "nature.com", "science.org", "sciencedirect.com", "springer.com",
	"ieee.org", "acm.org", "jstor.org", "pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov",
	"researchgate.net", "semanticscholar.org", "ssrn.com", "plos.org", "wiley.com",
}

var forumDomains = []string{
	"reddit.com", "stackoverflow.com", "stackexchange.com", "quora.com",
	"news.ycombinator.com", "discourse.org",
}

var blogDomains = []string{
	"medium.com", "substack.com", "wordpress.com", "blogspot.com", "dev.to",
	"hashnode.dev", "tumblr.com", "ghost.io",
}

// Domain returns the lowercased host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// ClassifyDomain maps a domain to its source type using suffix and
// well-known-site heuristics.
func ClassifyDomain(domain string) model.SourceType {
	d := strings.ToLower(strings.TrimSpace(domain))
	switch {
	case d == "":
		return model.SourceUnknown
	case hasTLD(d, "gov", "mil") || strings.Contains(d, ".gov.") || strings.HasSuffix(d, ".europa.eu") || strings.HasSuffix(d, ".int"):
		return model.SourceGov
	case hasTLD(d, "edu") || strings.Contains(d, ".edu.") || strings.Contains(d, ".ac.") || matches(d, academicDomains):
		return model.SourceAcademic
	case matches(d, forumDomains) || strings.HasPrefix(d, "forum.") || strings.HasPrefix(d, "forums.") || strings.HasPrefix(d, "community."):
		return model.SourceForum
	case matches(d, blogDomains) || strings.HasPrefix(d, "blog."):
		return model.SourceBlog
	case matches(d, mediaDomains) || strings.HasPrefix(d, "news."):
		return model.SourceMedia
	}
	return model.SourceUnknown
}

// Reliability returns the reliability weight of a source type.
func Reliability(t model.SourceType) float64 {
	if r, ok := reliability[t]; ok {
		return r
	}
	return reliability[model.SourceUnknown]
}

// NewSource builds a classified source from a search hit. It returns false
// when the URL has no usable host.
func NewSource(rawURL, title, date string) (model.Source, bool) {
	domain := Domain(rawURL)
	if domain == "" {
		return model.Source{}, false
	}
	t := ClassifyDomain(domain)
	src := model.Source{
		URL:         strings.TrimSpace(rawURL),
		Domain:      domain,
		Title:       strings.TrimSpace(title),
		Reliability: Reliability(t),
		SourceType:  t,
	}
	if ts, ok := parseDate(date); ok {
		src.PublishedAt = &ts
	}
	return src, true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func hasTLD(domain string, tlds ...string) bool {
	for _, tld := range tlds {
		if strings.HasSuffix(domain, "."+tld) || domain == tld {
			return true
		}
	}
	return false
}

// matches reports whether domain equals or is a subdomain of any entry.
func matches(domain string, list []string) bool {
	for _, entry := range list {
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}

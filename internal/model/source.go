package model

import (
	"strings"
	"time"
)

// SourceType classifies where a source was published.
type SourceType string

const (
	SourceGov      SourceType = "gov"
	SourceAcademic SourceType = "academic"
	SourceMedia    SourceType = "media"
	SourceBlog     SourceType = "blog"
	SourceForum    SourceType = "forum"
	SourceUnknown  SourceType = "unknown"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceGov, SourceAcademic, SourceMedia, SourceBlog, SourceForum, SourceUnknown:
		return true
	}
	return false
}

// Source is one reference backing a Report.
type Source struct {
	ID          string     `json:"id" yaml:"id"`
	ReportID    string     `json:"report_id" yaml:"report_id"`
	URL         string     `json:"url" yaml:"url"`
	Domain      string     `json:"domain" yaml:"domain"`
	Title       string     `json:"title,omitempty" yaml:"title,omitempty"`
	Reliability float64    `json:"reliability" yaml:"reliability"`
	SourceType  SourceType `json:"source_type" yaml:"source_type"`
	PublishedAt *time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
}

// Validate checks required fields, the reliability range and the source type.
func (s *Source) Validate() error {
	if s == nil {
		return NewValidationError("source", "is required")
	}
	if strings.TrimSpace(s.ReportID) == "" {
		return NewValidationError("report_id", "is required")
	}
	if strings.TrimSpace(s.URL) == "" {
		return NewValidationError("url", "is required")
	}
	if strings.TrimSpace(s.Domain) == "" {
		return NewValidationError("domain", "is required")
	}
	if !inUnitRange(s.Reliability) {
		return NewValidationError("reliability", "must be between 0 and 1")
	}
	if !s.SourceType.Valid() {
		return NewValidationError("source_type", "must be one of gov, academic, media, blog, forum, unknown")
	}
	return nil
}

// SearchItem is one planned search.
type SearchItem struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// SearchResult is the output of one successful search task.
type SearchResult struct {
	Item    SearchItem `json:"item"`
	Summary string     `json:"summary"`
	Sources []Source   `json:"sources"`
}

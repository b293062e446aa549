// Package store persists reports, their sources and pipeline logs.
//
// Writes validate locally before touching the database and surface failures
// as *model.ValidationError or *StorageError. Reads never fail: errors are
// logged and the empty value is returned so that read paths stay usable when
// the database is degraded.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/max-solo23/deeptrace/internal/model"
)

// DefaultListLimit is used by GetAllReports when limit is not positive.
const DefaultListLimit = 50

// Store defines the persistence interface for research runs.
type Store interface {
	// Writes
	SaveReport(ctx context.Context, r *model.Report) (string, error)
	SaveSource(ctx context.Context, s *model.Source) (string, error)
	SaveLog(ctx context.Context, l *model.LogEntry) (string, error)
	DeleteReport(ctx context.Context, id string) (bool, error)

	// Reads
	GetReport(ctx context.Context, id string) *model.Report
	GetAllReports(ctx context.Context, limit int) []model.Report
	GetSourcesForReport(ctx context.Context, reportID string) []model.Source
	GetLogsForReport(ctx context.Context, reportID string) []model.LogEntry

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// prepareReport validates r and fills its id and creation time.
func prepareReport(r *model.Report) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return nil
}

func prepareSource(s *model.Source) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

func prepareLog(l *model.LogEntry) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(l.ID) == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/max-solo23/deeptrace/internal/model"
)

// sqliteTimeLayout sorts lexicographically in chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

// NewSQLite opens a SQLite database at path with foreign keys enforced,
// a busy timeout and WAL journaling.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id                  TEXT PRIMARY KEY,
	query               TEXT NOT NULL,
	mode                TEXT NOT NULL CHECK (mode IN ('quick', 'deep')),
	summary             TEXT NOT NULL,
	goals               TEXT NOT NULL,
	methodology         TEXT NOT NULL,
	findings            TEXT NOT NULL,
	competitors         TEXT,
	risks               TEXT NOT NULL,
	opportunities       TEXT NOT NULL,
	recommendations     TEXT NOT NULL,
	confidence_score    REAL NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	markdown_report     TEXT,
	follow_up_questions TEXT,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	report_id    TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	url          TEXT NOT NULL,
	domain       TEXT NOT NULL,
	title        TEXT,
	reliability  REAL NOT NULL CHECK (reliability >= 0 AND reliability <= 1),
	source_type  TEXT NOT NULL CHECK (source_type IN ('gov', 'academic', 'media', 'blog', 'forum', 'unknown')),
	published_at TEXT
);

CREATE TABLE IF NOT EXISTS logs (
	id        TEXT PRIMARY KEY,
	report_id TEXT,
	stage     TEXT NOT NULL,
	message   TEXT NOT NULL,
	status    TEXT NOT NULL CHECK (status IN ('running', 'ok', 'warning', 'error')),
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
CREATE INDEX IF NOT EXISTS idx_sources_report_id ON sources(report_id);
CREATE INDEX IF NOT EXISTS idx_logs_report_id ON logs(report_id);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r *model.Report) (string, error) {
	if err := prepareReport(r); err != nil {
		return "", err
	}
	followUps, err := json.Marshal(r.FollowUpQuestions)
	if err != nil {
		return "", storageErr("save report", eris.Wrap(err, "marshal follow-up questions"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, query, mode, summary, goals, methodology, findings, competitors,
			risks, opportunities, recommendations, confidence_score, markdown_report, follow_up_questions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Query, string(r.Mode), r.Summary, r.Goals, r.Methodology, r.Findings, nullString(r.Competitors),
		r.Risks, r.Opportunities, r.Recommendations, r.ConfidenceScore, nullString(r.MarkdownReport),
		string(followUps), formatTime(r.CreatedAt),
	)
	if err != nil {
		return "", storageErr("save report", err)
	}
	return r.ID, nil
}

func (s *SQLiteStore) SaveSource(ctx context.Context, src *model.Source) (string, error) {
	if err := prepareSource(src); err != nil {
		return "", err
	}
	var published sql.NullString
	if src.PublishedAt != nil {
		published = sql.NullString{String: formatTime(*src.PublishedAt), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, report_id, url, domain, title, reliability, source_type, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.ReportID, src.URL, src.Domain, nullString(src.Title), src.Reliability, string(src.SourceType), published,
	)
	if err != nil {
		return "", storageErr("save source", err)
	}
	return src.ID, nil
}

func (s *SQLiteStore) SaveLog(ctx context.Context, l *model.LogEntry) (string, error) {
	if err := prepareLog(l); err != nil {
		return "", err
	}
	var reportID sql.NullString
	if l.ReportID != nil {
		reportID = sql.NullString{String: *l.ReportID, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, report_id, stage, message, status, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, reportID, l.Stage, l.Message, string(l.Status), formatTime(l.Timestamp),
	)
	if err != nil {
		return "", storageErr("save log", err)
	}
	return l.ID, nil
}

func (s *SQLiteStore) DeleteReport(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return false, storageErr("delete report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete report", err)
	}
	return n > 0, nil
}

const sqliteReportColumns = `id, query, mode, summary, goals, methodology, findings, competitors,
	risks, opportunities, recommendations, confidence_score, markdown_report, follow_up_questions, created_at`

func (s *SQLiteStore) GetReport(ctx context.Context, id string) *model.Report {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteReportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanSQLiteReport(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			zap.L().Warn("store: get report failed", zap.String("report_id", id), zap.Error(err))
		}
		return nil
	}
	return r
}

func (s *SQLiteStore) GetAllReports(ctx context.Context, limit int) []model.Report {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports ORDER BY created_at DESC LIMIT ?`, listLimit(limit))
	if err != nil {
		zap.L().Warn("store: list reports failed", zap.Error(err))
		return []model.Report{}
	}
	defer rows.Close() //nolint:errcheck

	reports := []model.Report{}
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			zap.L().Warn("store: scan report failed", zap.Error(err))
			return []model.Report{}
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		zap.L().Warn("store: iterate reports failed", zap.Error(err))
		return []model.Report{}
	}
	return reports
}

func (s *SQLiteStore) GetSourcesForReport(ctx context.Context, reportID string) []model.Source {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, url, domain, title, reliability, source_type, published_at
		FROM sources WHERE report_id = ? ORDER BY rowid`, reportID)
	if err != nil {
		zap.L().Warn("store: get sources failed", zap.String("report_id", reportID), zap.Error(err))
		return []model.Source{}
	}
	defer rows.Close() //nolint:errcheck

	sources := []model.Source{}
	for rows.Next() {
		var (
			src       model.Source
			title     sql.NullString
			srcType   string
			published sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.ReportID, &src.URL, &src.Domain, &title,
			&src.Reliability, &srcType, &published); err != nil {
			zap.L().Warn("store: scan source failed", zap.String("report_id", reportID), zap.Error(err))
			return []model.Source{}
		}
		src.Title = title.String
		src.SourceType = model.SourceType(srcType)
		if published.Valid {
			if t, err := parseTime(published.String); err == nil {
				src.PublishedAt = &t
			}
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		zap.L().Warn("store: iterate sources failed", zap.Error(err))
		return []model.Source{}
	}
	return sources
}

func (s *SQLiteStore) GetLogsForReport(ctx context.Context, reportID string) []model.LogEntry {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, stage, message, status, timestamp
		FROM logs WHERE report_id = ? ORDER BY timestamp ASC, rowid ASC`, reportID)
	if err != nil {
		zap.L().Warn("store: get logs failed", zap.String("report_id", reportID), zap.Error(err))
		return []model.LogEntry{}
	}
	defer rows.Close() //nolint:errcheck

	logs := []model.LogEntry{}
	for rows.Next() {
		var (
			l        model.LogEntry
			rid      sql.NullString
			status   string
			tsString string
		)
		if err := rows.Scan(&l.ID, &rid, &l.Stage, &l.Message, &status, &tsString); err != nil {
			zap.L().Warn("store: scan log failed", zap.String("report_id", reportID), zap.Error(err))
			return []model.LogEntry{}
		}
		if rid.Valid {
			id := rid.String
			l.ReportID = &id
		}
		l.Status = model.LogStatus(status)
		l.Timestamp, _ = parseTime(tsString)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		zap.L().Warn("store: iterate logs failed", zap.Error(err))
		return []model.LogEntry{}
	}
	return logs
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row scannable) (*model.Report, error) {
	var (
		r           model.Report
		mode        string
		competitors sql.NullString
		markdown    sql.NullString
		followUps   sql.NullString
		createdAt   string
	)
	err := row.Scan(&r.ID, &r.Query, &mode, &r.Summary, &r.Goals, &r.Methodology, &r.Findings, &competitors,
		&r.Risks, &r.Opportunities, &r.Recommendations, &r.ConfidenceScore, &markdown, &followUps, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Mode = model.Mode(mode)
	r.Competitors = competitors.String
	r.MarkdownReport = markdown.String
	if followUps.Valid && followUps.String != "" {
		if err := json.Unmarshal([]byte(followUps.String), &r.FollowUpQuestions); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal follow-up questions")
		}
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

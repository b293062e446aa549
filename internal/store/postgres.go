package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/db"
	"github.com/max-solo23/deeptrace/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

var postgresMigration = []string{
	`CREATE TABLE IF NOT EXISTS reports (
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
	confidence_score    DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	markdown_report     TEXT,
	follow_up_questions JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	report_id    TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	url          TEXT NOT NULL,
	domain       TEXT NOT NULL,
	title        TEXT,
	reliability  DOUBLE PRECISION NOT NULL CHECK (reliability >= 0 AND reliability <= 1),
	source_type  TEXT NOT NULL CHECK (source_type IN ('gov', 'academic', 'media', 'blog', 'forum', 'unknown')),
	published_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS logs (
	id        TEXT PRIMARY KEY,
	report_id TEXT,
	stage     TEXT NOT NULL,
	message   TEXT NOT NULL,
	status    TEXT NOT NULL CHECK (status IN ('running', 'ok', 'warning', 'error')),
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_report_id ON sources(report_id)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_report_id ON logs(report_id)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)`,
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range postgresMigration {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return eris.Wrap(err, "postgres: migrate")
			}
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, r *model.Report) (string, error) {
	if err := prepareReport(r); err != nil {
		return "", err
	}
	followUps := r.FollowUpQuestions
	if followUps == nil {
		followUps = []string{}
	}
	followUpsJSON, err := json.Marshal(followUps)
	if err != nil {
		return "", storageErr("save report", eris.Wrap(err, "marshal follow-up questions"))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, query, mode, summary, goals, methodology, findings, competitors,
			risks, opportunities, recommendations, confidence_score, markdown_report, follow_up_questions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.Query, string(r.Mode), r.Summary, r.Goals, r.Methodology, r.Findings, optional(r.Competitors),
		r.Risks, r.Opportunities, r.Recommendations, r.ConfidenceScore, optional(r.MarkdownReport),
		followUpsJSON, r.CreatedAt,
	)
	if err != nil {
		return "", storageErr("save report", err)
	}
	return r.ID, nil
}

func (s *PostgresStore) SaveSource(ctx context.Context, src *model.Source) (string, error) {
	if err := prepareSource(src); err != nil {
		return "", err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, report_id, url, domain, title, reliability, source_type, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		src.ID, src.ReportID, src.URL, src.Domain, optional(src.Title), src.Reliability, string(src.SourceType), src.PublishedAt,
	)
	if err != nil {
		return "", storageErr("save source", err)
	}
	return src.ID, nil
}

func (s *PostgresStore) SaveLog(ctx context.Context, l *model.LogEntry) (string, error) {
	if err := prepareLog(l); err != nil {
		return "", err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO logs (id, report_id, stage, message, status, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.ReportID, l.Stage, l.Message, string(l.Status), l.Timestamp,
	)
	if err != nil {
		return "", storageErr("save log", err)
	}
	return l.ID, nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return false, storageErr("delete report", err)
	}
	return tag.RowsAffected() > 0, nil
}

const postgresReportColumns = `id, query, mode, summary, goals, methodology, findings, competitors,
	risks, opportunities, recommendations, confidence_score, markdown_report, follow_up_questions, created_at`

func (s *PostgresStore) GetReport(ctx context.Context, id string) *model.Report {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresReportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanPostgresReport(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("store: get report failed", zap.String("report_id", id), zap.Error(err))
		}
		return nil
	}
	return r
}

func (s *PostgresStore) GetAllReports(ctx context.Context, limit int) []model.Report {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresReportColumns+` FROM reports ORDER BY created_at DESC LIMIT $1`, listLimit(limit))
	if err != nil {
		zap.L().Warn("store: list reports failed", zap.Error(err))
		return []model.Report{}
	}
	defer rows.Close()

	reports := []model.Report{}
	for rows.Next() {
		r, err := scanPostgresReport(rows)
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

func (s *PostgresStore) GetSourcesForReport(ctx context.Context, reportID string) []model.Source {
	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, url, domain, title, reliability, source_type, published_at
		FROM sources WHERE report_id = $1 ORDER BY id`, reportID)
	if err != nil {
		zap.L().Warn("store: get sources failed", zap.String("report_id", reportID), zap.Error(err))
		return []model.Source{}
	}
	defer rows.Close()

	sources := []model.Source{}
	for rows.Next() {
		var (
			src     model.Source
			title   *string
			srcType string
		)
		if err := rows.Scan(&src.ID, &src.ReportID, &src.URL, &src.Domain, &title,
			&src.Reliability, &srcType, &src.PublishedAt); err != nil {
			zap.L().Warn("store: scan source failed", zap.String("report_id", reportID), zap.Error(err))
			return []model.Source{}
		}
		if title != nil {
			src.Title = *title
		}
		src.SourceType = model.SourceType(srcType)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		zap.L().Warn("store: iterate sources failed", zap.Error(err))
		return []model.Source{}
	}
	return sources
}

func (s *PostgresStore) GetLogsForReport(ctx context.Context, reportID string) []model.LogEntry {
	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, stage, message, status, timestamp
		FROM logs WHERE report_id = $1 ORDER BY timestamp ASC`, reportID)
	if err != nil {
		zap.L().Warn("store: get logs failed", zap.String("report_id", reportID), zap.Error(err))
		return []model.LogEntry{}
	}
	defer rows.Close()

	logs := []model.LogEntry{}
	for rows.Next() {
		var (
			l      model.LogEntry
			status string
		)
		if err := rows.Scan(&l.ID, &l.ReportID, &l.Stage, &l.Message, &status, &l.Timestamp); err != nil {
			zap.L().Warn("store: scan log failed", zap.String("report_id", reportID), zap.Error(err))
			return []model.LogEntry{}
		}
		l.Status = model.LogStatus(status)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		zap.L().Warn("store: iterate logs failed", zap.Error(err))
		return []model.LogEntry{}
	}
	return logs
}

func scanPostgresReport(row pgx.Row) (*model.Report, error) {
	var (
		r           model.Report
		mode        string
		competitors *string
		markdown    *string
		followUps   []byte
	)
	err := row.Scan(&r.ID, &r.Query, &mode, &r.Summary, &r.Goals, &r.Methodology, &r.Findings, &competitors,
		&r.Risks, &r.Opportunities, &r.Recommendations, &r.ConfidenceScore, &markdown, &followUps, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Mode = model.Mode(mode)
	if competitors != nil {
		r.Competitors = *competitors
	}
	if markdown != nil {
		r.MarkdownReport = *markdown
	}
	if len(followUps) > 0 {
		if err := json.Unmarshal(followUps, &r.FollowUpQuestions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal follow-up questions")
		}
	}
	return &r, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

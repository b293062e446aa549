package export

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/model"
)

// DefaultSubject is used when the report query is empty.
const DefaultSubject = "Deep Research Report"

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
}

// Configured reports whether enough is set to attempt delivery.
func (c EmailConfig) Configured() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailExporter mails the markdown report to the configured recipients.
type EmailExporter struct {
	cfg  EmailConfig
	send sendFunc
	now  func() time.Time
}

// NewEmailExporter creates an EmailExporter.
func NewEmailExporter(cfg EmailConfig) *EmailExporter {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailExporter{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

// Name identifies the exporter in events and logs.
func (e *EmailExporter) Name() string {
	return "email"
}

// Export implements pipeline.Exporter. Unconfigured delivery is skipped and
// returns an empty target.
func (e *EmailExporter) Export(ctx context.Context, r *model.Report, sources []model.Source) (string, error) {
	delivered, err := e.Email(ctx, r, sources)
	if err != nil || !delivered {
		return "", err
	}
	return strings.Join(e.cfg.To, ","), nil
}

// Email sends the report. It returns false without error when SMTP is not
// configured.
func (e *EmailExporter) Email(ctx context.Context, r *model.Report, sources []model.Source) (bool, error) {
	if !e.cfg.Configured() {
		zap.L().Info("export: smtp not configured, skipping email")
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	msg := e.message(r, sources)

	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, msg); err != nil {
		return false, eris.Wrapf(err, "export: send email via %s", addr)
	}
	zap.L().Info("export: email sent",
		zap.String("report_id", r.ID),
		zap.Strings("to", e.cfg.To),
	)
	return true, nil
}

func (e *EmailExporter) message(r *model.Report, sources []model.Source) []byte {
	subject := strings.TrimSpace(e.cfg.Subject)
	if subject == "" {
		subject = strings.TrimSpace(r.Query)
		if subject != "" {
			subject = "Research: " + subject
		}
	}
	if subject == "" {
		subject = DefaultSubject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/markdown; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(RenderMarkdown(r, sources), "\n", "\r\n"))
	return []byte(b.String())
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

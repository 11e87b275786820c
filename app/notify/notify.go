// Package notify delivers report announcements over telegram and email
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports github.com/go-pkgz/notify Notifier

// Params defines message parameters
type Params struct {
	BaseURL          string // public url of the app, used to build download links
	FromEmail        string
	Subject          string // email subject, default "Chart report ready"
	EmailTemplate    string // optional path to custom html template
	TelegramTemplate string // optional path to custom telegram (html subset) template
}

// SendersParams defines delivery channels
type SendersParams struct {
	SMTP            notify.SMTPParams // empty host disables email
	TelegramTimeout time.Duration
}

// Recipient is the user a report is announced to
type Recipient struct {
	Username       string
	Email          string
	TelegramToken  string
	TelegramChatID string
}

// Report is a summary of a finished job
type Report struct {
	JobID      string
	URL        string // scan url
	Status     string
	Charts     int
	Total      int
	Error      string
	FinishedAt time.Time
}

// Service sends report notifications. Telegram notifiers are made per bot token and cached.
type Service struct {
	Params
	email       notify.Notifier
	newTelegram func(token string) (notify.Notifier, error)
	emailTmpl   *htmltemplate.Template
	tgTmpl      *htmltemplate.Template

	mu        sync.Mutex
	telegrams map[string]notify.Notifier
}

// NewService makes notification service. Email is enabled when SMTP host is set, telegram is always
// available and used for recipients having a token and chat id.
func NewService(p Params, sp SendersParams) *Service {
	if p.Subject == "" {
		p.Subject = "Chart report ready"
	}
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")
	res := &Service{
		Params:    p,
		telegrams: map[string]notify.Notifier{},
		emailTmpl: loadTemplate("email", p.EmailTemplate, defaultEmailTemplate),
		tgTmpl:    loadTemplate("telegram", p.TelegramTemplate, defaultTelegramTemplate),
	}
	if sp.SMTP.Host != "" {
		if sp.SMTP.ContentType == "" {
			sp.SMTP.ContentType = "text/html"
		}
		res.email = notify.NewEmail(sp.SMTP)
		log.Printf("[INFO] email notifications enabled, smtp %s:%d", sp.SMTP.Host, sp.SMTP.Port)
	}
	timeout := sp.TelegramTimeout
	res.newTelegram = func(token string) (notify.Notifier, error) {
		return notify.NewTelegram(notify.TelegramParams{Token: token, Timeout: timeout})
	}
	return res
}

// ReportReady announces a finished report to the recipient. Returns true if telegram message was delivered.
// Errors of all channels are joined.
func (s *Service) ReportReady(ctx context.Context, rcpt Recipient, rep Report) (telegramSent bool, err error) {
	data := s.messageData(rcpt, rep)
	var errs []error

	if rcpt.TelegramToken != "" && rcpt.TelegramChatID != "" {
		if e := s.sendTelegram(ctx, rcpt, data); e != nil {
			errs = append(errs, fmt.Errorf("telegram: %w", e))
		} else {
			telegramSent = true
		}
	}

	if s.email != nil && rcpt.Email != "" {
		if e := s.sendEmail(ctx, rcpt, data); e != nil {
			errs = append(errs, fmt.Errorf("email: %w", e))
		}
	}
	return telegramSent, errors.Join(errs...)
}

// EmailEnabled tells if SMTP delivery is configured
func (s *Service) EmailEnabled() bool { return s.email != nil }

func (s *Service) sendTelegram(ctx context.Context, rcpt Recipient, data messageData) error {
	tg, err := s.telegram(rcpt.TelegramToken)
	if err != nil {
		return err
	}
	text, err := render(s.tgTmpl, data)
	if err != nil {
		return err
	}
	dest := "telegram:" + rcpt.TelegramChatID + "?parseMode=HTML"
	if err := tg.Send(ctx, dest, text); err != nil {
		return fmt.Errorf("failed to send to chat %s: %w", rcpt.TelegramChatID, hideToken(err, rcpt.TelegramToken))
	}
	log.Printf("[INFO] telegram notification for job %s sent to %s", data.JobID, rcpt.Username)
	return nil
}

func (s *Service) sendEmail(ctx context.Context, rcpt Recipient, data messageData) error {
	text, err := render(s.emailTmpl, data)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("from", s.FromEmail)
	q.Set("subject", s.Subject)
	dest := "mailto:" + rcpt.Email + "?" + q.Encode()
	if err := s.email.Send(ctx, dest, text); err != nil {
		return fmt.Errorf("failed to send to %s: %w", rcpt.Email, err)
	}
	log.Printf("[INFO] email notification for job %s sent to %s", data.JobID, rcpt.Email)
	return nil
}

// telegram returns cached notifier for the bot token, making it on first use
func (s *Service) telegram(token string) (notify.Notifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tg, ok := s.telegrams[token]; ok {
		return tg, nil
	}
	tg, err := s.newTelegram(token)
	if err != nil {
		return nil, fmt.Errorf("can't make telegram bot %s: %w", maskToken(token), hideToken(err, token))
	}
	s.telegrams[token] = tg
	return tg, nil
}

// maskToken keeps the bot id part of "id:secret" token
func maskToken(token string) string {
	if id, _, ok := strings.Cut(token, ":"); ok {
		return id + ":***"
	}
	return "***"
}

// hideToken masks the bot token in err, telegram api errors carry request urls with the token inside
func hideToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, maskToken(token)))
}

type messageData struct {
	Report
	Username string
	Link     string
	XLSXLink string
	Host     string
}

func (s *Service) messageData(rcpt Recipient, rep Report) messageData {
	res := messageData{Report: rep, Username: rcpt.Username, Host: os.Getenv("MHOST")}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	if s.BaseURL != "" && rep.JobID != "" {
		res.Link = s.BaseURL + "/download/" + rep.JobID
		res.XLSXLink = res.Link + "/xlsx"
	}
	return res
}

func render(t *htmltemplate.Template, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// loadTemplate parses custom template file, falling back to the default one on any problem
func loadTemplate(name, path, fallback string) *htmltemplate.Template {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from trusted config
		if err == nil {
			t, perr := htmltemplate.New(name).Parse(string(data))
			if perr == nil {
				return t
			}
			err = perr
		}
		log.Printf("[WARN] can't use %s template %s, default used: %v", name, path, err)
	}
	return htmltemplate.Must(htmltemplate.New(name).Parse(fallback))
}

const defaultTelegramTemplate = `<b>Chart report {{.Status}}</b>
Scan: {{.URL}}
Charts: {{.Charts}} of {{.Total}}{{if .Error}}
Note: {{.Error}}{{end}}{{if .Link}}
<a href="{{.Link}}">Download PDF</a> | <a href="{{.XLSXLink}}">Index</a>{{end}}`

const defaultEmailTemplate = `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			ul {
				margin-top: -0.5em;
				margin-left: -0.5em;
			}
			.bold {
				color: #285088;
				font-weight: 900;
			}
		</style>
	</head>
	<body>
		<p>Hi {{.Username}}, your chart report is <span class="bold">{{.Status}}</span>
		at {{.FinishedAt.Format "2006-01-02T15:04:05Z07:00"}}{{if .Host}} on {{.Host}}{{end}}</p>
		<ul>
			<li>Scan: <span class="bold">{{.URL}}</span></li>
			<li>Charts: <span class="bold">{{.Charts}} of {{.Total}}</span></li>
			{{- if .Error}}
			<li>Note: {{.Error}}</li>
			{{- end}}
		</ul>
		{{- if .Link}}
		<p><a href="{{.Link}}">Download PDF</a> &middot; <a href="{{.XLSXLink}}">Download index</a></p>
		{{- end}}
	</body>
</html>
`

package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/circle97/beman-sub001/internal/models"
	"github.com/circle97/beman-sub001/internal/schedule"
)

var emailTemplate = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #333;">
	<p>Hi {{.Name}},</p>
	<p><strong>{{.Title}}</strong> is coming up on {{.When}}.</p>
	{{if .Description}}<p>{{.Description}}</p>{{end}}
	{{if .Gift}}<p>Gift idea: {{.Gift}}</p>{{end}}
	<p style="color: #888; font-size: 12px;">Sent by your relationship assistant, {{.Year}}</p>
</body>
</html>`))

type emailData struct {
	Name        string
	Title       string
	Description string
	Gift        string
	When        string
	Year        int
}

// Mailer sends reminder emails through the SMTP server configured in the
// environment (SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, SMTP_FROM).
type Mailer struct {
	host string
	port int
	user string
	pass string
	from string
	log  zerolog.Logger
}

func NewMailerFromEnv(log zerolog.Logger) *Mailer {
	port := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	}
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = "noreply@beman.app"
	}
	return &Mailer{
		host: os.Getenv("SMTP_HOST"),
		port: port,
		user: os.Getenv("SMTP_USER"),
		pass: os.Getenv("SMTP_PASS"),
		from: from,
		log:  log,
	}
}

func (m *Mailer) Configured() bool { return m.host != "" }

func (m *Mailer) SendReminder(ident Identity, sched models.Schedule, f models.Firing) error {
	data := emailData{
		Name:        ident.Name,
		Title:       sched.Title,
		Description: sched.Description,
		Gift:        sched.GiftSuggestion,
		When:        formatOccurrence(f.Occurrence, f.FireDate()),
		Year:        time.Now().Year(),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering reminder email: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", ident.Email)
	msg.SetHeader("Subject", "Reminder: "+sched.Title)
	msg.SetBody("text/html", buf.String())

	dialer := gomail.NewDialer(m.host, m.port, m.user, m.pass)
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending reminder email: %w", err)
	}
	return nil
}

func formatOccurrence(occurrence, today time.Time) string {
	switch days := schedule.DaysUntil(occurrence, today); {
	case days <= 0:
		return fmt.Sprintf("today, %s", occurrence.Format("January 2"))
	case days == 1:
		return fmt.Sprintf("tomorrow, %s", occurrence.Format("January 2"))
	default:
		return fmt.Sprintf("%s (in %d days)", occurrence.Format("January 2"), days)
	}
}

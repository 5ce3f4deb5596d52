// Package notify delivers due reminders to users over web push and email.
package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/circle97/beman-sub001/internal/models"
	"github.com/circle97/beman-sub001/internal/schedule"
)

// Identity is what the notifier needs to address a user.
type Identity struct {
	Name  string
	Email string
}

// Directory resolves a user id to a display identity. Lookup failures must
// not prevent dispatch; callers fall back to a generic identity.
type Directory interface {
	Lookup(ctx context.Context, userID int) (Identity, error)
}

// SQLiteDirectory reads identities from the users table.
type SQLiteDirectory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

func (d *SQLiteDirectory) Lookup(ctx context.Context, userID int) (Identity, error) {
	var ident Identity
	var email sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT username, email FROM users WHERE id = ?", userID,
	).Scan(&ident.Name, &email)
	if err != nil {
		return Identity{}, err
	}
	ident.Email = email.String
	return ident, nil
}

// Service fans a reminder out to every channel configured for the user. A
// channel failure is isolated from the others; Notify errors only when every
// attempted channel failed, so the engine retries on the next tick.
type Service struct {
	db     *sql.DB
	dir    Directory
	pusher *Pusher
	mailer *Mailer
	log    zerolog.Logger
}

func NewService(db *sql.DB, dir Directory, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		pusher: NewPusher(db, log),
		mailer: NewMailerFromEnv(log),
		log:    log,
	}
}

func (s *Service) Notify(ctx context.Context, sched models.Schedule, f models.Firing) error {
	ident, err := s.dir.Lookup(ctx, sched.UserID)
	if err != nil {
		// Generic identity; the reminder still goes out.
		s.log.Warn().Err(err).Int("user_id", sched.UserID).Msg("user lookup failed, using generic identity")
		ident = Identity{Name: "there"}
	}

	title, body := reminderText(sched, f)

	attempted, delivered := 0, 0
	if s.pusher.Configured() {
		attempted++
		if err := s.pusher.Send(ctx, sched.UserID, PushPayload{
			Title: title,
			Body:  body,
			Tag:   f.Key(),
			Data:  map[string]interface{}{"schedule_id": sched.ID},
		}); err != nil {
			s.log.Warn().Err(err).Int("user_id", sched.UserID).Msg("push delivery failed")
		} else {
			delivered++
		}
	}

	if s.mailer.Configured() && ident.Email != "" {
		attempted++
		if err := s.mailer.SendReminder(ident, sched, f); err != nil {
			s.log.Warn().Err(err).Int("user_id", sched.UserID).Msg("email delivery failed")
		} else {
			delivered++
		}
	}

	if attempted == 0 {
		// Nothing to deliver over; treat as done rather than retrying all day.
		s.log.Info().Int("user_id", sched.UserID).Str("firing", f.Key()).Msg("no delivery channel for user")
		return nil
	}
	if delivered == 0 {
		return fmt.Errorf("all %d delivery channels failed for user %d", attempted, sched.UserID)
	}
	return nil
}

func reminderText(sched models.Schedule, f models.Firing) (title, body string) {
	title = "Reminder: " + sched.Title

	days := schedule.DaysUntil(f.Occurrence, f.FireDate())
	switch {
	case days <= 0:
		body = fmt.Sprintf("%s is today (%s)!", sched.Title, f.Occurrence.Format("Jan 2"))
	case days == 1:
		body = fmt.Sprintf("%s is tomorrow (%s).", sched.Title, f.Occurrence.Format("Jan 2"))
	default:
		body = fmt.Sprintf("%s is in %d days (%s).", sched.Title, days, f.Occurrence.Format("Jan 2"))
	}
	if sched.GiftSuggestion != "" {
		body += " Gift idea: " + sched.GiftSuggestion
	}
	return title, body
}

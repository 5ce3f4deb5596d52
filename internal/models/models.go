package models

import (
	"fmt"
	"time"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventType classifies a significant date. The set is closed: adding a new
// kind requires a new constant plus a recurrence branch where relevant.
type EventType string

const (
	EventBirthday    EventType = "birthday"
	EventAnniversary EventType = "anniversary"
	EventHoliday     EventType = "holiday"
	EventCustom      EventType = "custom"
)

func (t EventType) Valid() bool {
	switch t {
	case EventBirthday, EventAnniversary, EventHoliday, EventCustom:
		return true
	}
	return false
}

// RepeatType is the recurrence policy of a schedule. RepeatNone means the
// event fires once and is then terminal.
type RepeatType string

const (
	RepeatNone    RepeatType = "none"
	RepeatYearly  RepeatType = "yearly"
	RepeatMonthly RepeatType = "monthly"
	RepeatWeekly  RepeatType = "weekly"
)

func (t RepeatType) Valid() bool {
	switch t {
	case RepeatNone, RepeatYearly, RepeatMonthly, RepeatWeekly:
		return true
	}
	return false
}

type ScheduleStatus string

const (
	StatusActive    ScheduleStatus = "active"
	StatusCompleted ScheduleStatus = "completed"
	StatusCancelled ScheduleStatus = "cancelled"
)

// Terminal reports whether the status excludes the schedule from recurrence
// and reminder computation.
func (s ScheduleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Schedule is a significant date owned by exactly one user. EventDate is the
// anchor occurrence; for repeating schedules the concrete occurrence for a
// given day is derived, not stored.
type Schedule struct {
	ID              int            `json:"id"`
	UserID          int            `json:"user_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	EventDate       time.Time      `json:"event_date"`
	EventType       EventType      `json:"event_type"`
	ReminderOffsets []int          `json:"reminder_offsets"`
	GiftSuggestion  string         `json:"gift_suggestion,omitempty"`
	IsRepeated      bool           `json:"is_repeated"`
	RepeatType      RepeatType     `json:"repeat_type,omitempty"`
	Status          ScheduleStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Repeat returns the effective recurrence policy, folding the is_repeated
// flag into RepeatNone when unset.
func (s Schedule) Repeat() RepeatType {
	if !s.IsRepeated || s.RepeatType == "" {
		return RepeatNone
	}
	return s.RepeatType
}

// Firing is one concrete due reminder: schedule, the occurrence it leads up
// to, and how many days ahead of it the reminder fires. The triple is the
// idempotency key that suppresses duplicate dispatch across ticks.
type Firing struct {
	ScheduleID int       `json:"schedule_id"`
	Occurrence time.Time `json:"occurrence"`
	OffsetDays int       `json:"offset_days"`
}

// FireDate is the calendar date the reminder is due on.
func (f Firing) FireDate() time.Time {
	return f.Occurrence.AddDate(0, 0, -f.OffsetDays)
}

// Key is the stable identity of the firing, usable as a log field or map key.
func (f Firing) Key() string {
	return fmt.Sprintf("%d:%s:%d", f.ScheduleID, f.Occurrence.Format("2006-01-02"), f.OffsetDays)
}

type CreateScheduleRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	EventDate       string     `json:"event_date"` // YYYY-MM-DD
	EventType       EventType  `json:"event_type"`
	ReminderOffsets []int      `json:"reminder_offsets,omitempty"`
	GiftSuggestion  string     `json:"gift_suggestion,omitempty"`
	IsRepeated      bool       `json:"is_repeated"`
	RepeatType      RepeatType `json:"repeat_type,omitempty"`
}

type PushSubscription struct {
	ID       int    `json:"id"`
	UserID   int    `json:"user_id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

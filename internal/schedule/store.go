package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/circle97/beman-sub001/internal/models"
)

// Store owns schedule records and their lifecycle. All writes re-validate the
// schedule invariants; ownership is checked on every per-id operation.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `id, user_id, title, description, event_date, event_type,
	reminder_days, gift_suggestion, is_repeated, repeat_type, status, created_at, updated_at`

func (st *Store) Create(ctx context.Context, userID int, req models.CreateScheduleRequest) (models.Schedule, error) {
	eventDate, offsets, err := validateRequest(req)
	if err != nil {
		return models.Schedule{}, err
	}

	offsetsJSON, err := json.Marshal(offsets)
	if err != nil {
		return models.Schedule{}, err
	}

	res, err := st.db.ExecContext(ctx,
		`INSERT INTO schedules (user_id, title, description, event_date, event_type, reminder_days,
			gift_suggestion, is_repeated, repeat_type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active')`,
		userID, req.Title, req.Description, eventDate.Format("2006-01-02"), req.EventType,
		string(offsetsJSON), req.GiftSuggestion, req.IsRepeated, string(req.RepeatType),
	)
	if err != nil {
		return models.Schedule{}, err
	}

	id, _ := res.LastInsertId()
	return st.get(ctx, int(id))
}

func (st *Store) Update(ctx context.Context, id, userID int, req models.CreateScheduleRequest) (models.Schedule, error) {
	if err := st.checkOwner(ctx, id, userID); err != nil {
		return models.Schedule{}, err
	}

	eventDate, offsets, err := validateRequest(req)
	if err != nil {
		return models.Schedule{}, err
	}

	offsetsJSON, err := json.Marshal(offsets)
	if err != nil {
		return models.Schedule{}, err
	}

	_, err = st.db.ExecContext(ctx,
		`UPDATE schedules SET title = ?, description = ?, event_date = ?, event_type = ?,
			reminder_days = ?, gift_suggestion = ?, is_repeated = ?, repeat_type = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		req.Title, req.Description, eventDate.Format("2006-01-02"), req.EventType,
		string(offsetsJSON), req.GiftSuggestion, req.IsRepeated, string(req.RepeatType), id,
	)
	if err != nil {
		return models.Schedule{}, err
	}

	return st.get(ctx, id)
}

// Get returns a schedule after verifying ownership.
func (st *Store) Get(ctx context.Context, id, userID int) (models.Schedule, error) {
	if err := st.checkOwner(ctx, id, userID); err != nil {
		return models.Schedule{}, err
	}
	return st.get(ctx, id)
}

func (st *Store) Delete(ctx context.Context, id, userID int) error {
	if err := st.checkOwner(ctx, id, userID); err != nil {
		return err
	}
	_, err := st.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	return err
}

// Cancel is a one-way transition; a cancelled schedule cannot be reactivated
// through this interface.
func (st *Store) Cancel(ctx context.Context, id, userID int) error {
	return st.setStatus(ctx, id, userID, models.StatusCancelled)
}

func (st *Store) Complete(ctx context.Context, id, userID int) error {
	return st.setStatus(ctx, id, userID, models.StatusCompleted)
}

func (st *Store) setStatus(ctx context.Context, id, userID int, status models.ScheduleStatus) error {
	if err := st.checkOwner(ctx, id, userID); err != nil {
		return err
	}
	_, err := st.db.ExecContext(ctx,
		"UPDATE schedules SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), id,
	)
	return err
}

// MarkCompleted transitions a schedule to completed without an ownership
// check. Used by the dispatch cycle to retire one-off schedules whose single
// occurrence has passed.
func (st *Store) MarkCompleted(ctx context.Context, id int) error {
	_, err := st.db.ExecContext(ctx,
		"UPDATE schedules SET status = 'completed', updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'active'",
		id,
	)
	return err
}

// ListForUser returns the user's active schedules ordered by anchor date.
func (st *Store) ListForUser(ctx context.Context, userID int) ([]models.Schedule, error) {
	return st.list(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE user_id = ? AND status = 'active' ORDER BY event_date ASC, id ASC",
		userID,
	)
}

// Upcoming returns the user's active schedules whose next occurrence is on or
// after today, ascending by that occurrence. The occurrence is derived, so
// filtering and ordering happen here rather than in SQL.
func (st *Store) Upcoming(ctx context.Context, userID int, today time.Time) ([]models.Schedule, error) {
	schedules, err := st.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	today = Date(today)
	upcoming := []models.Schedule{}
	for _, s := range schedules {
		if !NextOccurrence(s.EventDate, s.Repeat(), today).Before(today) {
			upcoming = append(upcoming, s)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		oi := NextOccurrence(upcoming[i].EventDate, upcoming[i].Repeat(), today)
		oj := NextOccurrence(upcoming[j].EventDate, upcoming[j].Repeat(), today)
		return oi.Before(oj)
	})
	return upcoming, nil
}

// InRange returns the user's active schedules whose next occurrence relative
// to `from` falls within [from, to] inclusive.
func (st *Store) InRange(ctx context.Context, userID int, from, to time.Time) ([]models.Schedule, error) {
	schedules, err := st.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	from, to = Date(from), Date(to)
	matched := []models.Schedule{}
	for _, s := range schedules {
		occ := NextOccurrence(s.EventDate, s.Repeat(), from)
		if !occ.Before(from) && !occ.After(to) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// ListActive returns every active schedule across all users. This is the
// dispatch cycle's global sweep.
func (st *Store) ListActive(ctx context.Context) ([]models.Schedule, error) {
	return st.list(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE status = 'active' ORDER BY id ASC")
}

func (st *Store) checkOwner(ctx context.Context, id, userID int) error {
	var ownerID int
	err := st.db.QueryRowContext(ctx, "SELECT user_id FROM schedules WHERE id = ?", id).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if ownerID != userID {
		return ErrForbidden
	}
	return nil
}

func (st *Store) get(ctx context.Context, id int) (models.Schedule, error) {
	row := st.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return models.Schedule{}, ErrNotFound
	}
	return s, err
}

func (st *Store) list(ctx context.Context, query string, args ...interface{}) ([]models.Schedule, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []models.Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (models.Schedule, error) {
	var (
		s           models.Schedule
		description sql.NullString
		eventDate   string
		offsetsJSON sql.NullString
		gift        sql.NullString
		repeatType  sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.Title, &description, &eventDate, &s.EventType,
		&offsetsJSON, &gift, &s.IsRepeated, &repeatType, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return models.Schedule{}, err
	}

	s.Description = description.String
	s.GiftSuggestion = gift.String
	s.RepeatType = models.RepeatType(repeatType.String)

	s.EventDate, err = time.ParseInLocation("2006-01-02", eventDate, time.UTC)
	if err != nil {
		return models.Schedule{}, err
	}

	s.ReminderOffsets = []int{}
	if offsetsJSON.Valid && offsetsJSON.String != "" {
		if err := json.Unmarshal([]byte(offsetsJSON.String), &s.ReminderOffsets); err != nil {
			return models.Schedule{}, err
		}
	}
	return s, nil
}

// validateRequest enforces the schedule invariants and normalizes the offset
// list (duplicates collapsed, ascending).
func validateRequest(req models.CreateScheduleRequest) (time.Time, []int, error) {
	if req.Title == "" {
		return time.Time{}, nil, invalid("title", "must not be empty")
	}
	if req.EventDate == "" {
		return time.Time{}, nil, invalid("event_date", "is required")
	}
	eventDate, err := time.ParseInLocation("2006-01-02", req.EventDate, time.UTC)
	if err != nil {
		return time.Time{}, nil, invalid("event_date", "must be formatted YYYY-MM-DD")
	}
	if !req.EventType.Valid() {
		return time.Time{}, nil, invalid("event_type", "must be one of birthday, anniversary, holiday, custom")
	}
	if req.IsRepeated {
		switch req.RepeatType {
		case models.RepeatYearly, models.RepeatMonthly, models.RepeatWeekly:
		default:
			return time.Time{}, nil, invalid("repeat_type", "repeating schedules need yearly, monthly or weekly")
		}
	} else if req.RepeatType != "" && req.RepeatType != models.RepeatNone {
		return time.Time{}, nil, invalid("repeat_type", "set is_repeated to use a repeat policy")
	}

	seen := map[int]bool{}
	offsets := []int{}
	for _, d := range req.ReminderOffsets {
		if d < 0 {
			return time.Time{}, nil, invalid("reminder_offsets", "offsets must be non-negative")
		}
		if !seen[d] {
			seen[d] = true
			offsets = append(offsets, d)
		}
	}
	sort.Ints(offsets)

	return eventDate, offsets, nil
}

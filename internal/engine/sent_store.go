package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/circle97/beman-sub001/internal/models"
)

// SentStore records which firings were already dispatched. It must survive
// restarts; a crash-and-restart within the same day must not re-notify.
type SentStore interface {
	// Seen reports whether the firing was already recorded as sent.
	Seen(ctx context.Context, f models.Firing) (bool, error)
	// MarkSent records the firing. Returns false when another writer got
	// there first; the insert is atomic per key either way.
	MarkSent(ctx context.Context, f models.Firing) (bool, error)
	// PurgeBefore drops records older than cutoff and returns how many were
	// removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteSentStore backs SentStore with the sent_reminders table. The UNIQUE
// constraint on (schedule_id, occurrence_date, offset_days) provides the
// required insert-once semantics.
type SQLiteSentStore struct {
	db *sql.DB
}

func NewSentStore(db *sql.DB) *SQLiteSentStore {
	return &SQLiteSentStore{db: db}
}

func (st *SQLiteSentStore) Seen(ctx context.Context, f models.Firing) (bool, error) {
	var one int
	err := st.db.QueryRowContext(ctx,
		"SELECT 1 FROM sent_reminders WHERE schedule_id = ? AND occurrence_date = ? AND offset_days = ?",
		f.ScheduleID, f.Occurrence.Format("2006-01-02"), f.OffsetDays,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (st *SQLiteSentStore) MarkSent(ctx context.Context, f models.Firing) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sent_reminders (schedule_id, occurrence_date, offset_days) VALUES (?, ?, ?)",
		f.ScheduleID, f.Occurrence.Format("2006-01-02"), f.OffsetDays,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (st *SQLiteSentStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := st.db.ExecContext(ctx,
		"DELETE FROM sent_reminders WHERE sent_at < ?",
		cutoff.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

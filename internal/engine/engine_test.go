package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/circle97/beman-sub001/internal/database"
	"github.com/circle97/beman-sub001/internal/engine"
	"github.com/circle97/beman-sub001/internal/models"
	"github.com/circle97/beman-sub001/internal/schedule"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// fakeNotifier records delivered firings and can be told to fail for
// specific schedules.
type fakeNotifier struct {
	mu     sync.Mutex
	calls  []models.Firing
	failFn func(s models.Schedule) error
}

func (n *fakeNotifier) Notify(_ context.Context, s models.Schedule, f models.Firing) error {
	if n.failFn != nil {
		if err := n.failFn(s); err != nil {
			return err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, f)
	return nil
}

func (n *fakeNotifier) delivered() []models.Firing {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Firing, len(n.calls))
	copy(out, n.calls)
	return out
}

type fixture struct {
	db     *sql.DB
	store  *schedule.Store
	sent   *engine.SQLiteSentStore
	userID int
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Initialize(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	res, err := db.Exec("INSERT INTO users (username, password_hash) VALUES ('alice', 'x')")
	if err != nil {
		t.Fatal(err)
	}
	userID, _ := res.LastInsertId()

	return &fixture{
		db:     db,
		store:  schedule.NewStore(db),
		sent:   engine.NewSentStore(db),
		userID: int(userID),
	}
}

func (fx *fixture) addSchedule(t *testing.T, req models.CreateScheduleRequest) models.Schedule {
	t.Helper()
	s, err := fx.store.Create(context.Background(), fx.userID, req)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newCycle(fx *fixture, notifier engine.Notifier, now time.Time) *engine.Cycle {
	return engine.New(engine.Config{}, fx.store, fx.sent, notifier, fixedClock{now: now}, zerolog.Nop())
}

func TestTickDispatchesOnce(t *testing.T) {
	fx := setup(t)
	now := time.Date(2025, 6, 9, 10, 30, 0, 0, time.UTC)

	// Yearly event on June 16th: next occurrence is 7 days out, so the
	// 7-day offset is due today and the 1-day offset is not.
	fx.addSchedule(t, models.CreateScheduleRequest{
		Title:           "anniversary",
		EventDate:       "1990-06-16",
		EventType:       models.EventAnniversary,
		ReminderOffsets: []int{1, 7},
		IsRepeated:      true,
		RepeatType:      models.RepeatYearly,
	})

	notifier := &fakeNotifier{}
	cycle := newCycle(fx, notifier, now)

	if err := cycle.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := notifier.delivered()
	if len(calls) != 1 {
		t.Fatalf("delivered %d firings, want 1", len(calls))
	}
	if calls[0].OffsetDays != 7 {
		t.Fatalf("fired offset %d, want 7", calls[0].OffsetDays)
	}
	if !calls[0].Occurrence.Equal(time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurrence = %s", calls[0].Occurrence)
	}

	// Re-running the same day must not re-notify.
	if err := cycle.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(notifier.delivered()); got != 1 {
		t.Fatalf("second tick re-delivered: total %d firings", got)
	}
}

func TestTickSurvivesRestart(t *testing.T) {
	fx := setup(t)
	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

	fx.addSchedule(t, models.CreateScheduleRequest{
		Title:           "birthday",
		EventDate:       "2000-06-16",
		EventType:       models.EventBirthday,
		ReminderOffsets: []int{1},
		IsRepeated:      true,
		RepeatType:      models.RepeatYearly,
	})

	notifier := &fakeNotifier{}
	if err := newCycle(fx, notifier, now).RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.delivered()) != 1 {
		t.Fatalf("delivered %d, want 1", len(notifier.delivered()))
	}

	// A fresh cycle over the same database stands in for a process restart.
	// The sent record persists, so nothing fires again.
	if err := newCycle(fx, notifier, now.Add(2*time.Hour)).RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(notifier.delivered()); got != 1 {
		t.Fatalf("restarted cycle re-delivered: total %d", got)
	}
}

func TestNotifyFailureRetriesNextTick(t *testing.T) {
	fx := setup(t)
	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

	failing := fx.addSchedule(t, models.CreateScheduleRequest{
		Title:           "flaky",
		EventDate:       "2000-06-16",
		EventType:       models.EventBirthday,
		ReminderOffsets: []int{1},
		IsRepeated:      true,
		RepeatType:      models.RepeatYearly,
	})
	fx.addSchedule(t, models.CreateScheduleRequest{
		Title:           "healthy",
		EventDate:       "2000-06-16",
		EventType:       models.EventBirthday,
		ReminderOffsets: []int{1},
		IsRepeated:      true,
		RepeatType:      models.RepeatYearly,
	})

	notifier := &fakeNotifier{
		failFn: func(s models.Schedule) error {
			if s.ID == failing.ID {
				return errors.New("push gateway down")
			}
			return nil
		},
	}
	cycle := newCycle(fx, notifier, now)

	// Failure on one schedule must not block the other, and must not fail
	// the tick itself.
	if err := cycle.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := notifier.delivered()
	if len(calls) != 1 {
		t.Fatalf("delivered %d firings, want 1", len(calls))
	}
	if calls[0].ScheduleID == failing.ID {
		t.Fatal("the failing schedule was recorded as delivered")
	}

	// Once the notifier recovers, the missed firing goes out.
	notifier.failFn = nil
	if err := cycle.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(notifier.delivered()); got != 2 {
		t.Fatalf("delivered %d firings after recovery, want 2", got)
	}
}

func TestPastOneOffAutoCompletes(t *testing.T) {
	fx := setup(t)
	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

	s := fx.addSchedule(t, models.CreateScheduleRequest{
		Title:           "dentist",
		EventDate:       "2025-06-01",
		EventType:       models.EventCustom,
		ReminderOffsets: []int{0},
	})

	notifier := &fakeNotifier{}
	if err := newCycle(fx, notifier, now).RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.delivered()) != 0 {
		t.Fatal("past one-off schedule produced a firing")
	}

	got, err := fx.store.Get(context.Background(), s.ID, fx.userID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestMarkSentIsAtomicPerKey(t *testing.T) {
	fx := setup(t)
	f := models.Firing{
		ScheduleID: 1,
		Occurrence: time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC),
		OffsetDays: 7,
	}

	s := fx.addSchedule(t, models.CreateScheduleRequest{
		Title:     "anchor",
		EventDate: "2025-06-16",
		EventType: models.EventCustom,
	})
	f.ScheduleID = s.ID

	recorded, err := fx.sent.MarkSent(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	if !recorded {
		t.Fatal("first MarkSent reported not recorded")
	}

	recorded, err = fx.sent.MarkSent(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	if recorded {
		t.Fatal("second MarkSent for the same key reported recorded")
	}

	seen, err := fx.sent.Seen(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("recorded firing not seen")
	}
}

func TestPurgeKeepsRecentRecords(t *testing.T) {
	fx := setup(t)
	// Rows inserted without an explicit sent_at stamp with the database's
	// real clock, so the purge clock has to be real time too.
	now := time.Now().UTC()

	s := fx.addSchedule(t, models.CreateScheduleRequest{
		Title:     "anchor",
		EventDate: "2025-06-16",
		EventType: models.EventCustom,
	})

	// One stale record and one fresh one.
	if _, err := fx.db.Exec(
		"INSERT INTO sent_reminders (schedule_id, occurrence_date, offset_days, sent_at) VALUES (?, '2025-05-01', 0, datetime('now', '-40 days'))",
		s.ID,
	); err != nil {
		t.Fatal(err)
	}
	fresh := models.Firing{ScheduleID: s.ID, Occurrence: time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), OffsetDays: 1}
	if _, err := fx.sent.MarkSent(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}

	cycle := engine.New(engine.Config{Retention: 30 * 24 * time.Hour}, fx.store, fx.sent, &fakeNotifier{}, fixedClock{now: now}, zerolog.Nop())
	if err := cycle.RunPurge(context.Background()); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := fx.db.QueryRow("SELECT COUNT(*) FROM sent_reminders").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("have %d sent records after purge, want 1", count)
	}
	seen, err := fx.sent.Seen(context.Background(), fresh)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("purge removed a record inside the retention window")
	}
}

func TestStartAndStop(t *testing.T) {
	fx := setup(t)
	cycle := engine.New(
		engine.Config{TickSpec: "@every 1h", PurgeSpec: "0 3 * * *"},
		fx.store, fx.sent, &fakeNotifier{}, nil, zerolog.Nop(),
	)

	if err := cycle.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cycle.Stop(ctx)
}

func TestStartRejectsBadSpec(t *testing.T) {
	fx := setup(t)
	cycle := engine.New(
		engine.Config{TickSpec: "not a cron spec"},
		fx.store, fx.sent, &fakeNotifier{}, nil, zerolog.Nop(),
	)
	if err := cycle.Start(); err == nil {
		t.Fatal("expected error for malformed tick spec")
	}
}

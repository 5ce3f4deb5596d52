package api

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/circle97/beman-sub001/internal/models"
	"github.com/circle97/beman-sub001/internal/schedule"
)

// ScheduleView is a Schedule plus the derived fields clients render: the next
// concrete occurrence and how far away it is.
type ScheduleView struct {
	models.Schedule
	NextOccurrence string `json:"next_occurrence"`
	DaysUntil      int    `json:"days_until"`
	Upcoming       bool   `json:"upcoming"`
}

func toView(s models.Schedule, today time.Time) ScheduleView {
	occ := schedule.NextOccurrence(s.EventDate, s.Repeat(), today)
	days := schedule.DaysUntil(occ, today)
	return ScheduleView{
		Schedule:       s,
		NextOccurrence: occ.Format("2006-01-02"),
		DaysUntil:      days,
		Upcoming:       days >= 0 && days <= 30,
	}
}

func toViews(schedules []models.Schedule, today time.Time) []ScheduleView {
	views := make([]ScheduleView, 0, len(schedules))
	for _, s := range schedules {
		views = append(views, toView(s, today))
	}
	return views
}

// storeErr maps store errors onto HTTP status codes.
func storeErr(err error) error {
	var verr *schedule.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, schedule.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Schedule not found")
	case errors.Is(err, schedule.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, "Not authorized")
	case errors.As(err, &verr):
		return fiber.NewError(fiber.StatusBadRequest, verr.Error())
	default:
		return err
	}
}

func CreateScheduleHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		var req models.CreateScheduleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		s, err := store.Create(c.Context(), userID, req)
		if err != nil {
			return storeErr(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toView(s, time.Now().UTC()))
	}
}

func ListSchedulesHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		schedules, err := store.ListForUser(c.Context(), userID)
		if err != nil {
			return err
		}

		if t := c.Query("type"); t != "" {
			filtered := schedules[:0]
			for _, s := range schedules {
				if s.EventType == models.EventType(t) {
					filtered = append(filtered, s)
				}
			}
			schedules = filtered
		}
		return c.JSON(toViews(schedules, time.Now().UTC()))
	}
}

func UpcomingSchedulesHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		schedules, err := store.Upcoming(c.Context(), userID, time.Now().UTC())
		if err != nil {
			return err
		}
		return c.JSON(toViews(schedules, time.Now().UTC()))
	}
}

func SchedulesInRangeHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		from, err := time.ParseInLocation("2006-01-02", c.Query("from"), time.UTC)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid or missing 'from' date")
		}
		to, err := time.ParseInLocation("2006-01-02", c.Query("to"), time.UTC)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid or missing 'to' date")
		}
		if to.Before(from) {
			return fiber.NewError(fiber.StatusBadRequest, "'to' must not be before 'from'")
		}

		schedules, err := store.InRange(c.Context(), userID, from, to)
		if err != nil {
			return err
		}
		return c.JSON(toViews(schedules, from))
	}
}

func GetScheduleHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid schedule ID")
		}

		s, err := store.Get(c.Context(), id, userID)
		if err != nil {
			return storeErr(err)
		}
		return c.JSON(toView(s, time.Now().UTC()))
	}
}

func UpdateScheduleHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid schedule ID")
		}

		var req models.CreateScheduleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		s, err := store.Update(c.Context(), id, userID, req)
		if err != nil {
			return storeErr(err)
		}
		return c.JSON(toView(s, time.Now().UTC()))
	}
}

func CompleteScheduleHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid schedule ID")
		}

		if err := store.Complete(c.Context(), id, userID); err != nil {
			return storeErr(err)
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

func CancelScheduleHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid schedule ID")
		}

		if err := store.Cancel(c.Context(), id, userID); err != nil {
			return storeErr(err)
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

func DeleteScheduleHandler(db *sql.DB) fiber.Handler {
	store := schedule.NewStore(db)
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid schedule ID")
		}

		if err := store.Delete(c.Context(), id, userID); err != nil {
			return storeErr(err)
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

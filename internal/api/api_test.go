package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/circle97/beman-sub001/internal/api"
	"github.com/circle97/beman-sub001/internal/database"
	"github.com/circle97/beman-sub001/internal/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := database.Initialize(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func setupTestApp(db *sql.DB) *fiber.App {
	app := fiber.New()
	api.SetupRoutes(app, db)
	return app
}

func registerUser(t *testing.T, app *fiber.App, username string) string {
	t.Helper()
	body, _ := json.Marshal(models.RegisterRequest{
		Username: username,
		Password: "password123",
	})
	req := httptest.NewRequest("POST", "/api/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 201 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("register failed with %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var authResp models.AuthResponse
	bodyBytes, _ := io.ReadAll(resp.Body)
	json.Unmarshal(bodyBytes, &authResp)
	if authResp.Token == "" {
		t.Fatal("Expected token in register response")
	}
	return authResp.Token
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, payload interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		body, _ := json.Marshal(payload)
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, bodyBytes
}

func validSchedulePayload() models.CreateScheduleRequest {
	return models.CreateScheduleRequest{
		Title:           "Mom's birthday",
		EventDate:       "1965-03-12",
		EventType:       models.EventBirthday,
		ReminderOffsets: []int{7, 1},
		GiftSuggestion:  "flowers",
		IsRepeated:      true,
		RepeatType:      models.RepeatYearly,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)

	registerUser(t, app, "testuser")

	loginReq := models.LoginRequest{
		Username: "testuser",
		Password: "password123",
	}
	body, _ := json.Marshal(loginReq)
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var loginResp models.AuthResponse
	bodyBytes, _ := io.ReadAll(resp.Body)
	json.Unmarshal(bodyBytes, &loginResp)
	if loginResp.Token == "" {
		t.Fatal("Expected token in response")
	}

	// Wrong password is rejected
	loginReq.Password = "wrong"
	body, _ = json.Marshal(loginReq)
	req = httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("Expected status 401 for bad password, got %d", resp.StatusCode)
	}
}

func TestSchedulesRequireAuth(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)

	status, _ := doJSON(t, app, "GET", "/api/schedules/", "", nil)
	if status != 401 {
		t.Fatalf("Expected status 401 without token, got %d", status)
	}
}

func TestCreateSchedule(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	status, body := doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())
	if status != 201 {
		t.Fatalf("Expected status 201, got %d: %s", status, string(body))
	}

	var view api.ScheduleView
	json.Unmarshal(body, &view)
	if view.ID == 0 {
		t.Fatal("Expected schedule ID in response")
	}
	if view.Title != "Mom's birthday" {
		t.Fatalf("Expected title in response, got %q", view.Title)
	}
	if view.Status != models.StatusActive {
		t.Fatalf("Expected active status, got %s", view.Status)
	}
	if view.NextOccurrence == "" {
		t.Fatal("Expected derived next_occurrence in response")
	}
	if view.DaysUntil < 0 {
		t.Fatalf("Yearly schedule should never be overdue, days_until = %d", view.DaysUntil)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	payloads := []models.CreateScheduleRequest{
		{Title: "", EventDate: "2026-01-01", EventType: models.EventCustom},
		{Title: "x", EventDate: "not-a-date", EventType: models.EventCustom},
		{Title: "x", EventDate: "2026-01-01", EventType: "party"},
		{Title: "x", EventDate: "2026-01-01", EventType: models.EventCustom, ReminderOffsets: []int{-1}},
		{Title: "x", EventDate: "2026-01-01", EventType: models.EventCustom, IsRepeated: true},
	}
	for i, p := range payloads {
		status, body := doJSON(t, app, "POST", "/api/schedules/", token, p)
		if status != 400 {
			t.Fatalf("payload %d: expected status 400, got %d: %s", i, status, string(body))
		}
	}
}

func TestListSchedulesWithTypeFilter(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())

	custom := validSchedulePayload()
	custom.Title = "Visa renewal"
	custom.EventType = models.EventCustom
	custom.IsRepeated = false
	custom.RepeatType = ""
	custom.EventDate = "2030-01-15"
	doJSON(t, app, "POST", "/api/schedules/", token, custom)

	status, body := doJSON(t, app, "GET", "/api/schedules/", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var views []api.ScheduleView
	json.Unmarshal(body, &views)
	if len(views) != 2 {
		t.Fatalf("Expected 2 schedules, got %d", len(views))
	}

	status, body = doJSON(t, app, "GET", "/api/schedules/?type=birthday", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}
	views = nil
	json.Unmarshal(body, &views)
	if len(views) != 1 || views[0].EventType != models.EventBirthday {
		t.Fatalf("Expected only the birthday schedule, got %+v", views)
	}
}

func TestUpcomingSchedules(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())

	status, body := doJSON(t, app, "GET", "/api/schedules/upcoming", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}
	var views []api.ScheduleView
	json.Unmarshal(body, &views)
	if len(views) != 1 {
		t.Fatalf("Expected 1 upcoming schedule, got %d", len(views))
	}
	if views[0].DaysUntil < 0 {
		t.Fatalf("Upcoming schedule has negative days_until: %d", views[0].DaysUntil)
	}
}

func TestSchedulesInRange(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())

	// The yearly March 12th schedule falls inside a March window.
	status, body := doJSON(t, app, "GET", "/api/schedules/range?from=2030-03-01&to=2030-03-31", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}
	var views []api.ScheduleView
	json.Unmarshal(body, &views)
	if len(views) != 1 {
		t.Fatalf("Expected 1 schedule in range, got %d", len(views))
	}

	status, body = doJSON(t, app, "GET", "/api/schedules/range?from=2030-04-01&to=2030-04-30", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}
	views = nil
	json.Unmarshal(body, &views)
	if len(views) != 0 {
		t.Fatalf("Expected no schedules in range, got %d", len(views))
	}

	status, _ = doJSON(t, app, "GET", "/api/schedules/range?from=2030-04-30&to=2030-04-01", token, nil)
	if status != 400 {
		t.Fatalf("Expected status 400 for inverted range, got %d", status)
	}

	status, _ = doJSON(t, app, "GET", "/api/schedules/range", token, nil)
	if status != 400 {
		t.Fatalf("Expected status 400 for missing range params, got %d", status)
	}
}

func TestCompleteAndCancelSchedule(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	_, body := doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())
	var created api.ScheduleView
	json.Unmarshal(body, &created)
	id := strconv.Itoa(created.ID)

	status, _ := doJSON(t, app, "PUT", "/api/schedules/"+id+"/cancel", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200 on cancel, got %d", status)
	}

	status, body = doJSON(t, app, "GET", "/api/schedules/"+id, token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var got api.ScheduleView
	json.Unmarshal(body, &got)
	if got.Status != models.StatusCancelled {
		t.Fatalf("Expected cancelled status, got %s", got.Status)
	}

	// Cancelled schedules drop out of the list
	_, body = doJSON(t, app, "GET", "/api/schedules/", token, nil)
	var views []api.ScheduleView
	json.Unmarshal(body, &views)
	if len(views) != 0 {
		t.Fatalf("Expected cancelled schedule to be excluded, got %d", len(views))
	}
}

func TestScheduleOwnership(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	aliceToken := registerUser(t, app, "alice")
	bobToken := registerUser(t, app, "bob")

	_, body := doJSON(t, app, "POST", "/api/schedules/", aliceToken, validSchedulePayload())
	var created api.ScheduleView
	json.Unmarshal(body, &created)
	id := strconv.Itoa(created.ID)

	status, _ := doJSON(t, app, "GET", "/api/schedules/"+id, bobToken, nil)
	if status != 403 {
		t.Fatalf("Expected status 403 for other user's schedule, got %d", status)
	}
	status, _ = doJSON(t, app, "DELETE", "/api/schedules/"+id, bobToken, nil)
	if status != 403 {
		t.Fatalf("Expected status 403 on cross-user delete, got %d", status)
	}
	status, _ = doJSON(t, app, "GET", "/api/schedules/99999", aliceToken, nil)
	if status != 404 {
		t.Fatalf("Expected status 404 for missing schedule, got %d", status)
	}
}

func TestUpdateSchedule(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	_, body := doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())
	var created api.ScheduleView
	json.Unmarshal(body, &created)

	update := validSchedulePayload()
	update.Title = "Mum's birthday"
	update.ReminderOffsets = []int{14, 3}
	status, body := doJSON(t, app, "PUT", "/api/schedules/"+strconv.Itoa(created.ID), token, update)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}
	var updated api.ScheduleView
	json.Unmarshal(body, &updated)
	if updated.Title != "Mum's birthday" {
		t.Fatalf("Expected updated title, got %q", updated.Title)
	}
	if len(updated.ReminderOffsets) != 2 || updated.ReminderOffsets[0] != 3 {
		t.Fatalf("Expected normalized offsets [3 14], got %v", updated.ReminderOffsets)
	}
}

func TestDeleteSchedule(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	_, body := doJSON(t, app, "POST", "/api/schedules/", token, validSchedulePayload())
	var created api.ScheduleView
	json.Unmarshal(body, &created)
	id := strconv.Itoa(created.ID)

	status, _ := doJSON(t, app, "DELETE", "/api/schedules/"+id, token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200 on delete, got %d", status)
	}
	status, _ = doJSON(t, app, "GET", "/api/schedules/"+id, token, nil)
	if status != 404 {
		t.Fatalf("Expected status 404 after delete, got %d", status)
	}
}

func TestPushSubscribeLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	sub := models.PushSubscription{
		Endpoint: "https://push.example.com/sub/1",
		P256dh:   "pk",
		Auth:     "authsecret",
	}
	status, body := doJSON(t, app, "POST", "/api/push/subscribe", token, sub)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	// Subscribing the same endpoint again upserts rather than erroring
	status, _ = doJSON(t, app, "POST", "/api/push/subscribe", token, sub)
	if status != 200 {
		t.Fatalf("Expected status 200 on repeat subscribe, got %d", status)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM push_subscriptions").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 subscription row, got %d", count)
	}

	status, _ = doJSON(t, app, "DELETE", "/api/push/unsubscribe", token, map[string]string{
		"endpoint": "https://push.example.com/sub/1",
	})
	if status != 200 {
		t.Fatalf("Expected status 200 on unsubscribe, got %d", status)
	}
}

func TestUserProfileAndEmail(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app := setupTestApp(db)
	token := registerUser(t, app, "testuser")

	status, _ := doJSON(t, app, "PUT", "/api/user/email", token, map[string]string{"email": "not-an-email"})
	if status != 400 {
		t.Fatalf("Expected status 400 for invalid email, got %d", status)
	}

	status, _ = doJSON(t, app, "PUT", "/api/user/email", token, map[string]string{"email": "test@example.com"})
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}

	status, body := doJSON(t, app, "GET", "/api/user/profile", token, nil)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var profile struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	json.Unmarshal(body, &profile)
	if profile.Username != "testuser" {
		t.Fatalf("Expected username in profile, got %q", profile.Username)
	}
	if profile.Email != "test@example.com" {
		t.Fatalf("Expected stored email in profile, got %q", profile.Email)
	}
}

package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskboard/api/internal/store"
)

func newTestHandler(data *fakeData) (http.Handler, *Service) {
	service := newTestService(data, nil)
	return NewHTTPServer(service, "*", nil).Handler(), service
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: bad response body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func loginToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec, body := doJSON(t, handler, http.MethodPost, "/api/session/login", "", `{"name":"Alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login response missing token")
	}
	return token
}

func TestHealthAndReady(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})

	rec, body := doJSON(t, handler, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Errorf("health: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/ready", "", "")
	if rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("ready: %d %v", rec.Code, body)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	})

	rec, body := doJSON(t, handler, http.MethodGet, "/api/ready", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body["status"] != "not_ready" {
		t.Errorf("body = %v", body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/tasks?projectId=proj1"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodGet, "/api/notifications"},
		{http.MethodPost, "/api/session/ticket"},
		{http.MethodGet, "/api/search?q=x"},
	}
	for _, p := range paths {
		rec, body := doJSON(t, handler, p.method, p.path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status %d, want 401", p.method, p.path, rec.Code)
		}
		errObj, _ := body["error"].(map[string]any)
		if errObj["code"] != "UNAUTHORIZED" {
			t.Errorf("%s %s: error %v", p.method, p.path, body)
		}
	}

	rec, _ := doJSON(t, handler, http.MethodGet, "/api/tasks", "garbage-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status %d, want 401", rec.Code)
	}
}

func TestSessionProbe(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})

	_, body := doJSON(t, handler, http.MethodGet, "/api/session", "", "")
	if body["authenticated"] != false {
		t.Errorf("anonymous probe = %v", body)
	}

	token := loginToken(t, handler)
	_, body = doJSON(t, handler, http.MethodGet, "/api/session", token, "")
	if body["authenticated"] != true || body["userId"] != "u1" {
		t.Errorf("authenticated probe = %v", body)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	stored := map[string]store.Task{}
	data := &fakeData{
		insertTaskFn: func(_ context.Context, task store.Task) (store.Task, error) {
			stored[task.ID] = task
			return task, nil
		},
		getTaskFn: func(_ context.Context, taskID string) (store.Task, error) {
			task, ok := stored[taskID]
			if !ok {
				return store.Task{}, sql.ErrNoRows
			}
			return task, nil
		},
	}
	handler, _ := newTestHandler(data)
	token := loginToken(t, handler)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/tasks", token,
		`{"projectId":"proj1","title":"Ship it","assignedTo":["u2"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	task, _ := body["task"].(map[string]any)
	taskID, _ := task["id"].(string)
	if taskID == "" || task["status"] != "todo" || task["createdBy"] != "u1" {
		t.Fatalf("created task = %v", task)
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/tasks/"+taskID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	task, _ = body["task"].(map[string]any)
	if task["title"] != "Ship it" {
		t.Errorf("fetched task = %v", task)
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/tasks/missing", token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing task: status %d body %v", rec.Code, body)
	}
}

func TestCreateTaskRejectsUnknownBodyFields(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})
	token := loginToken(t, handler)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/tasks", token,
		`{"projectId":"proj1","title":"x","version":9}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d body %v, want 400", rec.Code, body)
	}
}

func TestListTasksRequiresProject(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})
	token := loginToken(t, handler)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/tasks", token, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d body %v, want 400", rec.Code, body)
	}
}

func TestTaskActivityRoute(t *testing.T) {
	data := &fakeData{
		listTaskActivityFn: func(_ context.Context, taskID string, limit int) ([]store.Activity, error) {
			return []store.Activity{{ID: "act1", TaskID: taskID, Field: "status", ForOthers: "Alice moved it"}}, nil
		},
	}
	handler, _ := newTestHandler(data)
	token := loginToken(t, handler)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/tasks/task1/activity?limit=10", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	items, _ := body["activity"].([]any)
	if len(items) != 1 {
		t.Fatalf("activity = %v", body)
	}
	entry, _ := items[0].(map[string]any)
	message, _ := entry["message"].(map[string]any)
	if message["forOthers"] != "Alice moved it" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNotificationRoutes(t *testing.T) {
	marked := ""
	data := &fakeData{
		listNotificationsFn: func(_ context.Context, userID string, limit int) ([]store.Notification, error) {
			return []store.Notification{{ID: "n1", UserID: userID, Type: store.NotificationMention}}, nil
		},
		markNotificationReadFn: func(_ context.Context, notificationID, userID string) (bool, error) {
			marked = notificationID + "/" + userID
			return true, nil
		},
	}
	handler, _ := newTestHandler(data)
	token := loginToken(t, handler)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/notifications", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	items, _ := body["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("notifications = %v", body)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/notifications/n1/read", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: status %d", rec.Code)
	}
	if marked != "n1/u1" {
		t.Errorf("marked = %q, want n1/u1", marked)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})
	token := loginToken(t, handler)

	rec, _ := doJSON(t, handler, http.MethodGet, "/api/nope", token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	handler, _ := newTestHandler(&fakeData{})

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("CORS origin header = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	wsHandler  http.HandlerFunc
}

// NewHTTPServer wires the REST surface. wsHandler serves GET /ws and may be
// nil in tests that only exercise REST routes.
func NewHTTPServer(service *Service, corsOrigin string, wsHandler http.HandlerFunc) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, wsHandler: wsHandler}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/ws" {
		if s.wsHandler == nil {
			writeError(w, http.StatusNotImplemented, "NO_REALTIME", "Realtime is not configured", nil)
			return
		}
		s.wsHandler(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeServiceError(w, err, "LOGIN_FAILED", "Login failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    session.Token,
			"ticket":   session.Ticket,
			"userId":   session.UserID,
			"userName": session.UserName,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
		})
		return
	}

	// Everything below requires a session.
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/ticket" {
		ticket, err := s.service.IssueTicket(r.Context(), session.UserID)
		if err != nil {
			writeServiceError(w, err, "TICKET_FAILED", "Could not issue ticket")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tabs" {
		tabs, err := s.service.Tabs(r.Context())
		if err != nil {
			writeServiceError(w, err, "TABS_FAILED", "Could not list tabs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tabs": tabsJSON(tabs)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tasks" {
		tasks, err := s.service.ListTasks(r.Context(), r.URL.Query().Get("projectId"))
		if err != nil {
			writeServiceError(w, err, "LIST_TASKS_FAILED", "Could not list tasks")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasksJSON(tasks)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/tasks" {
		var input CreateTaskInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.CreateTask(r.Context(), input, session.UserID)
		if err != nil {
			writeServiceError(w, err, "CREATE_TASK_FAILED", "Could not create task")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"task": taskJSON(task)})
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/tasks/") {
		rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if taskID, found := strings.CutSuffix(rest, "/activity"); found {
			items, err := s.service.TaskActivity(r.Context(), taskID, queryInt(r, "limit"))
			if err != nil {
				writeServiceError(w, err, "ACTIVITY_FAILED", "Could not list activity")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"activity": activityJSON(items)})
			return
		}
		task, err := s.service.GetTask(r.Context(), rest)
		if err != nil {
			writeServiceError(w, err, "GET_TASK_FAILED", "Could not load task")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": taskJSON(task)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		items, err := s.service.Notifications(r.Context(), session.UserID, queryInt(r, "limit"))
		if err != nil {
			writeServiceError(w, err, "NOTIFICATIONS_FAILED", "Could not list notifications")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notificationsJSON(items)})
		return
	}

	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/notifications/") {
		rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
		if notificationID, found := strings.CutSuffix(rest, "/read"); found {
			if err := s.service.MarkNotificationRead(r.Context(), notificationID, session.UserID); err != nil {
				writeServiceError(w, err, "MARK_READ_FAILED", "Could not mark notification read")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		response := s.service.SearchTasks(search.Query{
			Text:            r.URL.Query().Get("q"),
			FilterProjectID: r.URL.Query().Get("projectId"),
			FilterStatus:    r.URL.Query().Get("status"),
			Limit:           queryInt(r, "limit"),
			Offset:          queryInt(r, "offset"),
		})
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		started := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/api/health" && r.URL.Path != "/api/ready" {
			log.Printf("http: %s %s (%s)", r.Method, r.URL.Path, time.Since(started).Round(time.Millisecond))
		}
	})
}

// --- helpers ---

func writeServiceError(w http.ResponseWriter, err error, fallbackCode, fallbackMessage string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	log.Printf("http: %s: %v", fallbackCode, err)
	writeError(w, http.StatusInternalServerError, fallbackCode, fallbackMessage, nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}

// --- response shaping ---

func taskJSON(t store.Task) map[string]any {
	assignedTo := t.AssignedTo
	if assignedTo == nil {
		assignedTo = []string{}
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	item := map[string]any{
		"id":          t.ID,
		"projectId":   t.ProjectID,
		"title":       t.Title,
		"description": t.Description,
		"createdBy":   t.CreatedBy,
		"assignedTo":  assignedTo,
		"status":      t.Status,
		"priority":    t.Priority,
		"dueDate":     t.DueDate,
		"tags":        tags,
		"color":       t.Color,
		"taskType":    t.TaskType,
		"version":     t.Version,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
	if len(t.CustomFields) > 0 {
		item["customFields"] = json.RawMessage(t.CustomFields)
	}
	return item
}

func tasksJSON(tasks []store.Task) []map[string]any {
	items := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskJSON(t))
	}
	return items
}

func tabsJSON(tabs []store.Tab) []map[string]any {
	items := make([]map[string]any, 0, len(tabs))
	for _, tab := range tabs {
		items = append(items, map[string]any{
			"id":        tab.ID,
			"channelId": tab.ChannelID,
			"name":      tab.Name,
		})
	}
	return items
}

func activityJSON(activities []store.Activity) []map[string]any {
	items := make([]map[string]any, 0, len(activities))
	for _, a := range activities {
		items = append(items, map[string]any{
			"id":        a.ID,
			"projectId": a.ProjectID,
			"taskId":    a.TaskID,
			"userId":    a.UserID,
			"action":    a.Action,
			"field":     a.Field,
			"oldValue":  json.RawMessage(a.OldValue),
			"newValue":  json.RawMessage(a.NewValue),
			"message": map[string]any{
				"forCreator": a.ForCreator,
				"forOthers":  a.ForOthers,
			},
			"createdAt": a.CreatedAt,
		})
	}
	return items
}

func notificationsJSON(notifications []store.Notification) []map[string]any {
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, map[string]any{
			"id":          n.ID,
			"type":        n.Type,
			"taskId":      n.TaskID,
			"projectId":   n.ProjectID,
			"createdBy":   n.CreatedBy,
			"title":       n.Title,
			"message":     n.Message,
			"contextPath": n.ContextPath,
			"isRead":      n.IsRead,
			"createdAt":   n.CreatedAt,
		})
	}
	return items
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// Session is an authenticated HTTP caller. Ticket is present only right
// after login or an explicit ticket request; it admits one websocket
// connection.
type Session struct {
	Token     string
	Ticket    string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type CreateTaskInput struct {
	ProjectID   string   `json:"projectId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	AssignedTo  []string `json:"assignedTo"`
	Tags        []string `json:"tags"`
}

// dataStore is the slice of the persistence layer the HTTP service needs.
type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetDefaultChannel(ctx context.Context) (store.Channel, error)
	InsertChannel(ctx context.Context, ch store.Channel) error
	InsertTab(ctx context.Context, tab store.Tab) error
	InsertProject(ctx context.Context, p store.Project) error
	AddChannelMember(ctx context.Context, channelID, userID string) error
	AddTabMember(ctx context.Context, tabID, userID string) error
	ListChannelTabs(ctx context.Context, channelID string) ([]store.Tab, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	InsertTask(ctx context.Context, task store.Task) (store.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]store.Task, error)
	ListTaskActivity(ctx context.Context, taskID string, limit int) ([]store.Activity, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error)
}

// ticketStore issues one-time websocket connect tickets. Redis when
// configured, the Postgres socket_tickets table otherwise.
type ticketStore interface {
	SaveTicket(ctx context.Context, ticketHash string, user store.User, expiresAt time.Time) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	tickets ticketStore
	search  *search.Service
}

func New(cfg config.Config, dataStore dataStore, tickets ticketStore, searchService *search.Service) *Service {
	return &Service{cfg: cfg, store: dataStore, tickets: tickets, search: searchService}
}

// Bootstrap seeds the default workspace (one channel, one tab, one project)
// on first run so a fresh deployment is immediately usable.
func (s *Service) Bootstrap(ctx context.Context) error {
	_, err := s.store.GetDefaultChannel(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("bootstrap: %w", err)
	}

	owner, err := s.store.EnsureUserByName(ctx, "Taskboard")
	if err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}

	channel := store.Channel{ID: util.NewID("chan"), Name: "General", OwnerID: owner.ID}
	if err := s.store.InsertChannel(ctx, channel); err != nil {
		return fmt.Errorf("bootstrap channel: %w", err)
	}
	tab := store.Tab{ID: util.NewID("tab"), ChannelID: channel.ID, Name: "Tasks"}
	if err := s.store.InsertTab(ctx, tab); err != nil {
		return fmt.Errorf("bootstrap tab: %w", err)
	}
	project := store.Project{
		ID:        util.NewID("proj"),
		TabID:     tab.ID,
		ChannelID: channel.ID,
		Name:      "Backlog",
		CreatedBy: owner.ID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return fmt.Errorf("bootstrap project: %w", err)
	}
	return nil
}

// Login resolves (or creates) the named user, adds them to the default
// workspace, and issues an access token plus a websocket ticket. Real
// authentication sits in front of this service; the name is trusted.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_NAME", "Name is required", nil)
	}

	user, err := s.store.EnsureUserByName(ctx, name)
	if err != nil {
		return Session{}, err
	}

	if channel, err := s.store.GetDefaultChannel(ctx); err == nil {
		_ = s.store.AddChannelMember(ctx, channel.ID, user.ID)
		if tabs, err := s.store.ListChannelTabs(ctx, channel.ID); err == nil {
			for _, tab := range tabs {
				_ = s.store.AddTabMember(ctx, tab.ID, user.ID)
			}
		}
	}

	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	ticket, err := s.mintTicket(ctx, user)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		Ticket:    ticket,
		UserID:    user.ID,
		UserName:  user.Name,
		ExpiresAt: expiresAt,
	}, nil
}

// IssueTicket mints a fresh websocket ticket for an already-authenticated
// session; clients call it when reconnecting.
func (s *Service) IssueTicket(ctx context.Context, userID string) (string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domainError(http.StatusUnauthorized, "UNKNOWN_USER", "Unknown user", nil)
		}
		return "", err
	}
	return s.mintTicket(ctx, user)
}

func (s *Service) mintTicket(ctx context.Context, user store.User) (string, error) {
	ticket := util.NewID("")
	err := s.tickets.SaveTicket(ctx, auth.HashToken(ticket), user, time.Now().Add(s.cfg.TicketTTL))
	if err != nil {
		return "", fmt.Errorf("mint ticket: %w", err)
	}
	return ticket, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) ListTasks(ctx context.Context, projectID string) ([]store.Task, error) {
	if projectID == "" {
		return nil, domainError(http.StatusBadRequest, "MISSING_PROJECT", "projectId is required", nil)
	}
	return s.store.ListTasksByProject(ctx, projectID)
}

func (s *Service) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, domainError(http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
	}
	return task, err
}

func (s *Service) CreateTask(ctx context.Context, input CreateTaskInput, userID string) (store.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Task{}, domainError(http.StatusBadRequest, "MISSING_TITLE", "Title is required", nil)
	}
	if _, err := s.store.GetProject(ctx, input.ProjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, domainError(http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil)
		}
		return store.Task{}, err
	}

	priority := input.Priority
	if priority == "" {
		priority = "medium"
	}

	task, err := s.store.InsertTask(ctx, store.Task{
		ID:          util.NewID("task"),
		ProjectID:   input.ProjectID,
		Title:       input.Title,
		Description: input.Description,
		CreatedBy:   userID,
		AssignedTo:  input.AssignedTo,
		Status:      "todo",
		Priority:    priority,
		Tags:        input.Tags,
	})
	if err != nil {
		return store.Task{}, err
	}

	if s.search != nil {
		s.search.IndexTask(task)
	}
	return task, nil
}

func (s *Service) TaskActivity(ctx context.Context, taskID string, limit int) ([]store.Activity, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListTaskActivity(ctx, taskID, limit)
}

func (s *Service) Notifications(ctx context.Context, userID string, limit int) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	updated, err := s.store.MarkNotificationRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !updated {
		return domainError(http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "Notification not found", nil)
	}
	return nil
}

func (s *Service) SearchTasks(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Tabs lists the default channel's tabs; clients use it to build their
// join-user-tabs message after connecting.
func (s *Service) Tabs(ctx context.Context) ([]store.Tab, error) {
	channel, err := s.store.GetDefaultChannel(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.store.ListChannelTabs(ctx, channel.ID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

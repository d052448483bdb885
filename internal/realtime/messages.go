package realtime

import (
	"encoding/json"
	"time"

	"taskboard/api/internal/store"
)

// Inbound message types.
const (
	msgJoinUserTabs = "join-user-tabs"
	msgJoinTask     = "join-task"
	msgLeaveTask    = "leave-task"
	msgTaskUpdate   = "task-update"
	msgTaskEditing  = "task-editing"
)

// Outbound message types.
const (
	msgTaskUpdateResponse = "task-update-response"
	msgTabActivity        = "tab-activity"
	msgNotification       = "notification"
	msgUserEditing        = "user-editing"
)

// inboundMessage is the envelope every client message arrives in. Fields are
// a union across message types; the type discriminator decides which matter.
type inboundMessage struct {
	Type      string          `json:"type"`
	TaskID    string          `json:"taskId,omitempty"`
	TabIDs    []string        `json:"tabs,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	Field     string          `json:"field,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Version   *int64          `json:"version,omitempty"`
	IsEditing bool            `json:"isEditing,omitempty"`
}

type userRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type messagePair struct {
	ForCreator string `json:"forCreator"`
	ForOthers  string `json:"forOthers"`
}

type activityPayload struct {
	ID        string      `json:"id"`
	Message   messagePair `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	User      userRef     `json:"user"`
}

// updateSuccess goes to the task room after an accepted update.
type updateSuccess struct {
	Type          string          `json:"type"`
	Success       bool            `json:"success"`
	TaskID        string          `json:"taskId"`
	Field         string          `json:"field"`
	PreviousValue any             `json:"previousValue"`
	NewValue      any             `json:"newValue"`
	Version       int64           `json:"version"`
	Activity      activityPayload `json:"activity"`
}

// updateFailure goes only to the requesting session.
type updateFailure struct {
	Type            string `json:"type"`
	Success         bool   `json:"success"`
	Error           string `json:"error"`
	TaskID          string `json:"taskId"`
	Field           string `json:"field"`
	Conflict        bool   `json:"conflict,omitempty"`
	CurrentVersion  int64  `json:"currentVersion,omitempty"`
	ProvidedVersion int64  `json:"providedVersion,omitempty"`
}

// taskSnapshot is the full task shape the tab activity feed receives.
type taskSnapshot struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"projectId"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	CreatedBy    string          `json:"createdBy"`
	AssignedTo   []string        `json:"assignedTo"`
	Status       string          `json:"status"`
	Priority     string          `json:"priority"`
	DueDate      *time.Time      `json:"dueDate"`
	Tags         []string        `json:"tags"`
	Color        string          `json:"color"`
	TaskType     string          `json:"taskType"`
	CustomFields json.RawMessage `json:"customFields,omitempty"`
	Version      int64           `json:"version"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func snapshotTask(t store.Task) taskSnapshot {
	assignedTo := t.AssignedTo
	if assignedTo == nil {
		assignedTo = []string{}
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskSnapshot{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		Title:        t.Title,
		Description:  t.Description,
		CreatedBy:    t.CreatedBy,
		AssignedTo:   assignedTo,
		Status:       t.Status,
		Priority:     t.Priority,
		DueDate:      t.DueDate,
		Tags:         tags,
		Color:        t.Color,
		TaskType:     t.TaskType,
		CustomFields: t.CustomFields,
		Version:      t.Version,
		UpdatedAt:    t.UpdatedAt,
	}
}

// tabActivity is the richer record the tab room receives: full task
// snapshot, the activity entry, and a banner ready for display.
type tabActivity struct {
	Type     string          `json:"type"`
	TabID    string          `json:"tabId"`
	TaskID   string          `json:"taskId"`
	Field    string          `json:"field"`
	Task     taskSnapshot    `json:"task"`
	Activity activityPayload `json:"activity"`
	Banner   string          `json:"banner"`
	User     userRef         `json:"user"`
}

type notificationMessage struct {
	Type         string             `json:"type"`
	Notification notificationShape  `json:"notification"`
}

type notificationShape struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Kind        string    `json:"kind"`
	TaskID      string    `json:"taskId,omitempty"`
	ProjectID   string    `json:"projectId,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	ContextPath string    `json:"contextPath"`
	CreatedAt   time.Time `json:"createdAt"`
}

// userEditing is the relayed presence signal, passed through unchanged.
type userEditing struct {
	Type      string `json:"type"`
	TaskID    string `json:"taskId"`
	Field     string `json:"field"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsEditing bool   `json:"isEditing"`
}

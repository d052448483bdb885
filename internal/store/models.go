package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Channel struct {
	ID        string
	Name      string
	OwnerID   string
	Members   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Tab struct {
	ID        string
	ChannelID string
	Name      string
	Members   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Project struct {
	ID        string
	TabID     string
	ChannelID string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is the collaboratively edited aggregate. Version increases by exactly
// one on every accepted field update; the increment happens inside a single
// UPDATE statement so it holds even if two processes race past the in-memory
// field locks.
type Task struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	CreatedBy    string
	AssignedTo   []string
	Status       string
	Priority     string
	DueDate      *time.Time
	Tags         []string
	Color        string
	TaskType     string
	CustomFields json.RawMessage
	Version      int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Activity is an append-only audit entry for one accepted change. Message
// carries two phrasings of the same event: one addressed to the actor and one
// for everybody else.
type Activity struct {
	ID         string
	ProjectID  string
	TaskID     string
	SubtaskID  string
	UserID     string
	Action     string
	Field      string
	OldValue   json.RawMessage
	NewValue   json.RawMessage
	ForCreator string
	ForOthers  string
	CreatedAt  time.Time
}

type Notification struct {
	ID          string
	UserID      string
	Type        string
	ChannelID   string
	TabID       string
	ProjectID   string
	TaskID      string
	CreatedBy   string
	Title       string
	Message     string
	ContextPath string
	IsRead      bool
	CreatedAt   time.Time
}

const (
	NotificationMention        = "MENTION"
	NotificationChannel        = "CHANNEL"
	NotificationWorkInProgress = "WORK_IN_PROGRESS"
)

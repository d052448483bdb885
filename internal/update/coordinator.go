package update

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"taskboard/api/internal/activity"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// Intent is one proposed change to one named attribute of one task. Version
// is the client's last-known task version; nil means the client did not send
// one and the optimistic check is skipped.
type Intent struct {
	TaskID  string
	Field   string
	Value   any
	UserID  string
	Version *int64
}

// Result describes an accepted update. The coordinator has already broadcast
// it to the task and tab rooms by the time Apply returns.
type Result struct {
	Task     store.Task
	Previous any
	New      any
	Activity store.Activity
	Actor    store.User
}

// Event is what the broadcaster receives for an accepted update. The
// broadcaster shapes it differently for the task room (minimal delta) and
// the tab room (full snapshot plus banner).
type Event struct {
	TaskID   string
	TabID    string
	Field    string
	Previous any
	New      any
	Version  int64
	Task     store.Task
	Activity store.Activity
	Actor    store.User
}

// Store is the slice of the persistence layer the coordinator needs. Every
// call is a single atomic document operation.
type Store interface {
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetTab(ctx context.Context, tabID string) (store.Tab, error)
	GetChannel(ctx context.Context, channelID string) (store.Channel, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	UpdateTaskField(ctx context.Context, taskID, field string, value any) (store.Task, error)
	InsertActivity(ctx context.Context, a store.Activity) error
	InsertNotification(ctx context.Context, n store.Notification) error
}

// Broadcaster fans an accepted update out to connected clients. Both calls
// are best-effort; the coordinator never fails an update because of them.
type Broadcaster interface {
	EmitTaskEvent(evt Event)
	EmitUserNotification(userID string, n store.Notification)
}

// Indexer is the optional search side channel.
type Indexer interface {
	IndexTask(task store.Task)
}

// Coordinator runs the per-field update state machine: validate, claim the
// field lock, load and authorize, version-check, persist atomically, then
// log activity, fan out notifications, and broadcast. Failures before the
// persist step leave the task untouched; failures after it are logged and
// swallowed because the persisted field value is the source of truth.
type Coordinator struct {
	store     Store
	locks     *LockTable
	broadcast Broadcaster
	indexer   Indexer

	newID func(prefix string) string
}

// NewCoordinator wires the coordinator. indexer may be nil.
func NewCoordinator(st Store, locks *LockTable, broadcast Broadcaster, indexer Indexer) *Coordinator {
	return &Coordinator{
		store:     st,
		locks:     locks,
		broadcast: broadcast,
		indexer:   indexer,
		newID:     util.NewID,
	}
}

// Apply runs one update intent to completion. On failure it returns a typed
// *Error describing the terminal step; nothing is broadcast for failures,
// the caller reports them to the originating connection only.
func (c *Coordinator) Apply(ctx context.Context, intent Intent) (Result, *Error) {
	// Shape check: these three identify the intent; everything else can be
	// defaulted or rejected later.
	switch {
	case intent.TaskID == "":
		return Result{}, errMissingField("taskId")
	case intent.Field == "":
		return Result{}, errMissingField("field")
	case intent.UserID == "":
		return Result{}, errMissingField("userId")
	}

	if !ValidateField(intent.Field, intent.Value) {
		return Result{}, errInvalidValue(intent.Field, intent.Value)
	}

	if !c.locks.TryClaim(intent.TaskID, intent.Field, intent.UserID) {
		return Result{}, errConcurrentUpdate(intent.Field)
	}
	// Whatever happens past this point, the field must become claimable
	// again; a leaked entry would stall every future edit of this field
	// until the staleness sweep.
	defer c.locks.Release(intent.TaskID, intent.Field)

	task, err := c.store.GetTask(ctx, intent.TaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, errNotFound("task")
		}
		return Result{}, errPersistence(err)
	}

	if intent.Version != nil && *intent.Version < task.Version {
		return Result{}, errStaleVersion(task.Version, *intent.Version)
	}

	project, err := c.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return Result{}, loadErr("project", err)
	}
	tab, err := c.store.GetTab(ctx, project.TabID)
	if err != nil {
		return Result{}, loadErr("tab", err)
	}
	channel, err := c.store.GetChannel(ctx, project.ChannelID)
	if err != nil {
		return Result{}, loadErr("channel", err)
	}
	actor, err := c.store.GetUser(ctx, intent.UserID)
	if err != nil {
		return Result{}, loadErr("user", err)
	}

	if !canUpdate(actor.ID, task, tab, channel) {
		return Result{}, errPermission()
	}

	value, verr := coerceValue(intent.Field, intent.Value)
	if verr != nil {
		return Result{}, verr
	}

	previous := fieldValue(task, intent.Field)

	updated, err := c.store.UpdateTaskField(ctx, intent.TaskID, intent.Field, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, errNotFound("task")
		}
		return Result{}, errPersistence(err)
	}

	// The write is durable from here on. Activity, notifications, search
	// indexing, and the broadcast are advisory; their failures are logged
	// and do not downgrade the success.
	newValue := fieldValue(updated, intent.Field)
	message := activity.BuildFieldChange(intent.Field, actor.Name, previous, newValue, updated.Title)
	record := store.Activity{
		ID:         c.newID("act"),
		ProjectID:  project.ID,
		TaskID:     updated.ID,
		UserID:     actor.ID,
		Action:     "task_field_updated",
		Field:      intent.Field,
		OldValue:   marshalValue(previous),
		NewValue:   marshalValue(newValue),
		ForCreator: message.ForCreator,
		ForOthers:  message.ForOthers,
		CreatedAt:  time.Now(),
	}
	if err := c.store.InsertActivity(ctx, record); err != nil {
		log.Printf("update: activity for task %s field %s: %v", updated.ID, intent.Field, err)
	}

	contextPath := channel.Name + " / " + tab.Name
	for _, n := range deriveNotifications(intent.Field, previous, newValue, task, project, actor, contextPath, message.ForOthers) {
		if err := c.store.InsertNotification(ctx, n); err != nil {
			log.Printf("update: notification for user %s: %v", n.UserID, err)
			continue
		}
		c.broadcast.EmitUserNotification(n.UserID, n)
	}

	if c.indexer != nil {
		c.indexer.IndexTask(updated)
	}

	c.broadcast.EmitTaskEvent(Event{
		TaskID:   updated.ID,
		TabID:    project.TabID,
		Field:    intent.Field,
		Previous: previous,
		New:      newValue,
		Version:  updated.Version,
		Task:     updated,
		Activity: record,
		Actor:    actor,
	})

	return Result{
		Task:     updated,
		Previous: previous,
		New:      newValue,
		Activity: record,
		Actor:    actor,
	}, nil
}

// canUpdate: tab members, channel members, current assignees, and the
// original creator may edit the task.
func canUpdate(userID string, task store.Task, tab store.Tab, channel store.Channel) bool {
	if userID == task.CreatedBy {
		return true
	}
	for _, assignee := range task.AssignedTo {
		if assignee == userID {
			return true
		}
	}
	for _, member := range tab.Members {
		if member == userID {
			return true
		}
	}
	for _, member := range channel.Members {
		if member == userID {
			return true
		}
	}
	return false
}

func loadErr(what string, err error) *Error {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound(what)
	}
	return errPersistence(err)
}

func marshalValue(value any) json.RawMessage {
	encoded, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return encoded
}
